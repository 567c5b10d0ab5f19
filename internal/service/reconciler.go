package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

const reconcileLockKey = "reconcile"

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Replayed       int      `json:"replayed"`
	AlreadyPresent int      `json:"already_present"`
	Failed         int      `json:"failed"`
	Missing        []string `json:"missing"`
	Checked        int      `json:"checked"`
}

// Reconciler repairs the gap left when an external market was created but
// its record was not stored. It replays the orphan journal into the store and
// reports stored records whose external market has disappeared.
type Reconciler struct {
	store      domain.RecordStore
	journal    domain.OrphanJournal
	platform   domain.MarketPlatform
	locks      domain.LockManager
	events     *Events
	lockTTL    time.Duration
	checkLimit int
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler. journal and locks may be nil; without
// a journal only the platform check runs, and without locks concurrent
// sweeps are not prevented. checkLimit caps how many unrevealed records are
// checked against the platform per sweep (0 = all).
func NewReconciler(
	store domain.RecordStore,
	journal domain.OrphanJournal,
	platform domain.MarketPlatform,
	locks domain.LockManager,
	events *Events,
	checkLimit int,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:      store,
		journal:    journal,
		platform:   platform,
		locks:      locks,
		events:     events,
		lockTTL:    5 * time.Minute,
		checkLimit: checkLimit,
		logger:     logger.With(slog.String("component", "reconciler")),
	}
}

// Sweep runs one pass. It returns domain.ErrLockHeld (wrapped) when another
// sweep is in progress.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, reconcileLockKey, r.lockTTL)
		if err != nil {
			return SweepReport{}, fmt.Errorf("service: reconcile: %w", err)
		}
		defer unlock()
	}

	report := SweepReport{Missing: []string{}}
	if err := r.replayJournal(ctx, &report); err != nil {
		return report, err
	}
	if err := r.checkPlatform(ctx, &report); err != nil {
		return report, err
	}

	ev := domain.LifecycleEvent{Type: domain.EventReconcileSweep, At: time.Now().UTC()}
	detail := map[string]any{
		"replayed":        report.Replayed,
		"already_present": report.AlreadyPresent,
		"failed":          report.Failed,
		"missing":         report.Missing,
		"checked":         report.Checked,
	}
	// Quiet sweeps are audited but not announced.
	if note := sweepNote(report); note != "" {
		r.events.Emit(ctx, "", ev, detail, note)
	} else {
		r.events.Audit(ctx, ev, detail)
	}

	r.logger.InfoContext(ctx, "reconcile sweep done",
		slog.Int("replayed", report.Replayed),
		slog.Int("already_present", report.AlreadyPresent),
		slog.Int("failed", report.Failed),
		slog.Int("missing", len(report.Missing)),
		slog.Int("checked", report.Checked),
	)
	return report, nil
}

func (r *Reconciler) replayJournal(ctx context.Context, report *SweepReport) error {
	if r.journal == nil {
		return nil
	}
	pending, err := r.journal.Pending(ctx)
	if err != nil {
		return fmt.Errorf("service: reconcile: read journal: %w", err)
	}

	for _, rec := range pending {
		log := r.logger.With(slog.String("market_id", rec.ID))
		err := r.store.Insert(ctx, rec)
		switch {
		case err == nil:
			report.Replayed++
		case errors.Is(err, domain.ErrAlreadyExists):
			report.AlreadyPresent++
		default:
			report.Failed++
			log.WarnContext(ctx, "replay failed", slog.String("error", err.Error()))
			continue
		}
		if err := r.journal.Resolve(ctx, rec.ID); err != nil {
			log.WarnContext(ctx, "clear journal entry failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Reconciler) checkPlatform(ctx context.Context, report *SweepReport) error {
	if r.platform == nil {
		return nil
	}
	recs, err := r.store.ListUnrevealed(ctx, domain.ListOpts{Limit: r.checkLimit})
	if err != nil {
		return fmt.Errorf("service: reconcile: list unrevealed: %w", err)
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Checked++
		_, err := r.platform.GetMarket(ctx, rec.ID)
		if errors.Is(err, domain.ErrNotFound) {
			report.Missing = append(report.Missing, rec.ID)
			continue
		}
		if err != nil {
			r.logger.WarnContext(ctx, "platform check failed",
				slog.String("market_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				r.logger.DebugContext(ctx, "sweep skipped: lock held elsewhere")
			} else if ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func sweepNote(r SweepReport) string {
	if r.Replayed == 0 && r.Failed == 0 && len(r.Missing) == 0 {
		return ""
	}
	return fmt.Sprintf("replayed=%d failed=%d missing=%v", r.Replayed, r.Failed, r.Missing)
}
