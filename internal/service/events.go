package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// EventNotifier delivers lifecycle events to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.LifecycleEvent, detail string) error
}

// Events fans a lifecycle event out to the signal bus, the audit log and the
// notifier. Every sink is optional and failures are logged, never returned:
// the lifecycle step that produced the event has already happened.
type Events struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier EventNotifier
	logger   *slog.Logger
}

// NewEvents creates an Events. Any of bus, audit and notifier may be nil.
func NewEvents(bus domain.SignalBus, audit domain.AuditStore, notifier EventNotifier, logger *slog.Logger) *Events {
	return &Events{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Emit publishes ev on channel (skipped when channel is empty), writes an
// audit row with detail, and notifies with note.
func (e *Events) Emit(ctx context.Context, channel string, ev domain.LifecycleEvent, detail map[string]any, note string) {
	if e == nil {
		return
	}
	log := e.logger.With(slog.String("event", string(ev.Type)), slog.String("market_id", ev.MarketID))

	if e.bus != nil && channel != "" {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = e.bus.Publish(ctx, channel, payload)
		}
		if err != nil {
			log.WarnContext(ctx, "publish event failed", slog.String("error", err.Error()))
		}
	}

	e.audited(ctx, log, ev, detail)

	if e.notifier != nil {
		if err := e.notifier.NotifyEvent(ctx, ev, note); err != nil {
			log.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

// Audit only writes the audit row for ev.
func (e *Events) Audit(ctx context.Context, ev domain.LifecycleEvent, detail map[string]any) {
	if e == nil {
		return
	}
	e.audited(ctx, e.logger.With(slog.String("event", string(ev.Type))), ev, detail)
}

func (e *Events) audited(ctx context.Context, log *slog.Logger, ev domain.LifecycleEvent, detail map[string]any) {
	if e.audit == nil {
		return
	}
	row := make(map[string]any, len(detail)+1)
	if ev.MarketID != "" {
		row["market_id"] = ev.MarketID
	}
	for k, v := range detail {
		row[k] = v
	}
	if err := e.audit.Log(ctx, string(ev.Type), row); err != nil {
		log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
