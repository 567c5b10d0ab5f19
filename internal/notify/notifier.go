// Package notify fans lifecycle alerts out to operator channels such as
// Telegram and Discord, filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender. Only events in the allowed set are
// forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title and message for event if the filter allows it.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// NotifyEvent renders a lifecycle event and sends it.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.LifecycleEvent, detail string) error {
	title, message := Render(ev, detail)
	return n.Notify(ctx, string(ev.Type), title, message)
}

// Render formats a lifecycle event as a title and plain-text body. detail is
// appended verbatim; callers must not pass secrets.
func Render(ev domain.LifecycleEvent, detail string) (title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Market: %s\n", ev.MarketID)
	if ev.Hash != "" {
		fmt.Fprintf(&b, "Commitment: %s\n", ev.Hash)
	}
	if ev.Outcome != "" {
		fmt.Fprintf(&b, "Outcome: %s\n", ev.Outcome)
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "At: %s\n", ev.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if detail != "" {
		b.WriteString(detail)
	}

	switch ev.Type {
	case domain.EventMarketCreated:
		title = "Secret market created"
	case domain.EventMarketResolved:
		title = "Secret market resolved"
	case domain.EventCriteriaDisclosed:
		title = "Criteria disclosed"
	case domain.EventMarketOrphaned:
		title = "Market created without a record"
	case domain.EventReconcileSweep:
		title = "Reconciliation sweep"
	default:
		title = string(ev.Type)
	}
	return title, strings.TrimRight(b.String(), "\n")
}
