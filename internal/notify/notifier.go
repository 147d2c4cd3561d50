// Package notify delivers operator notifications for escrow events to
// Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/stakeescrow/internal/amount"
	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every sender. Notify only forwards
// event kinds in the allow list; an empty list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends when event passes the allow list.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends regardless of the allow list.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// NotifyEvent formats a program event and sends it through Notify. Event
// kinds without an operator message are ignored.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	title, message, ok := FormatEvent(ev)
	if !ok {
		return nil
	}
	return n.Notify(ctx, string(ev.Kind), title, message)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// FormatEvent renders ev for humans.
func FormatEvent(ev domain.Event) (title, message string, ok bool) {
	switch ev.Kind {
	case domain.EventMatchSettled:
		return fmt.Sprintf("Match %d settled", ev.MatchID),
			fmt.Sprintf("Winner %s receives %s (fee %s at %d%%)",
				ev.Actor.Short(), amount.Format(ev.Amount), amount.Format(ev.Fee), ev.FeePercentage), true
	case domain.EventMatchCancelled:
		return fmt.Sprintf("Match %d cancelled", ev.MatchID),
			fmt.Sprintf("Refunded %s to %s", amount.Format(ev.Amount), ev.Actor.Short()), true
	case domain.EventFeesWithdrawn:
		return "Fees withdrawn",
			fmt.Sprintf("Admin %s withdrew %s", ev.Actor.Short(), amount.Format(ev.Amount)), true
	case domain.EventMatchCreated:
		return fmt.Sprintf("Match %d created", ev.MatchID),
			fmt.Sprintf("%s staked %s", ev.Actor.Short(), amount.Format(ev.Amount)), true
	case domain.EventMatchJoined:
		return fmt.Sprintf("Match %d joined", ev.MatchID),
			fmt.Sprintf("%s matched the stake of %s", ev.Actor.Short(), amount.Format(ev.Amount)), true
	case domain.EventPlatformInitialized:
		return "Platform initialized",
			fmt.Sprintf("Admin %s, fee %d%%", ev.Actor.Short(), ev.FeePercentage), true
	default:
		return "", "", false
	}
}
