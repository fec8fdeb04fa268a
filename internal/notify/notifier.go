// Package notify fans bet lifecycle notifications out to chat senders
// (Telegram, Discord). Operators choose which event types they receive.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event types.
const (
	EventFlowFailed   = "flow_failed"
	EventBetCreated   = "bet_created"
	EventBetJoined    = "bet_joined"
	EventVoteCast     = "vote_cast"
	EventBetResolved  = "bet_resolved"
	EventPhaseChanged = "phase_changed"
)

// Known lists every event type, in display order.
var Known = []string{
	EventFlowFailed, EventBetCreated, EventBetJoined,
	EventVoteCast, EventBetResolved, EventPhaseChanged,
}

// Event is a single notification.
type Event struct {
	Type    string
	Title   string
	Message string
	BetID   *uint64
	TxHash  string
}

// Severe reports whether the event reports a failure.
func (e Event) Severe() bool { return e.Type == EventFlowFailed }

// Sender delivers events to one channel.
type Sender interface {
	Send(ctx context.Context, ev Event) error
	Name() string
}

// Notifier forwards events to every sender. An empty event filter lets all
// event types through.
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

// Allowed reports whether events of this type are forwarded.
func (n *Notifier) Allowed(eventType string) bool {
	return len(n.events) == 0 || n.events[eventType]
}

// Notify delivers ev to all senders if its type passes the filter. A failing
// sender does not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if !n.Allowed(ev.Type) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Type))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", ev.Type),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// body renders the message with the bet and transaction references appended.
func body(ev Event) string {
	var b strings.Builder
	b.WriteString(ev.Message)
	if ev.BetID != nil {
		fmt.Fprintf(&b, "\nbet #%d", *ev.BetID)
	}
	if ev.TxHash != "" {
		fmt.Fprintf(&b, "\ntx %s", ev.TxHash)
	}
	return b.String()
}
