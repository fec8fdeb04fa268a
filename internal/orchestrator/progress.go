package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/notify"
)

// Notifier delivers user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// FlowChannel is the pub/sub channel carrying a session's flow updates.
func FlowChannel(session string) string { return "ch:flow:" + session }

// FlowStream is the durable stream a reconnecting client replays from.
func FlowStream(session string) string { return "stream:flow:" + session }

// Message is the envelope published for every flow update.
type Message struct {
	Type  string `json:"type"`
	State State  `json:"state"`
	Toast string `json:"toast,omitempty"`
}

// Reporter fans flow progress out to the signal bus, notifications and the
// audit log. Every collaborator is optional and failures are only logged.
type Reporter struct {
	bus      domain.SignalBus
	notifier Notifier
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewReporter creates a Reporter.
func NewReporter(bus domain.SignalBus, notifier Notifier, audit domain.AuditStore, logger *slog.Logger) *Reporter {
	return &Reporter{
		bus:      bus,
		notifier: notifier,
		audit:    audit,
		logger:   logger.With(slog.String("component", "flow_reporter")),
	}
}

// Stage reports entry into a stage.
func (r *Reporter) Stage(ctx context.Context, st State) {
	if r == nil {
		return
	}
	r.logger.InfoContext(ctx, "flow stage",
		slog.String("flow_id", st.ID),
		slog.String("kind", string(st.Kind)),
		slog.String("stage", string(st.Stage)),
		slog.String("tx_hash", st.TxHash),
	)
	r.publish(ctx, Message{Type: "flow.stage", State: st})
	r.auditLog(ctx, "flow.stage", st)
}

// Failed reports a stage failure and raises a flow_failed notification.
func (r *Reporter) Failed(ctx context.Context, st State) {
	if r == nil {
		return
	}
	r.logger.ErrorContext(ctx, "flow failed",
		slog.String("flow_id", st.ID),
		slog.String("kind", string(st.Kind)),
		slog.String("stage", string(st.FailedStage)),
		slog.String("tx_hash", st.TxHash),
		slog.String("error", st.Error),
	)
	toast := string(st.FailedStage) + " failed: " + st.Error
	r.publish(ctx, Message{Type: "flow.failed", State: st, Toast: toast})
	r.auditLog(ctx, "flow.failed", st)
	r.notify(ctx, notify.Event{
		Type:    notify.EventFlowFailed,
		Title:   string(st.Kind) + " flow failed at " + string(st.FailedStage),
		Message: st.Error,
		BetID:   st.BetID,
		TxHash:  st.TxHash,
	})
}

// Completed reports success and raises the given notification event.
func (r *Reporter) Completed(ctx context.Context, st State, event, title string) {
	if r == nil {
		return
	}
	r.logger.InfoContext(ctx, "flow complete",
		slog.String("flow_id", st.ID),
		slog.String("kind", string(st.Kind)),
		slog.String("tx_hash", st.TxHash),
	)
	r.publish(ctx, Message{Type: "flow.complete", State: st, Toast: title})
	r.auditLog(ctx, "flow.complete", st)
	r.notify(ctx, notify.Event{Type: event, Title: title, BetID: st.BetID, TxHash: st.TxHash})
}

func (r *Reporter) publish(ctx context.Context, msg Message) {
	if r.bus == nil || msg.State.Session == "" {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.ErrorContext(ctx, "marshal flow message", slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Publish(ctx, FlowChannel(msg.State.Session), payload); err != nil {
		r.logger.WarnContext(ctx, "flow publish failed", slog.String("error", err.Error()))
	}
	if err := r.bus.StreamAppend(ctx, FlowStream(msg.State.Session), payload); err != nil {
		r.logger.WarnContext(ctx, "flow stream append failed", slog.String("error", err.Error()))
	}
}

func (r *Reporter) notify(ctx context.Context, ev notify.Event) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func (r *Reporter) auditLog(ctx context.Context, event string, st State) {
	if r.audit == nil {
		return
	}
	detail := map[string]any{
		"flow_id": st.ID,
		"kind":    string(st.Kind),
		"stage":   string(st.Stage),
	}
	if st.Failed {
		detail["failed_stage"] = string(st.FailedStage)
		detail["error"] = st.Error
	}
	if st.BetID != nil {
		detail["bet_id"] = *st.BetID
	}
	if st.TxHash != "" {
		detail["tx_hash"] = st.TxHash
	}
	if st.CID != "" {
		detail["cid"] = st.CID
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
