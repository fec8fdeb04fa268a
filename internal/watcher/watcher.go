// Package watcher polls tracked bets and announces lifecycle phase changes.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/lifecycle"
	"github.com/alanyoungcy/amongfriends/internal/notify"
)

// PhasePattern matches every bet's phase channel.
const PhasePattern = "ch:phase:*"

// PhaseChannel is the pub/sub channel for a bet's phase changes.
func PhaseChannel(betID uint64) string {
	return "ch:phase:" + strconv.FormatUint(betID, 10)
}

// Snapshots reads bets straight from chain.
type Snapshots interface {
	Refresh(ctx context.Context, betID uint64) (domain.BetSnapshot, error)
}

// Notifier delivers phase notifications.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// Transition is published whenever a tracked bet changes phase.
type Transition struct {
	BetID   uint64             `json:"betId"`
	From    string             `json:"from"`
	To      lifecycle.Phase    `json:"to"`
	Outcome *lifecycle.Outcome `json:"outcome,omitempty"`
	At      time.Time          `json:"at"`
}

// Watcher re-reads every tracked bet on an interval.
type Watcher struct {
	index    domain.BetIndexStore
	snaps    Snapshots
	bus      domain.SignalBus
	notifier Notifier
	chainID  uint64
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Watcher. bus and notifier may be nil.
func New(
	index domain.BetIndexStore,
	snaps Snapshots,
	bus domain.SignalBus,
	notifier Notifier,
	chainID uint64,
	interval time.Duration,
	logger *slog.Logger,
) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		index:    index,
		snaps:    snaps,
		bus:      bus,
		notifier: notifier,
		chainID:  chainID,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "phase_watcher")),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.Check(ctx); err != nil {
			w.logger.ErrorContext(ctx, "phase check failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Check runs one pass and returns the transitions it found.
func (w *Watcher) Check(ctx context.Context) ([]Transition, error) {
	tracked, err := w.index.ListTracked(ctx, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("watcher: list tracked: %w", err)
	}

	var out []Transition
	for _, e := range tracked {
		if e.BetID == nil {
			continue
		}
		betID := *e.BetID
		snap, err := w.snaps.Refresh(ctx, betID)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, domain.ErrNotFound) {
				level = slog.LevelDebug
			}
			w.logger.Log(ctx, level, "bet read failed",
				slog.Uint64("bet_id", betID),
				slog.String("error", err.Error()),
			)
			continue
		}

		phase := lifecycle.Classify(snap.Status, snap.VoteDeadline, w.now().Unix())
		if string(phase) == e.LastPhase {
			continue
		}
		if err := w.index.UpdatePhase(ctx, w.chainID, betID, string(phase)); err != nil {
			w.logger.ErrorContext(ctx, "phase update failed",
				slog.Uint64("bet_id", betID),
				slog.String("error", err.Error()),
			)
			continue
		}

		t := Transition{BetID: betID, From: e.LastPhase, To: phase, At: w.now().UTC()}
		if phase == lifecycle.PhaseResolved {
			o := lifecycle.DecodeOutcome(snap.FinalOutcome, snap.Participants...)
			t.Outcome = &o
		}
		w.announce(ctx, t)
		out = append(out, t)
	}
	return out, nil
}

func (w *Watcher) announce(ctx context.Context, t Transition) {
	w.logger.InfoContext(ctx, "phase changed",
		slog.Uint64("bet_id", t.BetID),
		slog.String("from", t.From),
		slog.String("to", string(t.To)),
	)

	if w.bus != nil {
		payload, err := json.Marshal(map[string]any{"type": "phase", "transition": t})
		if err == nil {
			if err := w.bus.Publish(ctx, PhaseChannel(t.BetID), payload); err != nil {
				w.logger.WarnContext(ctx, "phase publish failed", slog.String("error", err.Error()))
			}
		}
	}

	if w.notifier == nil {
		return
	}
	betID := t.BetID
	ev := notify.Event{
		Type:    notify.EventPhaseChanged,
		Title:   fmt.Sprintf("Bet #%d is now %s", betID, t.To),
		Message: fmt.Sprintf("%s -> %s", phaseOrNew(t.From), t.To),
		BetID:   &betID,
	}
	if t.Outcome != nil {
		ev.Type = notify.EventBetResolved
		ev.Message = "Outcome: " + t.Outcome.Label
	}
	if err := w.notifier.Notify(ctx, ev); err != nil {
		w.logger.WarnContext(ctx, "phase notify failed", slog.String("error", err.Error()))
	}
}

func phaseOrNew(p string) string {
	if p == "" {
		return "NEW"
	}
	return p
}
