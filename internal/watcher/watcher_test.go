package watcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/lifecycle"
	"github.com/alanyoungcy/amongfriends/internal/notify"
)

type memIndex struct {
	entries []domain.BetIndexEntry
	updates map[uint64]string
}

func (m *memIndex) Record(context.Context, domain.BetIndexEntry) error { return nil }

func (m *memIndex) GetByTx(context.Context, string) (domain.BetIndexEntry, error) {
	return domain.BetIndexEntry{}, domain.ErrNotFound
}

func (m *memIndex) ListTracked(context.Context, uint64) ([]domain.BetIndexEntry, error) {
	return m.entries, nil
}

func (m *memIndex) UpdatePhase(_ context.Context, _ uint64, betID uint64, phase string) error {
	m.updates[betID] = phase
	for i := range m.entries {
		if m.entries[i].BetID != nil && *m.entries[i].BetID == betID {
			m.entries[i].LastPhase = phase
		}
	}
	return nil
}

type mapSnaps map[uint64]domain.BetSnapshot

func (m mapSnaps) Refresh(_ context.Context, id uint64) (domain.BetSnapshot, error) {
	s, ok := m[id]
	if !ok {
		return domain.BetSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

type busRecorder struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (b *busRecorder) Publish(_ context.Context, ch string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs[ch] = append(b.msgs[ch], payload)
	return nil
}

func (b *busRecorder) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *busRecorder) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *busRecorder) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type notifyRecorder struct{ events []notify.Event }

func (n *notifyRecorder) Notify(_ context.Context, ev notify.Event) error {
	n.events = append(n.events, ev)
	return nil
}

func ptr(v uint64) *uint64 { return &v }

func TestCheckPublishesTransitions(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	winner := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	idx := &memIndex{
		entries: []domain.BetIndexEntry{
			{BetID: ptr(1), LastPhase: string(lifecycle.PhaseJoining)},
			{BetID: ptr(2), LastPhase: string(lifecycle.PhaseVoting)},
			{BetID: ptr(3), LastPhase: string(lifecycle.PhaseJoining)},
			{BetID: nil, TxHash: "0xorphan"},
			{BetID: ptr(404), LastPhase: string(lifecycle.PhaseJoining)},
		},
		updates: map[uint64]string{},
	}
	snaps := mapSnaps{
		1: {ID: 1, Status: domain.BetStatusActive, VoteDeadline: now.Add(-time.Second).Unix()},
		2: {
			ID: 2, Status: domain.BetStatusResolved, VoteDeadline: now.Add(-time.Hour).Unix(),
			FinalOutcome: common.BytesToHash(winner.Bytes()), Participants: []common.Address{winner},
		},
		3: {ID: 3, Status: domain.BetStatusCreated, VoteDeadline: now.Add(time.Hour).Unix()},
	}
	bus := &busRecorder{msgs: map[string][][]byte{}}
	nr := &notifyRecorder{}

	w := New(idx, snaps, bus, nr, 84532, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.now = func() time.Time { return now }

	got, err := w.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, lifecycle.PhaseVoting, got[0].To)
	assert.Equal(t, lifecycle.PhaseResolved, got[1].To)
	require.NotNil(t, got[1].Outcome)
	assert.Equal(t, winner, *got[1].Outcome.Winner)

	assert.Equal(t, map[uint64]string{1: "VOTING", 2: "RESOLVED"}, idx.updates)
	require.Len(t, bus.msgs[PhaseChannel(1)], 1)
	var msg struct {
		Type       string     `json:"type"`
		Transition Transition `json:"transition"`
	}
	require.NoError(t, json.Unmarshal(bus.msgs[PhaseChannel(1)][0], &msg))
	assert.Equal(t, "phase", msg.Type)
	assert.Equal(t, "JOINING", msg.Transition.From)

	require.Len(t, nr.events, 2)
	assert.Equal(t, notify.EventPhaseChanged, nr.events[0].Type)
	assert.Equal(t, notify.EventBetResolved, nr.events[1].Type)

	// A second pass sees no change.
	got, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
