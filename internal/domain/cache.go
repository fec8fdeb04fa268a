package domain

import (
	"context"
	"time"
)

// SnapshotCache holds recently read bet snapshots. Entries are invalidated
// after every write that can change the bet, never patched in place.
type SnapshotCache interface {
	Set(ctx context.Context, snap BetSnapshot) error
	Get(ctx context.Context, betID uint64) (BetSnapshot, error)
	Invalidate(ctx context.Context, betID uint64) error
}

// PreferenceStore persists per-session UI preferences.
type PreferenceStore interface {
	Get(ctx context.Context, session, key string) (string, error)
	Set(ctx context.Context, session, key, value string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
