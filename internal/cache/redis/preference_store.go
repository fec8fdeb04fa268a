package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// PreferenceStore implements domain.PreferenceStore as one hash per session
// under prefs:{session}. Idle sessions expire after ttl.
type PreferenceStore struct {
	c   *Client
	ttl time.Duration
}

// NewPreferenceStore creates a PreferenceStore. ttl <= 0 keeps preferences forever.
func NewPreferenceStore(c *Client, ttl time.Duration) *PreferenceStore {
	return &PreferenceStore{c: c, ttl: ttl}
}

// Get returns domain.ErrNotFound when key was never set for session.
func (ps *PreferenceStore) Get(ctx context.Context, session, key string) (string, error) {
	v, err := ps.c.rdb.HGet(ctx, ps.c.key("prefs", session), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: get preference %s: %w", key, err)
	}
	return v, nil
}

// Set stores value and refreshes the session's expiry.
func (ps *PreferenceStore) Set(ctx context.Context, session, key, value string) error {
	k := ps.c.key("prefs", session)
	pipe := ps.c.rdb.TxPipeline()
	pipe.HSet(ctx, k, key, value)
	if ps.ttl > 0 {
		pipe.Expire(ctx, k, ps.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set preference %s: %w", key, err)
	}
	return nil
}

var _ domain.PreferenceStore = (*PreferenceStore)(nil)
