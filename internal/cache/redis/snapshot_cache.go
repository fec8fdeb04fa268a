package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

const defaultSnapshotTTL = 15 * time.Second

// SnapshotCache implements domain.SnapshotCache. Each bet is a hash under
// bet:{chainID}:{betID} with the JSON snapshot in field "data".
type SnapshotCache struct {
	c       *Client
	chainID string
	ttl     time.Duration
}

// NewSnapshotCache creates a SnapshotCache for one chain. ttl <= 0 uses 15s.
func NewSnapshotCache(c *Client, chainID uint64, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{c: c, chainID: strconv.FormatUint(chainID, 10), ttl: ttl}
}

func (sc *SnapshotCache) betKey(id uint64) string {
	return sc.c.key("bet", sc.chainID, strconv.FormatUint(id, 10))
}

// Set stores snap until the TTL expires.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.BetSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal bet %d: %w", snap.ID, err)
	}
	key := sc.betKey(snap.ID)
	pipe := sc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, sc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set bet %d: %w", snap.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (sc *SnapshotCache) Get(ctx context.Context, betID uint64) (domain.BetSnapshot, error) {
	data, err := sc.c.rdb.HGet(ctx, sc.betKey(betID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BetSnapshot{}, domain.ErrNotFound
		}
		return domain.BetSnapshot{}, fmt.Errorf("redis: get bet %d: %w", betID, err)
	}
	var snap domain.BetSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BetSnapshot{}, fmt.Errorf("redis: unmarshal bet %d: %w", betID, err)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot of betID.
func (sc *SnapshotCache) Invalidate(ctx context.Context, betID uint64) error {
	if err := sc.c.rdb.Del(ctx, sc.betKey(betID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate bet %d: %w", betID, err)
	}
	return nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
