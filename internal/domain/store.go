package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LookupStore reads the sports league/team tables.
type LookupStore interface {
	Leagues(ctx context.Context, sport string) ([]League, error)
	Teams(ctx context.Context, sport, leagueID string) ([]Team, error)
}

// BetIndexStore tracks bets created or joined through this deployment.
type BetIndexStore interface {
	Record(ctx context.Context, entry BetIndexEntry) error
	GetByTx(ctx context.Context, txHash string) (BetIndexEntry, error)
	ListTracked(ctx context.Context, chainID uint64) ([]BetIndexEntry, error)
	UpdatePhase(ctx context.Context, chainID, betID uint64, phase string) error
}

// AuditEntry is a single append-only audit record.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
