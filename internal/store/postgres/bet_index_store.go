package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// BetIndexStore implements domain.BetIndexStore.
type BetIndexStore struct {
	pool *pgxpool.Pool
}

// NewBetIndexStore creates a BetIndexStore backed by the given connection pool.
func NewBetIndexStore(pool *pgxpool.Pool) *BetIndexStore {
	return &BetIndexStore{pool: pool}
}

// Record upserts an entry keyed by tx hash. A later Record for the same hash
// fills in a bet ID that was missing before.
func (s *BetIndexStore) Record(ctx context.Context, e domain.BetIndexEntry) error {
	const query = `
		INSERT INTO bet_index (chain_id, bet_id, tx_hash, creator, cid, last_phase)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO UPDATE SET
			bet_id     = COALESCE(EXCLUDED.bet_id, bet_index.bet_id),
			cid        = COALESCE(NULLIF(EXCLUDED.cid, ''), bet_index.cid),
			last_phase = COALESCE(NULLIF(EXCLUDED.last_phase, ''), bet_index.last_phase),
			updated_at = NOW()`

	var betID *int64
	if e.BetID != nil {
		v := int64(*e.BetID)
		betID = &v
	}
	if _, err := s.pool.Exec(ctx, query, int64(e.ChainID), betID, e.TxHash, e.Creator, e.Cid, e.LastPhase); err != nil {
		return fmt.Errorf("postgres: record bet tx %s: %w", e.TxHash, err)
	}
	return nil
}

// GetByTx returns domain.ErrNotFound for an unknown hash.
func (s *BetIndexStore) GetByTx(ctx context.Context, txHash string) (domain.BetIndexEntry, error) {
	const query = `
		SELECT id, chain_id, bet_id, tx_hash, creator, cid, last_phase, created_at, updated_at
		FROM bet_index WHERE tx_hash = $1`
	e, err := scanBetIndex(s.pool.QueryRow(ctx, query, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BetIndexEntry{}, domain.ErrNotFound
		}
		return domain.BetIndexEntry{}, fmt.Errorf("postgres: get bet tx %s: %w", txHash, err)
	}
	return e, nil
}

// ListTracked returns one entry per bet on chainID whose last observed phase
// is not terminal. Creates and joins of the same bet collapse to the most
// recently updated row.
func (s *BetIndexStore) ListTracked(ctx context.Context, chainID uint64) ([]domain.BetIndexEntry, error) {
	const query = `
		SELECT DISTINCT ON (bet_id)
			id, chain_id, bet_id, tx_hash, creator, cid, last_phase, created_at, updated_at
		FROM bet_index
		WHERE chain_id = $1 AND bet_id IS NOT NULL
		  AND last_phase NOT IN ('RESOLVED', 'CANCELLED')
		ORDER BY bet_id, updated_at DESC`
	rows, err := s.pool.Query(ctx, query, int64(chainID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracked bets: %w", err)
	}
	defer rows.Close()

	var out []domain.BetIndexEntry
	for rows.Next() {
		e, err := scanBetIndex(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet index: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tracked bets rows: %w", err)
	}
	return out, nil
}

// UpdatePhase stores the last phase the watcher observed for a bet.
func (s *BetIndexStore) UpdatePhase(ctx context.Context, chainID, betID uint64, phase string) error {
	const query = `UPDATE bet_index SET last_phase = $3, updated_at = NOW() WHERE chain_id = $1 AND bet_id = $2`
	tag, err := s.pool.Exec(ctx, query, int64(chainID), int64(betID), phase)
	if err != nil {
		return fmt.Errorf("postgres: update phase bet %d: %w", betID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanBetIndex(row pgx.Row) (domain.BetIndexEntry, error) {
	var (
		e       domain.BetIndexEntry
		chainID int64
		betID   *int64
	)
	if err := row.Scan(&e.ID, &chainID, &betID, &e.TxHash, &e.Creator, &e.Cid, &e.LastPhase, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.BetIndexEntry{}, err
	}
	e.ChainID = uint64(chainID)
	if betID != nil {
		v := uint64(*betID)
		e.BetID = &v
	}
	return e, nil
}

var _ domain.BetIndexStore = (*BetIndexStore)(nil)
