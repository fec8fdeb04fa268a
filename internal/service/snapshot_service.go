package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/chain"
	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// BetReader is the subset of the bet contract binding the snapshot reader
// needs.
type BetReader interface {
	GetBetDetails(ctx context.Context, betID uint64) (chain.BetDetails, error)
	GetParticipants(ctx context.Context, betID uint64) ([]common.Address, error)
	HasVoted(ctx context.Context, betID uint64, user common.Address) (bool, error)
}

// SnapshotService reads bets from the contract through a short-lived cache.
type SnapshotService struct {
	reader BetReader
	cache  domain.SnapshotCache
	logger *slog.Logger
	now    func() time.Time
}

// NewSnapshotService creates a SnapshotService. cache may be nil.
func NewSnapshotService(reader BetReader, cache domain.SnapshotCache, logger *slog.Logger) *SnapshotService {
	return &SnapshotService{
		reader: reader,
		cache:  cache,
		logger: logger.With(slog.String("component", "snapshot_service")),
		now:    time.Now,
	}
}

// Snapshot returns the bet with the given id. A nil id performs no read and
// reports ok=false.
func (s *SnapshotService) Snapshot(ctx context.Context, betID *uint64) (snap domain.BetSnapshot, ok bool, err error) {
	if betID == nil {
		return domain.BetSnapshot{}, false, nil
	}
	snap, err = s.Get(ctx, *betID)
	if err != nil {
		return domain.BetSnapshot{}, false, err
	}
	return snap, true, nil
}

// Get returns the snapshot for betID, from cache when fresh. Unknown bets
// are domain.ErrNotFound; RPC and decode failures are *domain.GatewayReadError.
func (s *SnapshotService) Get(ctx context.Context, betID uint64) (domain.BetSnapshot, error) {
	if s.cache != nil {
		if snap, err := s.cache.Get(ctx, betID); err == nil {
			return snap, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "snapshot cache read failed",
				slog.Uint64("bet_id", betID),
				slog.String("error", err.Error()),
			)
		}
	}
	return s.Refresh(ctx, betID)
}

// Refresh reads the bet from chain, bypassing the cache, and back-fills it.
func (s *SnapshotService) Refresh(ctx context.Context, betID uint64) (domain.BetSnapshot, error) {
	details, err := s.reader.GetBetDetails(ctx, betID)
	if err != nil {
		return domain.BetSnapshot{}, &domain.GatewayReadError{Op: "getBetDetails", Err: err}
	}
	if !details.Exists() {
		return domain.BetSnapshot{}, fmt.Errorf("snapshot_service: bet %d: %w", betID, domain.ErrNotFound)
	}
	participants, err := s.reader.GetParticipants(ctx, betID)
	if err != nil {
		return domain.BetSnapshot{}, &domain.GatewayReadError{Op: "getParticipants", Err: err}
	}
	snap, err := details.Snapshot(betID, participants, s.now())
	if err != nil {
		return domain.BetSnapshot{}, &domain.GatewayReadError{Op: "getBetDetails", Err: err}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "snapshot cache set failed",
				slog.Uint64("bet_id", betID),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// Participants reads the participant list. Never cached.
func (s *SnapshotService) Participants(ctx context.Context, betID uint64) ([]common.Address, error) {
	out, err := s.reader.GetParticipants(ctx, betID)
	if err != nil {
		return nil, &domain.GatewayReadError{Op: "getParticipants", Err: err}
	}
	if out == nil {
		out = []common.Address{}
	}
	return out, nil
}

// HasVoted reads the vote record for (betID, account). Never cached.
func (s *SnapshotService) HasVoted(ctx context.Context, betID uint64, account common.Address) (bool, error) {
	if account == (common.Address{}) {
		return false, nil
	}
	voted, err := s.reader.HasVoted(ctx, betID, account)
	if err != nil {
		return false, &domain.GatewayReadError{Op: "hasVoted", Err: err}
	}
	return voted, nil
}

// Invalidate drops the cached snapshot. Called after every confirmed write
// that can change the bet.
func (s *SnapshotService) Invalidate(ctx context.Context, betID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, betID); err != nil {
		s.logger.WarnContext(ctx, "snapshot cache invalidate failed",
			slog.Uint64("bet_id", betID),
			slog.String("error", err.Error()),
		)
	}
}
