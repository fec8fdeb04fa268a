package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// LookupService serves the sports league and team lists used by the
// SPORTS bet template.
type LookupService struct {
	store domain.LookupStore
}

// NewLookupService creates a LookupService.
func NewLookupService(store domain.LookupStore) *LookupService {
	return &LookupService{store: store}
}

// Leagues lists the leagues of a sport.
func (s *LookupService) Leagues(ctx context.Context, sportID string) ([]domain.League, error) {
	sportID = strings.TrimSpace(sportID)
	if sportID == "" {
		return nil, &domain.ValidationError{Field: "sportId", Msg: "Missing sportId"}
	}
	out, err := s.store.Leagues(ctx, strings.ToLower(sportID))
	if err != nil {
		return nil, fmt.Errorf("lookup_service: leagues %s: %w", sportID, err)
	}
	return out, nil
}

// Teams lists the teams of a league. sportID selects the per-sport table and
// may be empty.
func (s *LookupService) Teams(ctx context.Context, sportID, leagueID string) ([]domain.Team, error) {
	leagueID = strings.TrimSpace(leagueID)
	if leagueID == "" {
		return nil, &domain.ValidationError{Field: "leagueId", Msg: "Missing leagueId"}
	}
	out, err := s.store.Teams(ctx, strings.ToLower(strings.TrimSpace(sportID)), leagueID)
	if err != nil {
		return nil, fmt.Errorf("lookup_service: teams %s: %w", leagueID, err)
	}
	return out, nil
}
