package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// Sports with dedicated tables. Anything else reads the generic
// leagues/teams tables.
var sportTables = map[string]struct{ leagues, teams string }{
	"baseball":   {"baseball_leagues", "baseball_teams"},
	"football":   {"football_leagues", "football_teams"},
	"hockey":     {"hockey_leagues", "hockey_teams"},
	"soccer":     {"soccer_leagues", "soccer_teams"},
	"basketball": {"basketball_leagues", "basketball_teams"},
}

func tablesFor(sport string) (leagues, teams string) {
	if t, ok := sportTables[sport]; ok {
		return t.leagues, t.teams
	}
	return "leagues", "teams"
}

// LookupStore implements domain.LookupStore over the sports tables.
type LookupStore struct {
	pool *pgxpool.Pool
}

// NewLookupStore creates a LookupStore backed by the given connection pool.
func NewLookupStore(pool *pgxpool.Pool) *LookupStore {
	return &LookupStore{pool: pool}
}

// Leagues lists all leagues of sport ordered by name.
func (s *LookupStore) Leagues(ctx context.Context, sport string) ([]domain.League, error) {
	table, _ := tablesFor(sport)
	// table comes from the fixed map above, never from input.
	query := fmt.Sprintf(`SELECT id::text, name, COALESCE(logo_url, '') FROM %s ORDER BY name`, table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list leagues %s: %w", sport, err)
	}
	defer rows.Close()

	leagues := []domain.League{}
	for rows.Next() {
		var l domain.League
		if err := rows.Scan(&l.ID, &l.Name, &l.LogoURL); err != nil {
			return nil, fmt.Errorf("postgres: scan league: %w", err)
		}
		leagues = append(leagues, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list leagues rows: %w", err)
	}
	return leagues, nil
}

// Teams lists the teams of leagueID ordered by name.
func (s *LookupStore) Teams(ctx context.Context, sport, leagueID string) ([]domain.Team, error) {
	_, table := tablesFor(sport)
	query := fmt.Sprintf(
		`SELECT id::text, name, COALESCE(logo_url, ''), league_id::text FROM %s WHERE league_id::text = $1 ORDER BY name`,
		table,
	)

	rows, err := s.pool.Query(ctx, query, leagueID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list teams %s/%s: %w", sport, leagueID, err)
	}
	defer rows.Close()

	teams := []domain.Team{}
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.LogoURL, &t.LeagueID); err != nil {
			return nil, fmt.Errorf("postgres: scan team: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list teams rows: %w", err)
	}
	return teams, nil
}

var _ domain.LookupStore = (*LookupStore)(nil)
