package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// LookupService serves the league and team tables.
type LookupService interface {
	Leagues(ctx context.Context, sportID string) ([]domain.League, error)
	Teams(ctx context.Context, sportID, leagueID string) ([]domain.Team, error)
}

// LookupHandler serves the sports lookup endpoints.
type LookupHandler struct {
	lookup LookupService
	logger *slog.Logger
}

func NewLookupHandler(lookup LookupService, logger *slog.Logger) *LookupHandler {
	return &LookupHandler{lookup: lookup, logger: logHandler(logger, "lookup")}
}

// Leagues lists the leagues of a sport.
// GET /api/leagues?sportId=
func (h *LookupHandler) Leagues(w http.ResponseWriter, r *http.Request) {
	leagues, err := h.lookup.Leagues(r.Context(), r.URL.Query().Get("sportId"))
	if err != nil {
		h.fail(w, r, err, "list leagues")
		return
	}
	if leagues == nil {
		leagues = []domain.League{}
	}
	writeJSON(w, http.StatusOK, leagues)
}

// Teams lists the teams of a league.
// GET /api/teams?leagueId=&sportId=
func (h *LookupHandler) Teams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	teams, err := h.lookup.Teams(r.Context(), q.Get("sportId"), q.Get("leagueId"))
	if err != nil {
		h.fail(w, r, err, "list teams")
		return
	}
	if teams == nil {
		teams = []domain.Team{}
	}
	writeJSON(w, http.StatusOK, teams)
}

// fail keeps the lookup error body to a bare {"error": msg}.
func (h *LookupHandler) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Msg)
		return
	}
	writeServiceError(w, r, h.logger, err, what)
}
