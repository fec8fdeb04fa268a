package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/service"
)

// UserBets lists the bet IDs an account takes part in.
type UserBets interface {
	GetUserBets(ctx context.Context, user common.Address) ([]uint64, error)
}

// PreferenceHandler serves the per-session client state: theme, cached
// wager list and selected wager.
type PreferenceHandler struct {
	state  *service.AppState
	bets   UserBets
	snaps  BetSnapshots
	wallet WalletInfo
	logger *slog.Logger
}

func NewPreferenceHandler(state *service.AppState, bets UserBets, snaps BetSnapshots, wallet WalletInfo, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		state:  state,
		bets:   bets,
		snaps:  snaps,
		wallet: wallet,
		logger: logHandler(logger, "preferences"),
	}
}

// GetTheme returns the session theme.
// GET /api/preferences/theme
func (h *PreferenceHandler) GetTheme(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	theme, err := h.state.Theme(r.Context(), session)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get theme")
		return
	}
	writeJSON(w, http.StatusOK, map[string]service.Theme{"theme": theme})
}

type themeRequest struct {
	Theme  service.Theme `json:"theme"`
	Toggle bool          `json:"toggle"`
}

// PutTheme sets the theme, or flips it when toggle is set.
// PUT /api/preferences/theme
func (h *PreferenceHandler) PutTheme(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req themeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err, "set theme")
		return
	}
	theme := req.Theme
	var err error
	if req.Toggle {
		theme, err = h.state.ToggleTheme(r.Context(), session)
	} else {
		err = h.state.SetTheme(r.Context(), session, theme)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err, "set theme")
		return
	}
	writeJSON(w, http.StatusOK, map[string]service.Theme{"theme": theme})
}

// Wagers returns the session's wager list, loading it from chain for the
// connected account when empty or when refresh=1.
// GET /api/wagers
func (h *PreferenceHandler) Wagers(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	wagers := h.state.Wagers(session)
	if len(wagers) == 0 || r.URL.Query().Get("refresh") == "1" {
		loaded, err := h.loadWagers(r.Context())
		if err != nil {
			writeServiceError(w, r, h.logger, err, "load wagers")
			return
		}
		h.state.SetWagers(session, loaded)
		wagers = loaded
	}
	if wagers == nil {
		wagers = []domain.BetSnapshot{}
	}
	resp := map[string]any{"wagers": wagers}
	if id, ok := h.state.SelectedWager(session); ok {
		resp["selected"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadWagers reads the connected account's bets, newest first.
func (h *PreferenceHandler) loadWagers(ctx context.Context) ([]domain.BetSnapshot, error) {
	if !h.wallet.Connected() {
		return nil, nil
	}
	ids, err := h.bets.GetUserBets(ctx, h.wallet.Account())
	if err != nil {
		return nil, &domain.GatewayReadError{Op: "getUserBets", Err: err}
	}
	out := make([]domain.BetSnapshot, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		snap, err := h.snaps.Get(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

type selectRequest struct {
	BetID *uint64 `json:"betId"`
}

// SelectWager sets or clears (null) the selected wager.
// PUT /api/wagers/selected
func (h *PreferenceHandler) SelectWager(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err, "select wager")
		return
	}
	h.state.SetSelectedWager(session, req.BetID)
	w.WriteHeader(http.StatusNoContent)
}
