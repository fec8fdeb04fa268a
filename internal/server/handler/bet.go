package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/lifecycle"
	"github.com/alanyoungcy/amongfriends/internal/orchestrator"
	"github.com/alanyoungcy/amongfriends/internal/service"
)

// WalletInfo is the server's connected account, if any.
type WalletInfo interface {
	Account() common.Address
	Connected() bool
}

// BetSnapshots reads bets and vote records.
type BetSnapshots interface {
	Get(ctx context.Context, betID uint64) (domain.BetSnapshot, error)
	Participants(ctx context.Context, betID uint64) ([]common.Address, error)
	HasVoted(ctx context.Context, betID uint64, account common.Address) (bool, error)
}

// TokenDecimals reads an ERC-20's decimals.
type TokenDecimals interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// FlowRegistry starts and inspects orchestration flows.
type FlowRegistry interface {
	Preview(ctx context.Context, betID uint64, viewer common.Address) (orchestrator.JoinPreview, error)
	StartCreate(ctx context.Context, session string, draft domain.WagerDraft) (orchestrator.State, error)
	StartJoin(ctx context.Context, session string, betID uint64) (orchestrator.State, error)
	StartVote(ctx context.Context, session string, betID uint64, outcome string) (orchestrator.State, error)
	StartResolve(ctx context.Context, session string, betID uint64) (orchestrator.State, error)
	State(session string, kind orchestrator.Kind) (orchestrator.State, error)
	Retry(session string, kind orchestrator.Kind) (orchestrator.State, error)
	Dismiss(session string, kind orchestrator.Kind) error
}

// BetHandler serves bet views and the vote/resolve entry points.
type BetHandler struct {
	snaps    BetSnapshots
	wallet   WalletInfo
	decimals TokenDecimals
	flows    FlowRegistry
	now      func() time.Time
	logger   *slog.Logger
}

// NewBetHandler creates a BetHandler. decimals may be nil, in which case
// stakes are not formatted.
func NewBetHandler(snaps BetSnapshots, wallet WalletInfo, decimals TokenDecimals, flows FlowRegistry, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		snaps:    snaps,
		wallet:   wallet,
		decimals: decimals,
		flows:    flows,
		now:      time.Now,
		logger:   logHandler(logger, "bet"),
	}
}

type betResponse struct {
	Snapshot     domain.BetSnapshot `json:"snapshot"`
	View         lifecycle.View     `json:"view"`
	Viewer       common.Address     `json:"viewer"`
	StakeDisplay string             `json:"stakeDisplay,omitempty"`
}

// GetBet returns the snapshot and the phase view for a viewer, which
// defaults to the connected account.
// GET /api/bets/{id}?viewer=0x..
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, err := betIDParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get bet")
		return
	}
	viewer, err := addressParam(r, "viewer", h.wallet.Account())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get bet")
		return
	}

	snap, err := h.snaps.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get bet")
		return
	}

	var voted bool
	if viewer != (common.Address{}) && snap.HasParticipant(viewer) {
		if voted, err = h.snaps.HasVoted(r.Context(), id, viewer); err != nil {
			writeServiceError(w, r, h.logger, err, "get bet")
			return
		}
	}

	view := lifecycle.Resolve(lifecycle.Input{
		Snapshot:  snap,
		Now:       h.now(),
		Viewer:    viewer,
		Connected: h.wallet.Connected() && viewer == h.wallet.Account(),
		HasVoted:  voted,
	})
	writeJSON(w, http.StatusOK, betResponse{
		Snapshot:     snap,
		View:         view,
		Viewer:       viewer,
		StakeDisplay: h.stakeDisplay(r.Context(), snap.Token, snap.StakeAmount),
	})
}

func (h *BetHandler) stakeDisplay(ctx context.Context, token common.Address, amount *big.Int) string {
	if h.decimals == nil || amount == nil || token == (common.Address{}) {
		return ""
	}
	d, err := h.decimals.Decimals(ctx, token)
	if err != nil {
		h.logger.WarnContext(ctx, "token decimals read failed",
			slog.String("token", token.Hex()),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return service.FormatAmount(amount, d)
}

// Participants lists the bet's participants.
// GET /api/bets/{id}/participants
func (h *BetHandler) Participants(w http.ResponseWriter, r *http.Request) {
	id, err := betIDParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list participants")
		return
	}
	ps, err := h.snaps.Participants(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list participants")
		return
	}
	if ps == nil {
		ps = []common.Address{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"betId": id, "participants": ps})
}

// Voted reports whether account has voted on the bet.
// GET /api/bets/{id}/voted?account=0x..
func (h *BetHandler) Voted(w http.ResponseWriter, r *http.Request) {
	id, err := betIDParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "read vote")
		return
	}
	account, err := addressParam(r, "account", h.wallet.Account())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "read vote")
		return
	}
	voted, err := h.snaps.HasVoted(r.Context(), id, account)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "read vote")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"betId": id, "account": account, "hasVoted": voted})
}

// JoinPreview checks whether the connected account can join the bet.
// GET /api/bets/{id}/join/preview
func (h *BetHandler) JoinPreview(w http.ResponseWriter, r *http.Request) {
	id, err := betIDParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "preview join")
		return
	}
	viewer, err := addressParam(r, "viewer", h.wallet.Account())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "preview join")
		return
	}
	p, err := h.flows.Preview(r.Context(), id, viewer)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "preview join")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type voteRequest struct {
	Outcome string `json:"outcome"`
}

// Vote starts a vote flow for the session.
// POST /api/bets/{id}/vote
func (h *BetHandler) Vote(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, err := betIDParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "vote")
		return
	}
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err, "vote")
		return
	}
	st, err := h.flows.StartVote(r.Context(), session, id, req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "vote")
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// Resolve starts a resolve flow for the session.
// POST /api/bets/{id}/resolve
func (h *BetHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, err := betIDParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "resolve")
		return
	}
	st, err := h.flows.StartResolve(r.Context(), session, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "resolve")
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}
