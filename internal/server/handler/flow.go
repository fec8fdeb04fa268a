package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/orchestrator"
	"github.com/alanyoungcy/amongfriends/internal/service"
)

// FlowHandler starts and controls the session's orchestration flows.
type FlowHandler struct {
	flows    FlowRegistry
	decimals TokenDecimals
	logger   *slog.Logger
}

func NewFlowHandler(flows FlowRegistry, decimals TokenDecimals, logger *slog.Logger) *FlowHandler {
	return &FlowHandler{flows: flows, decimals: decimals, logger: logHandler(logger, "flow")}
}

// createRequest is the wager form as submitted by the UI. Amount is in
// human units of the token.
type createRequest struct {
	Description     string               `json:"description"`
	Template        domain.Template      `json:"template"`
	CategoryData    json.RawMessage      `json:"categoryData"`
	Participants    []domain.Participant `json:"participants"`
	OpenJoin        bool                 `json:"isOpenJoin"`
	Amount          string               `json:"amount"`
	Token           string               `json:"token"`
	EndDate         time.Time            `json:"endDate"`
	MaxParticipants uint64               `json:"maxParticipants"`
}

// draft converts the request into a WagerDraft, resolving the stake through
// the token's decimals.
func (h *FlowHandler) draft(r *http.Request, req createRequest) (domain.WagerDraft, error) {
	fields, err := domain.DecodeCategoryFields(domain.Template(strings.ToUpper(string(req.Template))), req.CategoryData)
	if err != nil {
		return domain.WagerDraft{}, err
	}
	if !common.IsHexAddress(req.Token) {
		return domain.WagerDraft{}, domain.Invalid("token", "not an address: %q", req.Token)
	}
	token := common.HexToAddress(req.Token)
	decimals, err := h.decimals.Decimals(r.Context(), token)
	if err != nil {
		return domain.WagerDraft{}, err
	}
	stake, err := service.ParseAmount(req.Amount, decimals)
	if err != nil {
		return domain.WagerDraft{}, err
	}
	return domain.WagerDraft{
		Description:     strings.TrimSpace(req.Description),
		Participants:    req.Participants,
		OpenJoin:        req.OpenJoin,
		StakeAmount:     stake,
		Token:           token,
		EndDate:         req.EndDate,
		MaxParticipants: req.MaxParticipants,
		Category:        fields,
	}, nil
}

// Create starts a creation flow.
// POST /api/flows/create
func (h *FlowHandler) Create(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err, "start create")
		return
	}
	draft, err := h.draft(r, req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "start create")
		return
	}
	st, err := h.flows.StartCreate(r.Context(), session, draft)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "start create")
		return
	}
	h.logger.InfoContext(r.Context(), "create flow started",
		slog.String("flow_id", st.ID),
		slog.String("draft", draft.String()),
	)
	writeJSON(w, http.StatusAccepted, st)
}

type joinRequest struct {
	BetID *uint64 `json:"betId"`
}

// Join starts a join flow for an existing bet.
// POST /api/flows/join
func (h *FlowHandler) Join(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err, "start join")
		return
	}
	if req.BetID == nil {
		writeServiceError(w, r, h.logger, domain.Invalid("betId", "required"), "start join")
		return
	}
	st, err := h.flows.StartJoin(r.Context(), session, *req.BetID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "start join")
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (h *FlowHandler) kind(w http.ResponseWriter, r *http.Request) (string, orchestrator.Kind, bool) {
	session, ok := requireSession(w, r)
	if !ok {
		return "", "", false
	}
	kind, err := orchestrator.ParseKind(pathParam(r, "kind"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "flow")
		return "", "", false
	}
	return session, kind, true
}

// Get returns the current flow state, Idle when there is none.
// GET /api/flows/{kind}
func (h *FlowHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	st, err := h.flows.State(session, kind)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "flow state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Retry resumes a failed flow from the stage that failed.
// POST /api/flows/{kind}/retry
func (h *FlowHandler) Retry(w http.ResponseWriter, r *http.Request) {
	session, kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	st, err := h.flows.Retry(session, kind)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "retry flow")
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// Dismiss discards the flow. An incomplete dismissed flow cannot be resumed.
// POST /api/flows/{kind}/dismiss
func (h *FlowHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	session, kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	if err := h.flows.Dismiss(session, kind); err != nil {
		writeServiceError(w, r, h.logger, err, "dismiss flow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
