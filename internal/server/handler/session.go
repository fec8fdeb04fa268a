package handler

import "net/http"

// SessionIssuer mints session tokens.
type SessionIssuer interface {
	Issue() (token, sessionID string)
}

// SessionHandler mints the tokens that scope flows and preferences.
type SessionHandler struct {
	issuer SessionIssuer
}

func NewSessionHandler(issuer SessionIssuer) *SessionHandler {
	return &SessionHandler{issuer: issuer}
}

// NewSession returns a fresh session token.
// GET /api/session
func (h *SessionHandler) NewSession(w http.ResponseWriter, r *http.Request) {
	token, id := h.issuer.Issue()
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "sessionId": id})
}
