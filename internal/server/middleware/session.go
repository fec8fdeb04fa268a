package middleware

import (
	"context"
	"net/http"
	"strings"
)

// SessionHeader carries the session token minted by GET /api/session.
const SessionHeader = "X-Session-Token"

// SessionVerifier checks a session token and returns its session ID.
type SessionVerifier interface {
	Verify(token string) (string, error)
}

type sessionKey struct{}

// Session attaches the verified session ID to the request context. Tokens are
// read from the X-Session-Token header or, for WebSocket upgrades that cannot
// set headers, the "session" query parameter. Requests without a valid token
// pass through anonymous; handlers that need a session reject them.
func Session(v SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(SessionHeader))
			if token == "" {
				token = r.URL.Query().Get("session")
			}
			if token != "" {
				if id, err := v.Verify(token); err == nil {
					r = r.WithContext(WithSession(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns ctx carrying session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session ID attached by Session.
func SessionFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
