package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// corsMethods are the only methods the API routes register.
const corsMethods = "GET, POST, PUT, OPTIONS"

// CORSConfig controls which browser origins may call the API.
type CORSConfig struct {
	// Origins lists allowed origins; empty or "*" allows any.
	Origins []string
	// Headers are extra request headers to allow. Content-Type,
	// Authorization, X-API-Key and the session header are always allowed.
	Headers []string
	// MaxAge caches preflight results; zero means one day.
	MaxAge time.Duration
}

// CORS returns middleware that answers preflights and tags responses for the
// configured origins. A preflight from an origin that is not allowed gets 403
// so the browser reports the block instead of retrying the real request.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	headers := strings.Join(corsHeaders(cfg.Headers), ", ")
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	age := strconv.Itoa(int(maxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if origin == "" {
				if preflight {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if !originAllowed(cfg.Origins, origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			if preflight {
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Access-Control-Max-Age", age)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// corsHeaders merges the required headers with extra, dropping duplicates
// case-insensitively.
func corsHeaders(extra []string) []string {
	out := []string{"Content-Type", "Authorization", "X-API-Key", SessionHeader}
	seen := make(map[string]bool, len(out)+len(extra))
	for _, h := range out {
		seen[strings.ToLower(h)] = true
	}
	for _, h := range extra {
		h = strings.TrimSpace(h)
		if h == "" || seen[strings.ToLower(h)] {
			continue
		}
		seen[strings.ToLower(h)] = true
		out = append(out, h)
	}
	return out
}
