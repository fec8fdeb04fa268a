// Package server exposes the bet lifecycle over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/server/handler"
	"github.com/alanyoungcy/amongfriends/internal/server/middleware"
	"github.com/alanyoungcy/amongfriends/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	CORSHeaders []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per client per minute; zero disables it.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Session     *handler.SessionHandler
	Bets        *handler.BetHandler
	Flows       *handler.FlowHandler
	Tokens      *handler.TokenHandler
	Metadata    *handler.MetadataHandler
	Lookup      *handler.LookupHandler
	Preferences *handler.PreferenceHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	sessions middleware.SessionVerifier,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	logger = logger.With(slog.String("component", "http_server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, sessions, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Routes builds the routed handler with its middleware chain.
func Routes(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	sessions middleware.SessionVerifier,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	// Health check and session minting (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/session", handlers.Session.NewSession)

	// Bets.
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("GET /api/bets/{id}/participants", handlers.Bets.Participants)
	mux.HandleFunc("GET /api/bets/{id}/voted", handlers.Bets.Voted)
	mux.HandleFunc("GET /api/bets/{id}/join/preview", handlers.Bets.JoinPreview)
	mux.HandleFunc("POST /api/bets/{id}/vote", handlers.Bets.Vote)
	mux.HandleFunc("POST /api/bets/{id}/resolve", handlers.Bets.Resolve)

	// Flows.
	mux.HandleFunc("POST /api/flows/create", handlers.Flows.Create)
	mux.HandleFunc("POST /api/flows/join", handlers.Flows.Join)
	mux.HandleFunc("GET /api/flows/{kind}", handlers.Flows.Get)
	mux.HandleFunc("POST /api/flows/{kind}/retry", handlers.Flows.Retry)
	mux.HandleFunc("POST /api/flows/{kind}/dismiss", handlers.Flows.Dismiss)

	// Tokens, metadata and lookups.
	mux.HandleFunc("GET /api/tokens", handlers.Tokens.ListTokens)
	mux.HandleFunc("GET /api/metadata/{cid}", handlers.Metadata.GetMetadata)
	mux.HandleFunc("GET /api/leagues", handlers.Lookup.Leagues)
	mux.HandleFunc("GET /api/teams", handlers.Lookup.Teams)

	// Session state.
	mux.HandleFunc("GET /api/preferences/theme", handlers.Preferences.GetTheme)
	mux.HandleFunc("PUT /api/preferences/theme", handlers.Preferences.PutTheme)
	mux.HandleFunc("GET /api/wagers", handlers.Preferences.Wagers)
	mux.HandleFunc("PUT /api/wagers/selected", handlers.Preferences.SelectWager)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.Session(sessions)(h)
	h = middleware.CORS(middleware.CORSConfig{Origins: cfg.CORSOrigins, Headers: cfg.CORSHeaders})(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
