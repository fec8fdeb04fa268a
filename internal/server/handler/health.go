package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks  map[string]HealthCheck
	chainID uint64
	wallet  WalletInfo
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. wallet may be nil.
func NewHealthHandler(checks map[string]HealthCheck, chainID uint64, wallet WalletInfo, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, chainID: chainID, wallet: wallet, logger: logHandler(logger, "health")}
}

// HealthCheck reports liveness plus the state of each backing service. Any
// failing check turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	connected := h.wallet != nil && h.wallet.Connected()
	writeJSON(w, code, map[string]any{
		"status":          status,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"chainId":         h.chainID,
		"walletConnected": connected,
		"checks":          results,
	})
}
