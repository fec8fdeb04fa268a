package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/server/middleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error to an HTTP status code.
func statusFor(err error) int {
	var verr *domain.ValidationError
	var rerr *domain.GatewayReadError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFlowActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFlowDismissed):
		return http.StatusGone
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusPreconditionFailed
	case errors.As(err, &rerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes the mapped status. Validation errors
// carry their message and field; server errors are reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, what string) {
	status := statusFor(err)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body := map[string]string{"error": verr.Msg}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		writeJSON(w, status, body)
		return
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+what+" failed",
			slog.String("error", err.Error()),
		)
		if status == http.StatusBadGateway {
			writeError(w, status, "chain read failed, try again")
			return
		}
		writeError(w, status, what+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return domain.Invalid("", "unreadable body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.Invalid("", "malformed JSON: %v", err)
	}
	return nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// betIDParam parses the {id} path segment.
func betIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		return 0, domain.Invalid("id", "bet id must be a non-negative integer")
	}
	return id, nil
}

// addressParam parses an optional hex address query parameter. An absent
// parameter returns fallback.
func addressParam(r *http.Request, name string, fallback common.Address) (common.Address, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, domain.Invalid(name, "not an address: %q", v)
	}
	return common.HexToAddress(v), nil
}

// requireSession returns the request's session or writes 401.
func requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.SessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid session token")
	}
	return id, ok
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
