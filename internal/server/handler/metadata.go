package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// MetadataFetcher reads pinned metadata documents.
type MetadataFetcher interface {
	Fetch(ctx context.Context, cid string) (json.RawMessage, error)
}

// MetadataHandler serves pinned bet metadata.
type MetadataHandler struct {
	docs   MetadataFetcher
	logger *slog.Logger
}

func NewMetadataHandler(docs MetadataFetcher, logger *slog.Logger) *MetadataHandler {
	return &MetadataHandler{docs: docs, logger: logHandler(logger, "metadata")}
}

// GetMetadata returns the document pinned under cid.
// GET /api/metadata/{cid}
func (h *MetadataHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	cid := strings.TrimSpace(pathParam(r, "cid"))
	if cid == "" || strings.ContainsAny(cid, "/\\") {
		writeServiceError(w, r, h.logger, domain.Invalid("cid", "invalid content id"), "fetch metadata")
		return
	}
	doc, err := h.docs.Fetch(r.Context(), cid)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "fetch metadata")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}
