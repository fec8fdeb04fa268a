package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// Pinner pins JSON documents and fetches them back by content identifier.
type Pinner interface {
	PinJSON(ctx context.Context, doc any) (string, error)
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// MetadataService publishes bet metadata documents and mirrors them into
// object storage so reads do not depend on the IPFS gateway.
type MetadataService struct {
	pinner Pinner
	mirror domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger
}

// NewMetadataService creates a MetadataService. mirror and reader may be nil.
func NewMetadataService(pinner Pinner, mirror domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *MetadataService {
	return &MetadataService{
		pinner: pinner,
		mirror: mirror,
		reader: reader,
		logger: logger.With(slog.String("component", "metadata_service")),
	}
}

// Publish pins doc and returns its content identifier. Any failure is a
// *domain.PublishError and nothing must be written on chain after it.
func (s *MetadataService) Publish(ctx context.Context, doc any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", &domain.PublishError{Err: fmt.Errorf("marshal: %w", err)}
	}
	cid, err := s.pinner.PinJSON(ctx, json.RawMessage(raw))
	if err != nil {
		return "", &domain.PublishError{Err: err}
	}
	if strings.TrimSpace(cid) == "" {
		return "", &domain.PublishError{Err: errors.New("empty content identifier")}
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, metadataPath(cid), bytes.NewReader(raw), "application/json"); err != nil {
			s.logger.WarnContext(ctx, "metadata mirror failed",
				slog.String("cid", cid),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.InfoContext(ctx, "metadata pinned", slog.String("cid", cid), slog.Int("bytes", len(raw)))
	return cid, nil
}

// Fetch returns the document for cid, preferring the object-storage mirror.
func (s *MetadataService) Fetch(ctx context.Context, cid string) (json.RawMessage, error) {
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return nil, domain.Invalid("cid", "required")
	}
	if s.reader != nil {
		body, err := s.readMirror(ctx, cid)
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "metadata mirror read failed",
				slog.String("cid", cid),
				slog.String("error", err.Error()),
			)
		}
	}

	body, err := s.pinner.Fetch(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("metadata_service: fetch %s: %w", cid, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("metadata_service: fetch %s: document is not JSON", cid)
	}
	return json.RawMessage(body), nil
}

func (s *MetadataService) readMirror(ctx context.Context, cid string) (json.RawMessage, error) {
	rc, err := s.reader.Get(ctx, metadataPath(cid))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func metadataPath(cid string) string {
	return "metadata/" + cid + ".json"
}
