package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

const archivePageSize = 1000

// AuditArchiver copies audit entries older than a cutoff to
// archive/audit/YYYY-MM.jsonl. Rows are not deleted from Postgres; pruning
// is a separate, explicit step after the archive is verified.
type AuditArchiver struct {
	writer *Writer
	audit  domain.AuditStore
}

// NewAuditArchiver creates an AuditArchiver.
func NewAuditArchiver(writer *Writer, audit domain.AuditStore) *AuditArchiver {
	return &AuditArchiver{writer: writer, audit: audit}
}

// Archive uploads every audit entry created before the cutoff and returns
// how many were written.
func (a *AuditArchiver) Archive(ctx context.Context, before time.Time) (int64, error) {
	var (
		buf   bytes.Buffer
		count int64
	)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for offset := 0; ; offset += archivePageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Until: &before, Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		for i, e := range page {
			if err := enc.Encode(e); err != nil {
				return 0, fmt.Errorf("s3blob: archive audit encode %d: %w", offset+i, err)
			}
		}
		count += int64(len(page))
		if len(page) < archivePageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	path := archivePath("audit", before)
	if err := a.writer.PutMultipart(ctx, path, &buf, "application/x-ndjson", 0); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// archivePath partitions archives by the cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}
