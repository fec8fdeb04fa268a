// Package pipeline runs the periodic background jobs that sit next to the
// phase watcher.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// AuditArchive copies audit entries older than a cutoff to cold storage.
type AuditArchive interface {
	Archive(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves old audit rows to object storage on a schedule.
type Archiver struct {
	archive       AuditArchive
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. A non-positive retentionDays defaults
// to 90.
func NewArchiver(archive AuditArchive, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Archiver{
		archive:       archive,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "audit_archiver")),
	}
}

// Run executes a single archive run over audit entries older than the
// retention window and returns how many were archived.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.archive.Archive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline/archiver: audit before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("audit_archived", n))
	return n, nil
}

// RunEvery runs the archiver every interval until the context is cancelled.
// Failed runs are logged and retried on the next tick.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunCron runs the archiver on a standard five-field cron schedule
// ("minute hour day-of-month month day-of-week", e.g. "0 3 1 * *") until the
// context is cancelled. Times are evaluated in UTC.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseSchedule(cronExpr)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next := sched.Next(a.now().UTC())
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

func parseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("pipeline/archiver: cron %q: %w", expr, err)
	}
	return sched, nil
}
