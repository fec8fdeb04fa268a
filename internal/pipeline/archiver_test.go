package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	before time.Time
	calls  int
	err    error
}

func (f *fakeArchive) Archive(_ context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return 42, f.err
}

func TestArchiverRunUsesRetentionCutoff(t *testing.T) {
	fa := &fakeArchive{}
	a := NewArchiver(fa, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), fa.before)

	fa.err = errors.New("bucket gone")
	_, err = a.Run(context.Background())
	assert.ErrorIs(t, err, fa.err)
}

func TestArchiverDefaultsRetention(t *testing.T) {
	a := NewArchiver(&fakeArchive{}, 0, slog.Default())
	assert.Equal(t, 90, a.retentionDays)
}

func TestScheduleNext(t *testing.T) {
	after := time.Date(2026, 1, 15, 10, 30, 45, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 1 * *", time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"* * * * *", time.Date(2026, 1, 15, 10, 31, 0, 0, time.UTC)},
		{"0,30 11 * * *", time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)},
		{"15 4 * * 1", time.Date(2026, 1, 19, 4, 15, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		sched, err := parseSchedule(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, sched.Next(after), tt.expr)
	}
}

func TestParseScheduleRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"0 3 1 *", "0 x 1 * *", "61 * * * *", ""} {
		_, err := parseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeArchive{}, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := a.RunCron(context.Background(), "nonsense")
	assert.Error(t, err)
}
