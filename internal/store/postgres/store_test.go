package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db.example:5432/af?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db.example", Database: "af"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestTablesFor(t *testing.T) {
	l, tm := tablesFor("hockey")
	assert.Equal(t, "hockey_leagues", l)
	assert.Equal(t, "hockey_teams", tm)

	l, tm = tablesFor("curling; DROP TABLE leagues")
	assert.Equal(t, "leagues", l)
	assert.Equal(t, "teams", tm)
}

func TestAuditListQuery(t *testing.T) {
	q, args := auditListQuery(domain.ListOpts{})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC", q)
	assert.Empty(t, args)

	since := time.Unix(1_700_000_000, 0)
	q, args = auditListQuery(domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t,
		"SELECT id, event, detail, created_at FROM audit_log WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		q)
	assert.Equal(t, []any{since, 10, 20}, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_lookup.sql", "002_bet_index.sql"}, names)
}
