package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name      string
		opts      domain.ListOpts
		seed      []any
		wantQuery string
		wantArgs  int
	}{
		{
			name:      "no filters",
			wantQuery: "SELECT * FROM t WHERE TRUE ORDER BY ts DESC",
		},
		{
			name:      "range and paging after seeded arg",
			opts:      domain.ListOpts{Since: &since, Until: &until, Limit: 50, Offset: 100},
			seed:      []any{"BTC-USD"},
			wantQuery: "SELECT * FROM t WHERE TRUE AND ts >= $2 AND ts <= $3 ORDER BY ts DESC LIMIT $4 OFFSET $5",
			wantArgs:  5,
		},
		{
			name:      "limit only",
			opts:      domain.ListOpts{Limit: 10},
			wantQuery: "SELECT * FROM t WHERE TRUE ORDER BY ts DESC LIMIT $1",
			wantArgs:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listQuery("SELECT * FROM t WHERE TRUE", "ts", tt.opts, tt.seed)
			assert.Equal(t, tt.wantQuery, q)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/mg?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "mg"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationFilesEmbedded(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}
