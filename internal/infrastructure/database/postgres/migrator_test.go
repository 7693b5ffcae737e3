package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@db:5432/x?sslmode=disable", "pgx5://u:p@db:5432/x?sslmode=disable"},
		{"postgresql://u:p@db/x", "pgx5://u:p@db/x"},
		{"pgx5://u:p@db/x", "pgx5://u:p@db/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrationURL(tt.in))
	}
}

func TestEmbeddedMigrations_Paired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs, "every up migration has a down migration")
}

func TestRollbackMigration_RejectsNonPositiveSteps(t *testing.T) {
	err := RollbackMigration("postgres://localhost/x", "", 0)
	assert.ErrorContains(t, err, "steps must be greater than 0")
}
