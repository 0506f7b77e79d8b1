package store

import (
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrator_LoadsEmbeddedMigrations(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	p, err := NewMigrator(db)
	require.NoError(t, err)
	sources := p.ListSources()
	require.NotEmpty(t, sources)
	assert.Equal(t, int64(1), sources[0].Version)
}

func TestMigrations_DeclareNamedConstraints(t *testing.T) {
	raw, err := fs.ReadFile(migrationsFS, "migrations/00001_init.sql")
	require.NoError(t, err)
	sql := string(raw)

	assert.Contains(t, sql, "-- +goose Up")
	for _, name := range []string{"unique_enrollment", "unique_roll_number", "unique_session_token", "unique_redemption"} {
		assert.Contains(t, sql, "CONSTRAINT "+name+" UNIQUE", name)
	}
}
