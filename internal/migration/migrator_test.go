package migration

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteMigrator(t *testing.T) *Migrator {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "spanforge.sqlite")
	m, err := New(Config{
		Dialect:     DialectSQLite,
		DatabaseURL: BuildDatabaseURL(DialectSQLite, "", 0, dbPath, "", "", ""),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"postgres", DialectPostgres, false},
		{"postgresql", DialectPostgres, false},
		{"PG", DialectPostgres, false},
		{"mysql", DialectMySQL, false},
		{"mariadb", DialectMySQL, false},
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{Dialect: DialectSQLite})
	assert.Error(t, err)
}

func TestUpAndVersion(t *testing.T) {
	m := newSQLiteMigrator(t)

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())

	version, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// idempotent
	require.NoError(t, m.Up())
}

func TestUpCreatesTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "spanforge.sqlite")
	url := BuildDatabaseURL(DialectSQLite, "", 0, dbPath, "", "", "")

	m, err := New(Config{Dialect: DialectSQLite, DatabaseURL: url})
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	db, err := sql.Open("sqlite", url)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"entity_records", "model_definitions", "schema_migrations"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestDownRollsBackOne(t *testing.T) {
	m := newSQLiteMigrator(t)
	require.NoError(t, m.Up())

	require.NoError(t, m.Down())

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestStatus(t *testing.T) {
	m := newSQLiteMigrator(t)

	statuses, err := m.Status()
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "create_entity_records", statuses[0].Name)
	assert.Equal(t, "create_model_definitions", statuses[1].Name)
	assert.False(t, statuses[0].Applied)

	require.NoError(t, m.Up())

	statuses, err = m.Status()
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Name)
		assert.False(t, s.Dirty, s.Name)
	}
}

func TestSteps(t *testing.T) {
	m := newSQLiteMigrator(t)

	require.NoError(t, m.Steps(1))
	version, _, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, m.Steps(1))
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestBuildDatabaseURL(t *testing.T) {
	assert.Equal(t,
		"postgres://u:p@db:5432/spanforge?sslmode=disable",
		BuildDatabaseURL(DialectPostgres, "db", 5432, "spanforge", "u", "p", ""),
	)
	assert.Equal(t,
		"u:p@tcp(db:3306)/spanforge?parseTime=true&multiStatements=true",
		BuildDatabaseURL(DialectMySQL, "db", 3306, "spanforge", "u", "p", ""),
	)
	assert.Equal(t,
		"file:/tmp/x.sqlite?mode=rwc",
		BuildDatabaseURL(DialectSQLite, "", 0, "/tmp/x.sqlite", "", "", ""),
	)
}
