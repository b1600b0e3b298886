// Package testutil builds stores for tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/barterex/internal/config"
	"github.com/Aidin1998/barterex/internal/database"
	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/internal/store/gormstore"
	"github.com/Aidin1998/barterex/internal/store/memstore"
)

// NamedStore pairs a backend with a subtest name.
type NamedStore struct {
	Name  string
	Store store.Store
}

// NewSQLiteStore returns a migrated gormstore backed by a temp-file SQLite
// database. It is closed when the test ends.
func NewSQLiteStore(t testing.TB) *gormstore.Store {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver:   config.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "barterex.db"),
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	st := gormstore.New(db, gormstore.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *memstore.Store {
	return memstore.New()
}

// Stores returns one fresh store per backend.
func Stores(t testing.TB) []NamedStore {
	t.Helper()
	return []NamedStore{
		{Name: "memstore", Store: NewMemStore()},
		{Name: "sqlite", Store: NewSQLiteStore(t)},
	}
}
