// Package testutil builds throwaway databases for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/codr1/skinforge/internal/db"
)

// NewTestDB opens a migrated SQLite file under t.TempDir. The connection is
// closed when the test ends.
func NewTestDB(t testing.TB) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "skinforge-test.db"), db.Options{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// NewSeededStore returns a theme store whose schema table already holds every
// bundled schema version.
func NewSeededStore(t testing.TB) *db.ThemeStore {
	t.Helper()

	store := db.NewThemeStore(NewTestDB(t))
	if _, err := store.SeedSchemas(context.Background()); err != nil {
		t.Fatalf("seed schemas: %v", err)
	}
	return store
}
