package main

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

const migrationsDir = "../../../internal/db/migrations"

func TestResolveTarget(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "data", "skin.db")
	got, err := resolveTarget(dbFile, migrationsDir)
	if err != nil {
		t.Fatalf("resolveTarget() error = %v", err)
	}
	if !strings.HasPrefix(got.sourceURL, "file://") || !strings.HasSuffix(got.sourceURL, "internal/db/migrations") {
		t.Fatalf("sourceURL = %q", got.sourceURL)
	}
	if !strings.HasSuffix(got.databaseURL, "skin.db?_fk=1") {
		t.Fatalf("databaseURL = %q", got.databaseURL)
	}

	if _, err := resolveTarget(dbFile, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected missing migrations directory to fail")
	}
}

func TestRunWalksMigrations(t *testing.T) {
	target, err := resolveTarget(filepath.Join(t.TempDir(), "skin.db"), migrationsDir)
	if err != nil {
		t.Fatalf("resolveTarget() error = %v", err)
	}
	m, err := migrate.New(target.sourceURL, target.databaseURL)
	if err != nil {
		t.Fatalf("migrate.New() error = %v", err)
	}
	defer m.Close()

	steps := []struct {
		command string
		arg     string
		version uint
	}{
		{command: "up", version: 2},
		{command: "up", version: 2},
		{command: "steps", arg: "-1", version: 1},
		{command: "version", version: 1},
	}
	for _, step := range steps {
		if err := run(m, step.command, step.arg); err != nil {
			t.Fatalf("run(%s %s) error = %v", step.command, step.arg, err)
		}
		version, dirty, err := m.Version()
		if err != nil || dirty || version != step.version {
			t.Fatalf("after %s: version = %d dirty = %t err = %v, want %d", step.command, version, dirty, err, step.version)
		}
	}

	if err := run(m, "down", ""); err != nil {
		t.Fatalf("run(down) error = %v", err)
	}
	if _, _, err := m.Version(); !errors.Is(err, migrate.ErrNilVersion) {
		t.Fatalf("after down: err = %v, want ErrNilVersion", err)
	}
}

func TestRunRejectsBadArguments(t *testing.T) {
	tests := []struct {
		command string
		arg     string
	}{
		{command: "steps", arg: "0"},
		{command: "steps", arg: "two"},
		{command: "force", arg: "latest"},
		{command: "sideways"},
	}
	for _, test := range tests {
		// Argument checks fail before the migrate instance is touched.
		if err := run(nil, test.command, test.arg); err == nil {
			t.Errorf("run(%s %s) succeeded, want error", test.command, test.arg)
		}
	}
}
