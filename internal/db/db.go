// internal/db/db.go

// Package db persists theme documents, schemas and the patch log in SQLite.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	"github.com/codr1/skinforge/internal/config"
	dbgen "github.com/codr1/skinforge/internal/db/generated"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

type DB struct {
	*sql.DB
	Queries *dbgen.Queries
}

// Options tune the SQLite connection pool.
type Options struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// New opens path with default options.
func New(path string) (*DB, error) {
	return Open(path, Options{})
}

// Open opens the database at path with foreign keys enforced, brings the
// schema up to the latest embedded migration and binds the generated queries.
func Open(path string, opts Options) (*DB, error) {
	conn, err := sql.Open("sqlite3", sqliteDSN(path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}

	version, err := migrateUp(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug().Str("path", path).Uint("migration", version).Msg("Database ready")

	return &DB{DB: conn, Queries: dbgen.New(conn)}, nil
}

func NewFromConfig(cfg *config.Config) (*DB, error) {
	if cfg.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Filename), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return Open(cfg.Database.Filename, Options{})
}

// sqliteDSN adds _fk and _busy_timeout to path unless the caller set them.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	base, rawQuery, _ := strings.Cut(path, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return path
	}
	if params.Get("_fk") == "" {
		params.Set("_fk", "1")
	}
	if params.Get("_busy_timeout") == "" {
		if busyTimeout <= 0 {
			busyTimeout = defaultBusyTimeout
		}
		params.Set("_busy_timeout", strconv.FormatInt(busyTimeout.Milliseconds(), 10))
	}
	return base + "?" + params.Encode()
}

func migrateUp(conn *sql.DB) (uint, error) {
	driver, err := sqlite3.WithInstance(conn, &sqlite3.Config{})
	if err != nil {
		return 0, fmt.Errorf("migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return 0, fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, err
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration %d is dirty", version)
	}
	return version, nil
}

// Healthy reports whether the database answers within ctx.
func (db *DB) Healthy(ctx context.Context) error {
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// InTx runs fn against queries bound to a single transaction. The transaction
// commits only when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(q *dbgen.Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(db.Queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
