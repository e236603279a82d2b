// cmd/tools/dbmigrate/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/skinforge/internal/config"
)

// target is where migrations come from and where they are applied.
type target struct {
	sourceURL   string
	databaseURL string
	dbFile      string
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		configPath     = flag.String("config", "", "Path to config.yaml (supplies the database filename)")
		dbPath         = flag.String("db", "", "Path to SQLite database (overrides -config)")
		migrationsPath = flag.String("migrations", "internal/db/migrations", "Path to migrations directory")
		command        = flag.String("command", "", "Command to run (up, down, version, steps, force)")
		arg            = flag.String("n", "", "Step count for steps, version for force")
	)
	flag.Parse()

	dbFile := *dbPath
	if dbFile == "" && *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load config")
		}
		dbFile = cfg.Database.Filename
	}
	if dbFile == "" || *command == "" {
		fmt.Fprintln(os.Stderr, "-command and one of -db or -config are required:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	t, err := resolveTarget(dbFile, *migrationsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid migration target")
	}
	if err := os.MkdirAll(filepath.Dir(t.dbFile), 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create database directory")
	}

	m, err := migrate.New(t.sourceURL, t.databaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrate instance")
	}
	defer m.Close()

	logger := log.With().Str("db", t.dbFile).Str("command", *command).Logger()
	if err := run(m, *command, *arg); err != nil {
		logger.Fatal().Err(err).Msg("Migration failed")
	}
	logger.Info().Msg("Migration command finished")
}

// resolveTarget makes both paths absolute. Foreign keys stay on so a down
// migration cannot orphan theme documents.
func resolveTarget(dbFile, migrationsDir string) (target, error) {
	absDB, err := filepath.Abs(dbFile)
	if err != nil {
		return target{}, fmt.Errorf("database path: %w", err)
	}
	absMigrations, err := filepath.Abs(migrationsDir)
	if err != nil {
		return target{}, fmt.Errorf("migrations path: %w", err)
	}
	info, err := os.Stat(absMigrations)
	if err != nil {
		return target{}, fmt.Errorf("migrations directory: %w", err)
	}
	if !info.IsDir() {
		return target{}, fmt.Errorf("migrations path %s is not a directory", absMigrations)
	}
	return target{
		sourceURL:   "file://" + filepath.ToSlash(absMigrations),
		databaseURL: "sqlite3://" + filepath.ToSlash(absDB) + "?_fk=1",
		dbFile:      absDB,
	}, nil
}

func run(m *migrate.Migrate, command, arg string) error {
	switch command {
	case "up":
		return ignoreNoChange(m.Up())

	case "down":
		return ignoreNoChange(m.Down())

	case "steps":
		n, err := strconv.Atoi(arg)
		if err != nil || n == 0 {
			return fmt.Errorf("-n must be a non-zero integer")
		}
		if err := ignoreNoChange(m.Steps(n)); err != nil {
			return err
		}
		log.Info().Int("steps", n).Msg("Moved migrations")

	case "force":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("-n must be a migration version")
		}
		if err := m.Force(v); err != nil {
			return err
		}
		log.Warn().Int("version", v).Msg("Forced migration version")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("No migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current migration version")

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
