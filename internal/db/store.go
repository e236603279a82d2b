package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	dbgen "github.com/codr1/skinforge/internal/db/generated"
	"github.com/codr1/skinforge/internal/models"
	"github.com/codr1/skinforge/internal/schema"
)

var (
	ErrDocumentNotFound = errors.New("theme document not found")
	ErrDocumentExists   = errors.New("theme document already exists")
	ErrVersionConflict  = errors.New("theme document was modified concurrently")
	ErrSchemaNotFound   = errors.New("theme schema not found")
)

// PatchAudit describes the change being committed, for the patch log.
type PatchAudit struct {
	Source    string
	Patch     []models.Operation
	RequestID string
}

// PatchLogEntry is one committed change.
type PatchLogEntry struct {
	Version   int64              `json:"version"`
	Source    string             `json:"source"`
	Patch     []models.Operation `json:"patch"`
	RequestID string             `json:"requestId,omitempty"`
	CreatedAt string             `json:"createdAt"`
}

// ThemeStore reads and writes theme documents with optimistic concurrency:
// every save names the version it was computed from.
type ThemeStore struct {
	db *DB
}

func NewThemeStore(database *DB) *ThemeStore {
	return &ThemeStore{db: database}
}

func (s *ThemeStore) GetDocument(ctx context.Context, userID string) (models.StoredTheme, error) {
	row, err := s.db.Queries.GetThemeDocument(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.StoredTheme{}, ErrDocumentNotFound
		}
		return models.StoredTheme{}, fmt.Errorf("get theme document: %w", err)
	}
	return toStoredTheme(row)
}

// CreateDocument stores the first version of a user's document.
func (s *ThemeStore) CreateDocument(ctx context.Context, userID string, data models.Document, schemaVersion string) (models.StoredTheme, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.StoredTheme{}, fmt.Errorf("encode theme document: %w", err)
	}
	row, err := s.db.Queries.CreateThemeDocument(ctx, dbgen.CreateThemeDocumentParams{
		UserID:        userID,
		ThemeData:     string(raw),
		SchemaVersion: schemaVersion,
	})
	if err != nil {
		switch constraintCode(err) {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return models.StoredTheme{}, ErrDocumentExists
		case sqlite3.ErrConstraintForeignKey:
			return models.StoredTheme{}, ErrSchemaNotFound
		}
		return models.StoredTheme{}, fmt.Errorf("create theme document: %w", err)
	}
	return toStoredTheme(row)
}

// SaveDocument replaces the document only if it is still at readVersion, and
// records the change in the patch log in the same transaction.
func (s *ThemeStore) SaveDocument(ctx context.Context, userID string, data models.Document, readVersion int64, schemaVersion string, audit PatchAudit) (models.StoredTheme, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.StoredTheme{}, fmt.Errorf("encode theme document: %w", err)
	}
	patchJSON, err := json.Marshal(audit.Patch)
	if err != nil {
		return models.StoredTheme{}, fmt.Errorf("encode patch: %w", err)
	}

	var saved dbgen.ThemeDocument
	err = s.db.InTx(ctx, func(q *dbgen.Queries) error {
		rows, err := q.UpdateThemeDocument(ctx, dbgen.UpdateThemeDocumentParams{
			ThemeData:     string(raw),
			SchemaVersion: schemaVersion,
			UserID:        userID,
			Version:       readVersion,
		})
		if err != nil {
			if constraintCode(err) == sqlite3.ErrConstraintForeignKey {
				return ErrSchemaNotFound
			}
			return fmt.Errorf("update theme document: %w", err)
		}
		if rows == 0 {
			if _, err := q.GetThemeDocument(ctx, userID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrDocumentNotFound
				}
				return fmt.Errorf("get theme document: %w", err)
			}
			return ErrVersionConflict
		}

		if err := q.InsertThemePatchLog(ctx, dbgen.InsertThemePatchLogParams{
			UserID:    userID,
			Version:   readVersion + 1,
			Source:    audit.Source,
			PatchJson: string(patchJSON),
			RequestID: sql.NullString{String: audit.RequestID, Valid: audit.RequestID != ""},
		}); err != nil {
			return fmt.Errorf("record patch: %w", err)
		}

		saved, err = q.GetThemeDocument(ctx, userID)
		if err != nil {
			return fmt.Errorf("reload theme document: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.StoredTheme{}, err
	}
	return toStoredTheme(saved)
}

// ListPatchLog returns the most recent committed changes, newest first.
func (s *ThemeStore) ListPatchLog(ctx context.Context, userID string, limit int) ([]PatchLogEntry, error) {
	rows, err := s.db.Queries.ListThemePatchLog(ctx, dbgen.ListThemePatchLogParams{UserID: userID, Limit: int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("list patch log: %w", err)
	}
	entries := make([]PatchLogEntry, 0, len(rows))
	for _, row := range rows {
		var ops []models.Operation
		if err := json.Unmarshal([]byte(row.PatchJson), &ops); err != nil {
			return nil, fmt.Errorf("decode patch %d: %w", row.ID, err)
		}
		entries = append(entries, PatchLogEntry{
			Version:   row.Version,
			Source:    row.Source,
			Patch:     ops,
			RequestID: row.RequestID.String,
			CreatedAt: row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return entries, nil
}

// PrunePatchLog deletes patch log entries recorded before cutoff and returns
// how many were removed. Documents are never touched.
func (s *ThemeStore) PrunePatchLog(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := s.db.Queries.DeleteThemePatchLogBefore(ctx, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune patch log: %w", err)
	}
	return removed, nil
}

// GetSchema returns the raw schema document for version.
func (s *ThemeStore) GetSchema(ctx context.Context, version string) ([]byte, error) {
	row, err := s.db.Queries.GetThemeSchema(ctx, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSchemaNotFound
		}
		return nil, fmt.Errorf("get theme schema: %w", err)
	}
	return []byte(row.SchemaJson), nil
}

// SeedSchemas upserts every bundled schema and returns the stored versions.
func (s *ThemeStore) SeedSchemas(ctx context.Context) ([]string, error) {
	bundled, err := schema.Bundled()
	if err != nil {
		return nil, err
	}
	err = s.db.InTx(ctx, func(q *dbgen.Queries) error {
		for version, src := range bundled {
			if !json.Valid(src) {
				return fmt.Errorf("bundled schema %s is not valid JSON", version)
			}
			if err := q.UpsertThemeSchema(ctx, dbgen.UpsertThemeSchemaParams{
				Version:    version,
				SchemaJson: string(src),
			}); err != nil {
				return fmt.Errorf("seed schema %s: %w", version, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	versions, err := s.db.Queries.ListThemeSchemaVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list theme schemas: %w", err)
	}
	return versions, nil
}

func toStoredTheme(row dbgen.ThemeDocument) (models.StoredTheme, error) {
	var data models.Document
	if err := json.Unmarshal([]byte(row.ThemeData), &data); err != nil {
		return models.StoredTheme{}, fmt.Errorf("decode theme document for %s: %w", row.UserID, err)
	}
	return models.StoredTheme{
		UserID:        row.UserID,
		Data:          data,
		Version:       row.Version,
		SchemaVersion: row.SchemaVersion,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

func constraintCode(err error) sqlite3.ErrNoExtended {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode
	}
	return 0
}
