// Package engine runs theme patch requests end to end: palette or prompt in,
// validated and persisted theme document out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/codr1/skinforge/internal/db"
	"github.com/codr1/skinforge/internal/models"
	"github.com/codr1/skinforge/internal/palette"
	"github.com/codr1/skinforge/internal/patch"
	"github.com/codr1/skinforge/internal/schema"
)

const defaultQueryTimeout = 5 * time.Second

// ErrInvalidRequest marks caller mistakes; the wrapped message is safe to show.
var ErrInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Store persists theme documents. db.ThemeStore implements it.
type Store interface {
	GetDocument(ctx context.Context, userID string) (models.StoredTheme, error)
	CreateDocument(ctx context.Context, userID string, data models.Document, schemaVersion string) (models.StoredTheme, error)
	SaveDocument(ctx context.Context, userID string, data models.Document, readVersion int64, schemaVersion string, audit db.PatchAudit) (models.StoredTheme, error)
	ListPatchLog(ctx context.Context, userID string, limit int) ([]db.PatchLogEntry, error)
}

// Extractor turns images into palettes. palette.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, imageURL string) palette.Result
	ExtractBytes(ctx context.Context, data []byte) palette.Result
	ExtractWithVision(ctx context.Context, imageURL string) palette.Result
	ExtractBytesWithVision(ctx context.Context, data []byte) palette.Result
}

// PromptGenerator turns a natural-language request into operations.
type PromptGenerator interface {
	Generate(ctx context.Context, prompt string, doc models.Document, targetPath string) patch.GenerateResult
}

type Config struct {
	SchemaVersion string
	AllowPrefixes []string
	QueryTimeout  time.Duration
}

type Service struct {
	cfg       Config
	store     Store
	schemas   *schema.Cache
	extractor Extractor
	prompts   PromptGenerator
	scope     *patch.Resolver
}

// NewService wires the engine. schemas is shared process-wide; see schema.Cache.
func NewService(cfg Config, store Store, schemas *schema.Cache, extractor Extractor, prompts PromptGenerator) *Service {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = schema.DefaultVersion
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		schemas:   schemas,
		extractor: extractor,
		prompts:   prompts,
		scope:     patch.NewResolver(cfg.AllowPrefixes),
	}
}

// ExtractPalette fetches an image and derives a palette. It never fails; a
// degraded result carries the default palette and a reason.
func (s *Service) ExtractPalette(ctx context.Context, imageURL string, mode ExtractMode) (palette.Result, error) {
	if err := checkMode(mode); err != nil {
		return palette.Result{}, err
	}
	if strings.TrimSpace(imageURL) == "" {
		return palette.Result{}, invalid("imageUrl is required")
	}
	result := s.extract(ctx, imageURL, mode)
	logExtraction(ctx, result)
	return result, nil
}

// ExtractPaletteBytes derives a palette from an uploaded image.
func (s *Service) ExtractPaletteBytes(ctx context.Context, data []byte, mode ExtractMode) (palette.Result, error) {
	if err := checkMode(mode); err != nil {
		return palette.Result{}, err
	}
	if len(data) == 0 {
		return palette.Result{}, invalid("image body is empty")
	}
	var result palette.Result
	if mode == ModeVision {
		result = s.extractor.ExtractBytesWithVision(ctx, data)
	} else {
		result = s.extractor.ExtractBytes(ctx, data)
	}
	logExtraction(ctx, result)
	return result, nil
}

func (s *Service) GetDocument(ctx context.Context, userID string) (models.StoredTheme, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return models.StoredTheme{}, invalid("%v", err)
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.store.GetDocument(qctx, userID)
}

// History lists the most recent committed patches for a user.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]db.PatchLogEntry, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return nil, invalid("%v", err)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.store.ListPatchLog(qctx, userID, limit)
}

// PutDocument validates doc against the current schema and stores it. With
// readVersion 0 the document is created; otherwise it replaces that version.
func (s *Service) PutDocument(ctx context.Context, userID string, doc models.Document, readVersion int64) (Outcome, error) {
	logger := flowLogger(ctx, "replace", userID)
	if err := models.ValidateUserID(userID); err != nil {
		return Outcome{}, invalid("%v", err)
	}
	if doc == nil {
		return Outcome{}, invalid("themeData is required")
	}

	compiled, err := s.schemas.Get(ctx, s.cfg.SchemaVersion)
	if err != nil {
		return Outcome{}, fmt.Errorf("load schema: %w", err)
	}
	if errs := compiled.Validate(doc); len(errs) > 0 {
		logger.Info().Int("errors", len(errs)).Msg("Theme document rejected by schema")
		return Outcome{Stage: StageRejected, Patch: []models.Operation{}, Errors: errs, Version: readVersion}, nil
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	var stored models.StoredTheme
	if readVersion == 0 {
		stored, err = s.store.CreateDocument(qctx, userID, doc, s.cfg.SchemaVersion)
	} else {
		stored, err = s.store.SaveDocument(qctx, userID, doc, readVersion, s.cfg.SchemaVersion, db.PatchAudit{
			Source:    SourceReplace,
			Patch:     []models.Operation{},
			RequestID: requestID(ctx),
		})
	}
	if err != nil {
		logPersistError(logger, err)
		return Outcome{}, err
	}

	logger.Info().Int64("version", stored.Version).Msg("Theme document stored")
	return Outcome{Valid: true, Stage: StageCommitted, Patch: []models.Operation{}, Theme: stored.Data, Version: stored.Version}, nil
}

// ApplyPatch commits client-supplied operations.
func (s *Service) ApplyPatch(ctx context.Context, userID string, ops []models.Operation, readVersion int64) (Outcome, error) {
	logger := flowLogger(ctx, SourceManual, userID)
	if err := models.ValidateUserID(userID); err != nil {
		return Outcome{}, invalid("%v", err)
	}
	if len(ops) == 0 {
		return Outcome{}, invalid("patch must contain at least one operation")
	}
	logger.Debug().Str("stage", string(StageReceived)).Int("ops", len(ops)).Msg("Patch request")

	stored, err := s.load(ctx, userID, readVersion)
	if err != nil {
		return Outcome{}, err
	}
	return s.commit(ctx, logger, stored, ops, SourceManual, Outcome{})
}

// PatchFromPalette recolors the document with the tree-walk generator.
func (s *Service) PatchFromPalette(ctx context.Context, userID string, req PaletteRequest) (Outcome, error) {
	logger := flowLogger(ctx, SourcePalette, userID)
	if err := models.ValidateUserID(userID); err != nil {
		return Outcome{}, invalid("%v", err)
	}
	if err := checkPaletteInput(req.Palette, req.ImageURL); err != nil {
		return Outcome{}, err
	}
	if err := checkMode(req.Mode); err != nil {
		return Outcome{}, err
	}
	logger.Debug().Str("stage", string(StageReceived)).Msg("Palette patch request")

	result, stored, err := s.paletteAndDocument(ctx, userID, req.Palette, req.ImageURL, req.Mode, req.Version)
	if err != nil {
		return Outcome{}, err
	}
	logger.Debug().Str("stage", string(StagePaletteExtracted)).Str("palette_source", string(result.Source)).Msg("Palette ready")

	prefixes := req.AllowPrefixes
	if len(prefixes) == 0 {
		prefixes = s.cfg.AllowPrefixes
	}
	ops := s.withinScope(logger, patch.GeneratePatch(result.Palette, stored.Data, prefixes, req.AllowFontChange))
	logger.Debug().Str("stage", string(StageOpsGenerated)).Int("ops", len(ops)).Msg("Generated palette ops")

	base := paletteOutcome(result)
	if len(ops) == 0 {
		return noop(stored, base, MessageNoChanges), nil
	}
	return s.commit(ctx, logger, stored, ops, SourcePalette, base)
}

// PatchFromVision recolors the whitelisted paths only.
func (s *Service) PatchFromVision(ctx context.Context, userID string, req VisionRequest) (Outcome, error) {
	logger := flowLogger(ctx, SourceVision, userID)
	if err := models.ValidateUserID(userID); err != nil {
		return Outcome{}, invalid("%v", err)
	}
	if err := checkPaletteInput(req.Palette, req.ImageURL); err != nil {
		return Outcome{}, err
	}
	logger.Debug().Str("stage", string(StageReceived)).Msg("Vision patch request")

	result, stored, err := s.paletteAndDocument(ctx, userID, req.Palette, req.ImageURL, ModeVision, req.Version)
	if err != nil {
		return Outcome{}, err
	}
	logger.Debug().Str("stage", string(StagePaletteExtracted)).Str("palette_source", string(result.Source)).Msg("Palette ready")

	rules := patch.DefaultRules()
	if req.Rules != nil {
		rules = *req.Rules
	}
	ops := s.withinScope(logger, patch.BuildVisionOps(result.Palette, stored.Data, req.Targets, rules))
	logger.Debug().Str("stage", string(StageOpsGenerated)).Int("ops", len(ops)).Msg("Generated vision ops")

	base := paletteOutcome(result)
	if len(ops) == 0 {
		return noop(stored, base, MessageNoChangesPossible), nil
	}
	return s.commit(ctx, logger, stored, ops, SourceVision, base)
}

// PatchFromPrompt asks the language model for a patch.
func (s *Service) PatchFromPrompt(ctx context.Context, userID string, req PromptRequest) (Outcome, error) {
	logger := flowLogger(ctx, SourcePrompt, userID)
	if err := models.ValidateUserID(userID); err != nil {
		return Outcome{}, invalid("%v", err)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Outcome{}, invalid("prompt is required")
	}
	if req.TargetPath != "" && !strings.HasPrefix(req.TargetPath, "/") {
		return Outcome{}, invalid("targetPath must be a JSON pointer starting with /")
	}
	logger.Debug().Str("stage", string(StageReceived)).Msg("Prompt patch request")

	stored, err := s.load(ctx, userID, req.Version)
	if err != nil {
		return Outcome{}, err
	}
	logger.Debug().Str("stage", string(StagePromptParsed)).Str("target", req.TargetPath).Msg("Prompt accepted")

	generated := s.prompts.Generate(ctx, prompt, stored.Data, req.TargetPath)
	generated.Ops = s.withinScope(logger, generated.Ops)
	logger.Debug().Str("stage", string(StageOpsGenerated)).Int("ops", len(generated.Ops)).Str("mode", string(generated.Mode)).Msg("Generated prompt ops")

	if len(generated.Ops) == 0 {
		message := MessageNoChanges
		if generated.Reason != "" && generated.Reason != MessageNoChanges {
			message = MessageNoChanges + ": " + generated.Reason
		}
		return noop(stored, Outcome{}, message), nil
	}
	return s.commit(ctx, logger, stored, generated.Ops, SourcePrompt, Outcome{})
}

// withinScope drops generated ops outside the configured allow-list. Request
// prefixes and targets can narrow the edit but never widen it past this.
func (s *Service) withinScope(logger zerolog.Logger, ops []models.Operation) []models.Operation {
	kept := ops[:0:0]
	for _, op := range ops {
		if s.scope.Allowed(op.Path) {
			kept = append(kept, op)
			continue
		}
		logger.Debug().Str("path", op.Path).Msg("Dropped op outside allow-list")
	}
	return kept
}

// paletteAndDocument resolves the palette and loads the document concurrently.
func (s *Service) paletteAndDocument(ctx context.Context, userID string, p *models.Palette, imageURL string, mode ExtractMode, readVersion int64) (palette.Result, models.StoredTheme, error) {
	var result palette.Result
	var stored models.StoredTheme

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if p != nil {
			result = palette.Extracted(p.Normalized())
			return nil
		}
		result = s.extract(gctx, imageURL, mode)
		logExtraction(gctx, result)
		return nil
	})
	g.Go(func() error {
		var err error
		stored, err = s.load(gctx, userID, readVersion)
		return err
	})
	if err := g.Wait(); err != nil {
		return palette.Result{}, models.StoredTheme{}, err
	}
	return result, stored, nil
}

func (s *Service) extract(ctx context.Context, imageURL string, mode ExtractMode) palette.Result {
	if mode == ModeVision {
		return s.extractor.ExtractWithVision(ctx, imageURL)
	}
	return s.extractor.Extract(ctx, imageURL)
}

// load reads the document and checks it is still at the version the client saw.
func (s *Service) load(ctx context.Context, userID string, readVersion int64) (models.StoredTheme, error) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	stored, err := s.store.GetDocument(qctx, userID)
	if err != nil {
		return models.StoredTheme{}, err
	}
	if readVersion != 0 && readVersion != stored.Version {
		return models.StoredTheme{}, fmt.Errorf("%w: client has version %d, stored version is %d", db.ErrVersionConflict, readVersion, stored.Version)
	}
	return stored, nil
}

// commit applies ops to a copy, validates it, and saves it conditionally on
// the version that was read.
func (s *Service) commit(ctx context.Context, logger zerolog.Logger, stored models.StoredTheme, ops []models.Operation, source string, base Outcome) (Outcome, error) {
	compiled, err := s.schemas.Get(ctx, stored.SchemaVersion)
	if err != nil {
		return Outcome{}, fmt.Errorf("load schema: %w", err)
	}

	applied := patch.ApplyAndValidate(stored.Data, ops, compiled)
	if applied.Applied {
		logger.Debug().Str("stage", string(StageCopyApplied)).Int("ops", len(ops)).Msg("Patch applied to copy")
	}
	if !applied.OK {
		logger.Info().
			Str("stage", string(StageRejected)).
			Int("ops", len(ops)).
			Int("errors", len(applied.Errors)).
			Msg("Patch rejected")
		base.Stage = StageRejected
		base.Patch = ops
		base.Errors = applied.Errors
		base.Version = stored.Version
		base.Message = "patch rejected"
		return base, nil
	}
	logger.Debug().Str("stage", string(StageSchemaValidated)).Msg("Patched copy validated")

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	saved, err := s.store.SaveDocument(qctx, stored.UserID, applied.Document, stored.Version, stored.SchemaVersion, db.PatchAudit{
		Source:    source,
		Patch:     ops,
		RequestID: requestID(ctx),
	})
	if err != nil {
		logPersistError(logger, err)
		return Outcome{}, err
	}

	logger.Info().
		Str("stage", string(StageCommitted)).
		Int("ops", len(ops)).
		Int64("version", saved.Version).
		Msg("Patch committed")

	base.Valid = true
	base.Stage = StageCommitted
	base.Patch = ops
	base.Theme = saved.Data
	base.Version = saved.Version
	return base, nil
}

func noop(stored models.StoredTheme, base Outcome, message string) Outcome {
	base.Valid = true
	base.Stage = StageNoop
	base.Patch = []models.Operation{}
	base.Theme = stored.Data
	base.Version = stored.Version
	base.Message = message
	return base
}

func paletteOutcome(result palette.Result) Outcome {
	p := result.Palette
	out := Outcome{PaletteSource: result.Source, Palette: &p}
	if result.Degraded() {
		out.Message = "image could not be analyzed, default palette used: " + result.Reason
	}
	return out
}

func checkPaletteInput(p *models.Palette, imageURL string) error {
	hasURL := strings.TrimSpace(imageURL) != ""
	switch {
	case p != nil && hasURL:
		return invalid("palette and imageUrl are mutually exclusive")
	case p == nil && !hasURL:
		return invalid("either palette or imageUrl is required")
	case p != nil:
		if err := p.Validate(); err != nil {
			return invalid("%v", err)
		}
	}
	return nil
}

func checkMode(mode ExtractMode) error {
	switch mode {
	case "", ModeKMeans, ModeVision:
		return nil
	default:
		return invalid("mode must be %q or %q", ModeKMeans, ModeVision)
	}
}

type requestIDKey struct{}

// WithRequestID stores the request id so it lands in the patch log.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func flowLogger(ctx context.Context, flow, userID string) zerolog.Logger {
	return log.Ctx(ctx).With().Str("flow", flow).Str("user_id", userID).Logger()
}

func logExtraction(ctx context.Context, result palette.Result) {
	if result.Degraded() {
		log.Ctx(ctx).Warn().Str("reason", result.Reason).Msg("Palette extraction degraded to default palette")
	}
}

func logPersistError(logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, db.ErrVersionConflict):
		logger.Info().Err(err).Msg("Version conflict; client must reload")
	case errors.Is(err, db.ErrDocumentNotFound), errors.Is(err, db.ErrDocumentExists):
		logger.Info().Err(err).Msg("Theme document state mismatch")
	default:
		logger.Error().Err(err).Msg("Failed to persist theme document")
	}
}
