// internal/api/themes/handlers.go
package themes

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/codr1/skinforge/internal/api/apiutil"
	"github.com/codr1/skinforge/internal/db"
	"github.com/codr1/skinforge/internal/engine"
	"github.com/codr1/skinforge/internal/models"
)

const userIDParam = "userID"

var (
	service     themeService
	serviceOnce sync.Once
)

// themeService is the slice of engine.Service the handlers use.
type themeService interface {
	GetDocument(ctx context.Context, userID string) (models.StoredTheme, error)
	PutDocument(ctx context.Context, userID string, doc models.Document, readVersion int64) (engine.Outcome, error)
	ApplyPatch(ctx context.Context, userID string, ops []models.Operation, readVersion int64) (engine.Outcome, error)
	PatchFromPalette(ctx context.Context, userID string, req engine.PaletteRequest) (engine.Outcome, error)
	PatchFromVision(ctx context.Context, userID string, req engine.VisionRequest) (engine.Outcome, error)
	PatchFromPrompt(ctx context.Context, userID string, req engine.PromptRequest) (engine.Outcome, error)
	History(ctx context.Context, userID string, limit int) ([]db.PatchLogEntry, error)
}

type putRequest struct {
	ThemeData models.Document `json:"themeData"`
	Version   int64           `json:"version"`
}

type patchRequest struct {
	Patch   []models.Operation `json:"patch"`
	Version int64              `json:"version"`
}

type historyResponse struct {
	UserID  string             `json:"userId"`
	Entries []db.PatchLogEntry `json:"entries"`
}

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(s *engine.Service) {
	if s == nil {
		return
	}
	serviceOnce.Do(func() {
		service = s
	})
}

// GET /api/v1/themes/{userID}
func HandleThemeGet(w http.ResponseWriter, r *http.Request) {
	s := loadService(w, r)
	if s == nil {
		return
	}
	userID := r.PathValue(userIDParam)

	stored, err := s.GetDocument(r.Context(), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(stored.Version, 10)))
	if err := apiutil.WriteJSON(w, http.StatusOK, stored); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("Failed to write theme response")
	}
}

// PUT /api/v1/themes/{userID}
func HandleThemePut(w http.ResponseWriter, r *http.Request) {
	s := loadService(w, r)
	if s == nil {
		return
	}
	userID := r.PathValue(userIDParam)

	var req putRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	version, err := apiutil.VersionFromRequest(r, req.Version)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	outcome, err := s.PutDocument(r.Context(), userID, req.ThemeData, version)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	status := http.StatusOK
	if outcome.Stage == engine.StageCommitted && version == 0 {
		status = http.StatusCreated
	}
	writeOutcome(w, r, outcome, status)
}

// POST /api/v1/themes/{userID}/patch
func HandlePatch(w http.ResponseWriter, r *http.Request) {
	s := loadService(w, r)
	if s == nil {
		return
	}

	var req patchRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	version, err := apiutil.VersionFromRequest(r, req.Version)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	outcome, err := s.ApplyPatch(r.Context(), r.PathValue(userIDParam), req.Patch, version)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeOutcome(w, r, outcome, http.StatusOK)
}

// POST /api/v1/themes/{userID}/palette-patch
func HandlePalettePatch(w http.ResponseWriter, r *http.Request) {
	s := loadService(w, r)
	if s == nil {
		return
	}

	var req engine.PaletteRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	version, err := apiutil.VersionFromRequest(r, req.Version)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	req.Version = version

	outcome, err := s.PatchFromPalette(r.Context(), r.PathValue(userIDParam), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeOutcome(w, r, outcome, http.StatusOK)
}

// POST /api/v1/themes/{userID}/vision-patch
func HandleVisionPatch(w http.ResponseWriter, r *http.Request) {
	s := loadService(w, r)
	if s == nil {
		return
	}

	var req engine.VisionRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	version, err := apiutil.VersionFromRequest(r, req.Version)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	req.Version = version

	outcome, err := s.PatchFromVision(r.Context(), r.PathValue(userIDParam), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeOutcome(w, r, outcome, http.StatusOK)
}

// POST /api/v1/themes/{userID}/prompt-patch
func HandlePromptPatch(w http.ResponseWriter, r *http.Request) {
	s := loadService(w, r)
	if s == nil {
		return
	}

	var req engine.PromptRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	version, err := apiutil.VersionFromRequest(r, req.Version)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	req.Version = version

	outcome, err := s.PatchFromPrompt(r.Context(), r.PathValue(userIDParam), req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeOutcome(w, r, outcome, http.StatusOK)
}

// GET /api/v1/themes/{userID}/history
func HandleHistory(w http.ResponseWriter, r *http.Request) {
	s := loadService(w, r)
	if s == nil {
		return
	}
	userID := r.PathValue(userIDParam)

	limit, err := apiutil.LimitFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	entries, err := s.History(r.Context(), userID, limit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if err := apiutil.WriteJSON(w, http.StatusOK, historyResponse{UserID: userID, Entries: entries}); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("Failed to write history response")
	}
}

// writeOutcome sends rejected outcomes as 422 so clients can tell them apart
// from committed and no-op results.
func writeOutcome(w http.ResponseWriter, r *http.Request, outcome engine.Outcome, status int) {
	if outcome.Rejected() {
		status = http.StatusUnprocessableEntity
	}
	if outcome.Version > 0 {
		w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(outcome.Version, 10)))
	}
	if err := apiutil.WriteJSON(w, status, outcome); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("stage", string(outcome.Stage)).Msg("Failed to write outcome")
	}
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	apiutil.WriteError(w, r, classify(err))
}

func classify(err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		return apiutil.HandlerError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, db.ErrDocumentNotFound):
		return apiutil.HandlerError{Status: http.StatusNotFound, Message: "Theme document not found", Err: err}
	case errors.Is(err, db.ErrVersionConflict):
		return apiutil.HandlerError{Status: http.StatusConflict, Message: "Theme document was modified; reload and retry", Err: err}
	case errors.Is(err, db.ErrDocumentExists):
		return apiutil.HandlerError{Status: http.StatusConflict, Message: "Theme document already exists; send its version to replace it", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return apiutil.HandlerError{Status: http.StatusGatewayTimeout, Message: "Request timed out", Err: err}
	default:
		return err
	}
}

func loadService(w http.ResponseWriter, r *http.Request) themeService {
	if service == nil {
		log.Ctx(r.Context()).Error().Msg("Theme service not initialized")
		apiutil.WriteError(w, r, errors.New("theme service not initialized"))
		return nil
	}
	return service
}
