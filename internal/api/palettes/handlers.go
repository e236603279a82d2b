// internal/api/palettes/handlers.go
package palettes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/codr1/skinforge/internal/api/apiutil"
	"github.com/codr1/skinforge/internal/engine"
	"github.com/codr1/skinforge/internal/palette"
)

const defaultMaxImageBytes = 15 << 20

var (
	extractor     paletteService
	maxImageBytes int64 = defaultMaxImageBytes
	extractorOnce sync.Once
)

type paletteService interface {
	ExtractPalette(ctx context.Context, imageURL string, mode engine.ExtractMode) (palette.Result, error)
	ExtractPaletteBytes(ctx context.Context, data []byte, mode engine.ExtractMode) (palette.Result, error)
}

type extractRequest struct {
	ImageURL string             `json:"imageUrl"`
	Mode     engine.ExtractMode `json:"mode"`
}

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(s *engine.Service, maxBytes int64) {
	if s == nil {
		return
	}
	extractorOnce.Do(func() {
		extractor = s
		if maxBytes > 0 {
			maxImageBytes = maxBytes
		}
	})
}

// POST /api/v1/palettes/extract
//
// Accepts either {"imageUrl": ..., "mode": ...} or a raw image/* body with the
// mode in the query string. Extraction never fails; a fallback result says why.
func HandleExtract(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())
	if extractor == nil {
		logger.Error().Msg("Palette service not initialized")
		apiutil.WriteError(w, r, errors.New("palette service not initialized"))
		return
	}

	var (
		result palette.Result
		err    error
	)
	if contentType := apiutil.ImageContentType(r); contentType != "" {
		data, readErr := readImage(w, r)
		if readErr != nil {
			apiutil.WriteError(w, r, readErr)
			return
		}
		mode := engine.ExtractMode(r.URL.Query().Get("mode"))
		logger.Debug().Str("content_type", contentType).Int("bytes", len(data)).Msg("Extracting palette from upload")
		result, err = extractor.ExtractPaletteBytes(r.Context(), data, mode)
	} else if r.Header.Get("Content-Type") != "" && !apiutil.IsJSONRequest(r) {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusUnsupportedMediaType, Message: "Send JSON or an image/* body"})
		return
	} else {
		var req extractRequest
		if decodeErr := apiutil.DecodeJSON(r, &req); decodeErr != nil {
			apiutil.WriteError(w, r, decodeErr)
			return
		}
		mode := engine.ExtractMode(apiutil.FirstNonEmpty(string(req.Mode), r.URL.Query().Get("mode")))
		result, err = extractor.ExtractPalette(r.Context(), req.ImageURL, mode)
	}
	if err != nil {
		if errors.Is(err, engine.ErrInvalidRequest) {
			apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: err.Error(), Err: err})
			return
		}
		apiutil.WriteError(w, r, err)
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, result); err != nil {
		logger.Error().Err(err).Msg("Failed to write palette response")
	}
}

func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apiutil.HandlerError{Status: http.StatusRequestEntityTooLarge, Message: "Image is too large", Err: err}
		}
		return nil, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Failed to read image body", Err: err}
	}
	return data, nil
}
