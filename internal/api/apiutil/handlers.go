package apiutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// MaxJSONBodyBytes bounds every decoded request body.
const MaxJSONBodyBytes = 2 << 20

type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type HandlerError struct {
	Status  int
	Message string
	Err     error
}

func (e HandlerError) Error() string {
	return e.Message
}

func (e HandlerError) Unwrap() error {
	return e.Err
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// DecodeJSON decodes a single JSON value into dst. Failures are 400
// HandlerErrors ready for WriteError.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return badRequest("Missing request body", nil)
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("Missing request body", err)
		}
		return badRequest(fmt.Sprintf("Invalid JSON body: %v", err), err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return badRequest("Invalid JSON body: unexpected data after the first value", err)
	}
	return nil
}

func badRequest(message string, err error) HandlerError {
	return HandlerError{Status: http.StatusBadRequest, Message: message, Err: err}
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if err := encoder.Encode(payload); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteError renders err as a JSON error body. HandlerError and FieldError
// keep their status and message; anything else is a 500 with a generic body.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := errorResponse{Error: "Internal Server Error", RequestID: w.Header().Get("X-Request-ID")}

	var handlerErr HandlerError
	var fieldErr FieldError
	switch {
	case errors.As(err, &fieldErr):
		status = http.StatusBadRequest
		body.Error = fieldErr.Error()
		body.Field = fieldErr.Field
	case errors.As(err, &handlerErr):
		status = handlerErr.Status
		body.Error = handlerErr.Message
	}

	if status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("Request failed")
	}
	if writeErr := WriteJSON(w, status, body); writeErr != nil {
		log.Ctx(r.Context()).Error().Err(writeErr).Msg("Failed to write error response")
	}
}

func IsJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// ImageContentType returns the media type of an image/* body, or "".
func ImageContentType(r *http.Request) string {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return ""
	}
	return mediaType
}
