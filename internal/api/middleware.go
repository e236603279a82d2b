// internal/api/middleware.go
package api

import (
	"context"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/skinforge/internal/api/apiutil"
	"github.com/codr1/skinforge/internal/engine"
	"github.com/codr1/skinforge/internal/ratelimit"
)

const requestIDHeader = "X-Request-ID"

type Middleware func(http.Handler) http.Handler

type requestIDKey struct{}

// ChainMiddleware wraps h so the first middleware listed is the innermost.
func ChainMiddleware(h http.Handler, middleware ...Middleware) http.Handler {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithLogging writes one access log line per request. Server errors log at
// error level and client errors at warn.
func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		logger := log.Ctx(r.Context())
		var event *zerolog.Event
		switch {
		case recorder.status >= http.StatusInternalServerError:
			event = logger.Error()
		case recorder.status >= http.StatusBadRequest:
			event = logger.Warn()
		default:
			event = logger.Info()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Int("bytes", recorder.bytes).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}

func WithRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Ctx(r.Context()).Error().
					Interface("panic", recovered).
					Str("stack", string(debug.Stack())).
					Msg("Panic recovered")
				apiutil.WriteError(w, r, apiutil.HandlerError{
					Status:  http.StatusInternalServerError,
					Message: "Internal Server Error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// WithRequestID tags the request with an id, reusing a well-formed inbound
// X-Request-ID so a caller can correlate its own logs with the patch log.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		if inbound, err := uuid.Parse(strings.TrimSpace(r.Header.Get(requestIDHeader))); err == nil {
			requestID = inbound.String()
		}

		logger := log.With().Str("request_id", requestID).Logger()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = engine.WithRequestID(ctx, requestID)
		ctx = logger.WithContext(ctx)

		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithContentType defaults Accept to JSON, the only representation served.
func WithContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "" {
			r.Header.Set("Accept", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// WithGenerationLimit throttles the extraction and generation routes per user
// and per client IP. The user comes from the {userID} path value; routes
// without one are limited by IP only.
func WithGenerationLimit(limiter *ratelimit.Limiter, trustProxy bool) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ratelimit.GetClientIP(r, trustProxy)
			userID := r.PathValue("userID")
			if userID == "" {
				userID = "ip:" + ip
			}

			decision := limiter.Allow(userID, ip)
			if !decision.Allowed {
				log.Ctx(r.Context()).Warn().
					Str("event", "rate_limit_exceeded").
					Str("user", ratelimit.MaskIdentifier(userID)).
					Str("ip", ip).
					Str("reason", decision.Reason).
					Dur("retry_after", decision.RetryAfter).
					Msg("Generation rate limit exceeded")
				seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				apiutil.WriteError(w, r, apiutil.HandlerError{
					Status:  http.StatusTooManyRequests,
					Message: "Too many generation requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(p []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}
