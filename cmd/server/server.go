// cmd/server/server.go
package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/skinforge/internal/api"
	"github.com/codr1/skinforge/internal/api/palettes"
	"github.com/codr1/skinforge/internal/api/themes"
	"github.com/codr1/skinforge/internal/config"
)

func newServer(cfg *config.Config, deps *services) *http.Server {
	router := http.NewServeMux()

	// Setup middleware chain
	handler := api.ChainMiddleware(
		router,
		api.WithLogging,
		api.WithRecovery,
		api.WithRequestID,
		api.WithContentType,
	)

	themes.InitHandlers(deps.engine)
	palettes.InitHandlers(deps.engine, cfg.Engine.MaxImageBytes)

	// Register routes
	registerRoutes(router, deps.ready, api.WithGenerationLimit(deps.limiter, cfg.RateLimit.TrustProxy))

	// Model calls and image fetches bound the write timeout.
	writeTimeout := cfg.LLM.Timeout + cfg.Engine.FetchTimeout + 15*time.Second

	return &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.App.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, ready func(context.Context) error, limit api.Middleware) {
	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if ready != nil {
			if err := ready(ctx); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("Health check failed")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Palette routes
	mux.Handle("POST /api/v1/palettes/extract", limit(http.HandlerFunc(palettes.HandleExtract)))

	// Theme document routes
	mux.HandleFunc("GET /api/v1/themes/{userID}", themes.HandleThemeGet)
	mux.HandleFunc("PUT /api/v1/themes/{userID}", themes.HandleThemePut)
	mux.HandleFunc("GET /api/v1/themes/{userID}/history", themes.HandleHistory)
	mux.HandleFunc("POST /api/v1/themes/{userID}/patch", themes.HandlePatch)

	// Generation routes
	mux.Handle("POST /api/v1/themes/{userID}/palette-patch", limit(http.HandlerFunc(themes.HandlePalettePatch)))
	mux.Handle("POST /api/v1/themes/{userID}/vision-patch", limit(http.HandlerFunc(themes.HandleVisionPatch)))
	mux.Handle("POST /api/v1/themes/{userID}/prompt-patch", limit(http.HandlerFunc(themes.HandlePromptPatch)))
}
