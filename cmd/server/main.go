// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/codr1/skinforge/internal/config"
	"github.com/codr1/skinforge/internal/db"
	"github.com/codr1/skinforge/internal/engine"
	"github.com/codr1/skinforge/internal/llm"
	"github.com/codr1/skinforge/internal/palette"
	"github.com/codr1/skinforge/internal/patch"
	"github.com/codr1/skinforge/internal/ratelimit"
	"github.com/codr1/skinforge/internal/scheduler"
	"github.com/codr1/skinforge/internal/schema"
)

const shutdownTimeout = 30 * time.Second

func setupLogger(environment string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}

// services are the long-lived dependencies the routes need.
type services struct {
	engine    *engine.Service
	limiter   *ratelimit.Limiter
	scheduler *scheduler.Service
	ready     func(context.Context) error
}

func buildServices(ctx context.Context, cfg *config.Config, database *db.DB) (*services, error) {
	store := db.NewThemeStore(database)
	versions, err := store.SeedSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed schemas: %w", err)
	}
	log.Info().Strs("schema_versions", versions).Msg("Theme schemas ready")

	schemas := schema.NewCache(store.GetSchema)
	if _, err := schemas.Get(ctx, cfg.Engine.SchemaVersion); err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", cfg.Engine.SchemaVersion, err)
	}

	var (
		vision palette.VisionModel
		chat   patch.ChatCompleter
	)
	if cfg.LLM.Enabled() {
		client, err := llm.NewClient(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			VisionModel: cfg.LLM.VisionModel,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
		vision, chat = client, client
		log.Info().Str("model", cfg.LLM.Model).Str("vision_model", cfg.LLM.VisionModel).Msg("Language model enabled")
	} else {
		log.Warn().Msg("LLM_API_KEY not set; prompt patches and vision extraction will fall back")
	}

	extractor := palette.NewExtractor(palette.Config{
		FetchTimeout:      cfg.Engine.FetchTimeout,
		MaxImageBytes:     cfg.Engine.MaxImageBytes,
		MaxImagePixels:    cfg.Engine.MaxImagePixels,
		SampleCap:         cfg.Engine.SampleCap,
		Clusters:          cfg.Engine.Clusters,
		Iterations:        cfg.Engine.Iterations,
		AccentMinDistance: cfg.Engine.AccentMinDistance,
	}, nil, vision)

	svc := engine.NewService(engine.Config{
		SchemaVersion: cfg.Engine.SchemaVersion,
		AllowPrefixes: cfg.Engine.AllowPrefixes,
		QueryTimeout:  cfg.Database.QueryTimeout,
	}, store, schemas, extractor, patch.NewPromptGenerator(chat, cfg.Engine.AllowPrefixes))

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(&ratelimit.Config{
			Cooldown:          cfg.RateLimit.Cooldown,
			MaxPerUserPerHour: cfg.RateLimit.MaxPerUserPerHour,
			MaxPerIPPerHour:   cfg.RateLimit.MaxPerIPPerHour,
		})
	}

	var jobs *scheduler.Service
	if cfg.Retention.Enabled() {
		jobs, err = scheduler.New()
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		retention, err := scheduler.PatchLogRetention(store, cfg.Retention.PatchLogMaxAge, cfg.Retention.PruneCron)
		if err != nil {
			return nil, err
		}
		if err := jobs.Register(retention); err != nil {
			return nil, err
		}
	}

	return &services{engine: svc, limiter: limiter, scheduler: jobs, ready: database.Healthy}, nil
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.App.Environment)

	database, err := db.NewFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("filename", cfg.Database.Filename).Msg("Failed to open database")
	}
	defer database.Close()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildServices(ctx, cfg, database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	if deps.limiter != nil {
		defer deps.limiter.Close()
	}
	if deps.scheduler != nil {
		deps.scheduler.Start()
		defer func() {
			if err := deps.scheduler.Stop(); err != nil {
				log.Error().Err(err).Msg("Failed to stop scheduler")
			}
		}()
	}

	// Create server instance
	server := newServer(cfg, deps)

	g, ctx := errgroup.WithContext(ctx)

	// Run server
	g.Go(func() error {
		log.Info().Int("port", cfg.App.Port).Str("environment", cfg.App.Environment).Msg("Starting server")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Wait for interrupt signal
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info().Msg("Shutting down server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server terminated with error")
		os.Exit(1)
	}
}
