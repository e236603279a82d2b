// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver       string        `yaml:"driver"`
	Filename     string        `yaml:"filename"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// EngineConfig tunes palette extraction and patch generation.
type EngineConfig struct {
	SchemaVersion     string        `yaml:"schema_version"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	MaxImageBytes     int64         `yaml:"max_image_bytes"`
	MaxImagePixels    int           `yaml:"max_image_pixels"`
	SampleCap         int           `yaml:"sample_cap"`
	Clusters          int           `yaml:"clusters"`
	Iterations        int           `yaml:"iterations"`
	AccentMinDistance float64       `yaml:"accent_min_distance"`
	AllowPrefixes     []string      `yaml:"allow_prefixes"`
}

// LLMConfig points at an OpenAI-compatible endpoint. Generation features that
// need a model are disabled when APIKey is empty.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	VisionModel string        `yaml:"vision_model"`
	Timeout     time.Duration `yaml:"timeout"`
	APIKey      string        `yaml:"-"` // Loaded from environment
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	TrustProxy        bool          `yaml:"trust_proxy"`
	Cooldown          time.Duration `yaml:"cooldown"`
	MaxPerUserPerHour int           `yaml:"max_per_user_per_hour"`
	MaxPerIPPerHour   int           `yaml:"max_per_ip_per_hour"`
}

// RetentionConfig controls pruning of the patch log. A negative max age
// disables the job.
type RetentionConfig struct {
	PatchLogMaxAge time.Duration `yaml:"patch_log_max_age"`
	PruneCron      string        `yaml:"prune_cron"`
}

func (c RetentionConfig) Enabled() bool {
	return c.PatchLogMaxAge > 0
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
		BaseURL     string `yaml:"base_url"`
	} `yaml:"app"`

	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	LLM       LLMConfig       `yaml:"llm"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retention RetentionConfig `yaml:"retention"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Load sensitive values from environment
	cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills tuning values left out of the file.
func (c *Config) ApplyDefaults() {
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = 5 * time.Second
	}

	e := &c.Engine
	if e.SchemaVersion == "" {
		e.SchemaVersion = "1.0.0"
	}
	if e.FetchTimeout == 0 {
		e.FetchTimeout = 10 * time.Second
	}
	if e.MaxImageBytes == 0 {
		e.MaxImageBytes = 15 << 20
	}
	if e.MaxImagePixels == 0 {
		e.MaxImagePixels = 25_000_000
	}
	if e.SampleCap == 0 {
		e.SampleCap = 1000
	}
	if e.Clusters == 0 {
		e.Clusters = 5
	}
	if e.Iterations == 0 {
		e.Iterations = 8
	}
	if e.AccentMinDistance == 0 {
		e.AccentMinDistance = 60
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.VisionModel == "" {
		c.LLM.VisionModel = c.LLM.Model
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}

	r := &c.RateLimit
	if r.Cooldown == 0 {
		r.Cooldown = 2 * time.Second
	}
	if r.MaxPerUserPerHour == 0 {
		r.MaxPerUserPerHour = 120
	}
	if r.MaxPerIPPerHour == 0 {
		r.MaxPerIPPerHour = 600
	}

	if c.Retention.PatchLogMaxAge == 0 {
		c.Retention.PatchLogMaxAge = 90 * 24 * time.Hour
	}
	if c.Retention.PruneCron == "" {
		c.Retention.PruneCron = "0 3 * * *"
	}
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Filename == "" {
			return fmt.Errorf("database filename is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Engine.Clusters < 1 {
		return fmt.Errorf("engine clusters must be at least 1")
	}
	if c.Engine.Iterations < 1 {
		return fmt.Errorf("engine iterations must be at least 1")
	}
	if c.Engine.SampleCap < c.Engine.Clusters {
		return fmt.Errorf("engine sample_cap must be at least clusters (%d)", c.Engine.Clusters)
	}
	if c.Engine.MaxImageBytes < 0 || c.Engine.MaxImagePixels < 0 {
		return fmt.Errorf("engine image limits must be positive")
	}
	if c.Engine.FetchTimeout < 0 || c.LLM.Timeout < 0 || c.Database.QueryTimeout < 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Retention.Enabled() {
		if _, err := cron.ParseStandard(c.Retention.PruneCron); err != nil {
			return fmt.Errorf("retention prune_cron %q: %w", c.Retention.PruneCron, err)
		}
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
