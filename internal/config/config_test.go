package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndSecrets(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")
	path := writeConfig(t, `
app:
  name: skinforge
  environment: development
  port: 8080
database:
  driver: sqlite
  filename: data/skinforge.db
engine:
  fetch_timeout: 3s
  clusters: 4
llm:
  model: gpt-4o
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" || !cfg.LLM.Enabled() {
		t.Fatalf("api key not loaded from environment")
	}
	if cfg.Engine.FetchTimeout != 3*time.Second {
		t.Fatalf("fetch timeout = %v, want 3s", cfg.Engine.FetchTimeout)
	}
	if cfg.Engine.Clusters != 4 || cfg.Engine.Iterations != 8 || cfg.Engine.SampleCap != 1000 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.LLM.VisionModel != "gpt-4o" {
		t.Fatalf("vision model = %q, want fallback to model", cfg.LLM.VisionModel)
	}
	if cfg.Engine.SchemaVersion != "1.0.0" {
		t.Fatalf("schema version = %q", cfg.Engine.SchemaVersion)
	}
	if !cfg.Retention.Enabled() || cfg.Retention.PruneCron != "0 3 * * *" {
		t.Fatalf("retention = %+v, want default nightly prune", cfg.Retention)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development environment")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := writeConfig(t, "app:\n  name: skinforge\n  port: 8080\ndatabase:\n  driver: sqlite\n  filename: x.db\n")
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("LLM_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("LLM_API_KEY", "")
	os.Unsetenv("LLM_API_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "from-dotenv" {
		t.Fatalf("api key = %q, want from-dotenv", cfg.LLM.APIKey)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.App.Name = "skinforge"
		cfg.App.Port = 8080
		cfg.Database.Driver = "sqlite"
		cfg.Database.Filename = "x.db"
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no_name", mutate: func(c *Config) { c.App.Name = "" }, want: "app name"},
		{name: "no_port", mutate: func(c *Config) { c.App.Port = 0 }, want: "port"},
		{name: "bad_driver", mutate: func(c *Config) { c.Database.Driver = "turso" }, want: "unsupported"},
		{name: "no_filename", mutate: func(c *Config) { c.Database.Filename = "" }, want: "filename"},
		{name: "tiny_sample", mutate: func(c *Config) { c.Engine.SampleCap = 2 }, want: "sample_cap"},
		{name: "negative_timeout", mutate: func(c *Config) { c.LLM.Timeout = -time.Second }, want: "timeouts"},
		{name: "bad_cron", mutate: func(c *Config) { c.Retention.PruneCron = "nightly" }, want: "prune_cron"},
		{name: "retention_off", mutate: func(c *Config) { c.Retention.PatchLogMaxAge = -1; c.Retention.PruneCron = "nightly" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := base()
			test.mutate(cfg)
			err := cfg.Validate()
			if test.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("Validate() error = %v, want containing %q", err, test.want)
			}
		})
	}
}
