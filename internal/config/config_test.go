package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Inference.BaseURL != "http://127.0.0.1:11434" {
		t.Errorf("expected local inference URL, got %s", cfg.Inference.BaseURL)
	}
	if cfg.Inference.TimeoutSeconds != 300 {
		t.Errorf("expected 300s timeout, got %d", cfg.Inference.TimeoutSeconds)
	}
	if cfg.Context.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Context.Workers)
	}
	if cfg.Context.RetentionDays != 30 {
		t.Errorf("expected 30 day retention, got %d", cfg.Context.RetentionDays)
	}
	if cfg.Development() {
		t.Error("default config should not be development")
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "haven.toml")
	os.WriteFile(path, []byte(`
[server]
environment = "development"

[inference]
default_model = "qwen2.5"

[context]
workers = 8
`), 0644)

	cfg := Load(path)
	if !cfg.Development() {
		t.Error("expected development environment")
	}
	if cfg.Inference.DefaultModel != "qwen2.5" {
		t.Errorf("expected qwen2.5, got %s", cfg.Inference.DefaultModel)
	}
	if cfg.Context.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Context.Workers)
	}
	// Defaults preserved
	if cfg.Data.Dir != "data" {
		t.Errorf("default data dir should be preserved, got %s", cfg.Data.Dir)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EMBEDDING_BACKEND", "hash")
	t.Setenv("CONTEXT_WORKERS", "4")
	t.Setenv("CONTEXT_RETENTION_DAYS", "7")
	t.Setenv("ENVIRONMENT", "development")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Embedding.Backend != "hash" {
		t.Errorf("expected hash backend, got %s", cfg.Embedding.Backend)
	}
	if cfg.Context.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Context.Workers)
	}
	if cfg.Context.RetentionDays != 7 {
		t.Errorf("expected 7 day retention, got %d", cfg.Context.RetentionDays)
	}
	if !cfg.Development() {
		t.Error("expected development environment from env")
	}
}

func TestEnvOverrideIgnoresBadNumbers(t *testing.T) {
	t.Setenv("CONTEXT_WORKERS", "not-a-number")
	t.Setenv("CONTEXT_RETENTION_DAYS", "-3")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Context.Workers != 2 {
		t.Errorf("bad env value should keep default, got %d", cfg.Context.Workers)
	}
	if cfg.Context.RetentionDays != 30 {
		t.Errorf("negative retention should keep default, got %d", cfg.Context.RetentionDays)
	}
}
