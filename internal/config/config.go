// Package config loads havend configuration: compiled defaults, an
// optional TOML file, then environment overrides, in that order.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Data      DataConfig      `toml:"data"`
	Inference InferenceConfig `toml:"inference"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Context   ContextConfig   `toml:"context"`
	Vault     VaultConfig     `toml:"vault"`
	Authz     AuthzConfig     `toml:"authz"`
	Observer  ObserverConfig  `toml:"observer"`
}

type ServerConfig struct {
	Addr        string `toml:"addr"`
	Environment string `toml:"environment"` // "development" or "production"
	LogLevel    string `toml:"log_level"`
}

type DataConfig struct {
	// Dir holds the database files plus the uploads/ and vault_files/
	// subdirectories.
	Dir string `toml:"dir"`
}

type InferenceConfig struct {
	BaseURL        string `toml:"base_url"`
	DefaultModel   string `toml:"default_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// RPM caps upstream requests per minute. Zero disables the cap.
	RPM int `toml:"rpm"`
}

type EmbeddingConfig struct {
	Backend    string `toml:"backend"` // "", "accelerated", "http", "hash"
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

type ContextConfig struct {
	Workers       int `toml:"workers"`
	QueueSize     int `toml:"queue_size"`
	RetentionDays int `toml:"retention_days"`
}

type VaultConfig struct {
	Pepper string `toml:"pepper"`
}

type AuthzConfig struct {
	Founders []string `toml:"founders"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: "127.0.0.1:8080", Environment: "production", LogLevel: "info"},
		Data:      DataConfig{Dir: "data"},
		Inference: InferenceConfig{BaseURL: "http://127.0.0.1:11434", DefaultModel: "llama3", TimeoutSeconds: 300},
		Embedding: EmbeddingConfig{BaseURL: "http://127.0.0.1:11434", Model: "nomic-embed-text"},
		Context:   ContextConfig{Workers: 2, QueueSize: 256, RetentionDays: 30},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "haven.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("HAVEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("HAVEN_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("HAVEN_INFERENCE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("HAVEN_DEFAULT_MODEL"); v != "" {
		cfg.Inference.DefaultModel = v
	}
	if v := os.Getenv("EMBEDDING_BACKEND"); v != "" {
		cfg.Embedding.Backend = v
	}
	if v := os.Getenv("CONTEXT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Context.Workers = n
		}
	}
	if v := os.Getenv("CONTEXT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Context.RetentionDays = n
		}
	}
	if v := os.Getenv("HAVEN_VAULT_PEPPER"); v != "" {
		cfg.Vault.Pepper = v
	}
	if os.Getenv("HAVEN_OBSERVER_ENABLED") == "true" || os.Getenv("HAVEN_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// Development reports whether the server runs with relaxed limits.
func (c Config) Development() bool {
	return c.Server.Environment == "development"
}
