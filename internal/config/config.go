package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Extractor kinds.
const (
	ExtractorClaude = "claude"
	ExtractorRules  = "rules"
)

// Config holds all configuration for entitymesh.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Claude    ClaudeConfig    `mapstructure:"claude"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Engine    EngineConfig    `mapstructure:"engine"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StoreConfig holds session store settings.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"` // memory or badger
	Path       string `mapstructure:"path"`    // badger data directory
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// ClaudeConfig holds Anthropic Claude API settings.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", maskAPIKey(c.APIKey), c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// ExtractorConfig selects the extraction collaborator.
type ExtractorConfig struct {
	Kind string `mapstructure:"kind"` // claude or rules
}

// EngineConfig holds CRUD engine settings.
type EngineConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.path", filepath.Join(homeDir(), ".entitymesh", "data"))
	v.SetDefault("store.sync_writes", true)

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("extractor.kind", ExtractorRules)

	v.SetDefault("engine.max_retries", 3)

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".entitymesh"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("ENTITYMESH")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("store.backend", "ENTITYMESH_STORE_BACKEND")
	_ = v.BindEnv("store.path", "ENTITYMESH_STORE_PATH")
	_ = v.BindEnv("api.listen_addr", "ENTITYMESH_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "ENTITYMESH_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK — use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must not be empty for the badger backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendBadger, c.Store.Backend)
	}

	switch c.Extractor.Kind {
	case ExtractorRules:
	case ExtractorClaude:
		if c.Claude.APIKey == "" {
			return fmt.Errorf("claude.api_key must be set for the claude extractor (or use ANTHROPIC_API_KEY)")
		}
	default:
		return fmt.Errorf("extractor.kind must be %q or %q, got %q", ExtractorClaude, ExtractorRules, c.Extractor.Kind)
	}

	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0")
	}

	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
