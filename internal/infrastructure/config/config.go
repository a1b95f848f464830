// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv("config.yaml")
//	dbPath := cfg.Storage.DatabasePath
//	bases := cfg.Reconciliation.DueBases
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Storage        StorageConfig        `yaml:"storage"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ReconciliationConfig holds matching engine settings
type ReconciliationConfig struct {
	// DueBases lists valid monthly due amounts, in precedence order.
	// The payment-index extractor tries each base in turn.
	DueBases []string `yaml:"due_bases"`

	// ExternalMatcherURL enables the pluggable external scoring
	// strategy when non-empty.
	ExternalMatcherURL string `yaml:"external_matcher_url"`

	// ExternalMatcherTimeoutSeconds bounds a single external scoring call.
	ExternalMatcherTimeoutSeconds int `yaml:"external_matcher_timeout_seconds"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECON_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("RECON_PORT", 8080),
			AllowedOrigins: splitAndTrim(getEnv("RECON_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("RECON_DB_PATH", "ipl_recon.db"),
		},
		Reconciliation: ReconciliationConfig{
			DueBases:                      splitAndTrim(getEnv("RECON_DUE_BASES", "250000")),
			ExternalMatcherURL:            os.Getenv("RECON_EXTERNAL_MATCHER_URL"),
			ExternalMatcherTimeoutSeconds: getEnvInt("RECON_EXTERNAL_MATCHER_TIMEOUT", 5),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}

	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries the config file first, falling back to environment variables
func LoadOrEnv(path string) *Config {
	if path != "" {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	return LoadFromEnv()
}

// Validate checks that required fields are present and well-formed
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if len(c.Reconciliation.DueBases) == 0 {
		return fmt.Errorf("reconciliation.due_bases must contain at least one base amount")
	}
	for _, b := range c.Reconciliation.DueBases {
		if _, err := strconv.ParseFloat(b, 64); err != nil {
			return fmt.Errorf("reconciliation.due_bases: %q is not a number", b)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "ipl_recon.db"
	}
	if c.Reconciliation.ExternalMatcherTimeoutSeconds == 0 {
		c.Reconciliation.ExternalMatcherTimeoutSeconds = 5
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
