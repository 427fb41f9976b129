package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ERPCOPILOT_"

	// SecretKeyEnvVar holds the base64 master key that seals tenant
	// secrets. It is never read from the config file.
	SecretKeyEnvVar = EnvPrefix + "SECRET_KEY"

	// DefaultPath is where the wizard writes the config.
	DefaultPath = "erpcopilot.yml"
)

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (ERPCOPILOT_*). A double underscore
// nests: ERPCOPILOT_SERVER__PORT sets server.port.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// envKey maps ERPCOPILOT_ERP__CALL_TIMEOUT to erp.call_timeout. The
// secret key is dropped so it can never end up in a saved file.
func envKey(s string) string {
	if s == SecretKeyEnvVar {
		return ""
	}
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized provider values.
var validProviders = map[ProviderType]bool{
	ProviderAnthropic:  true,
	ProviderOpenAI:     true,
	ProviderOpenRouter: true,
	ProviderOllama:     true,
}

var validLogLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q: must be one of anthropic, openai, openrouter, ollama", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.ERP.CallTimeout <= 0 {
		return fmt.Errorf("erp.call_timeout must be positive")
	}
	if c.ERP.RateLimit < 0 || c.ERP.RateBurst < 0 {
		return fmt.Errorf("erp.rate_limit and erp.rate_burst must be non-negative")
	}

	if _, err := time.LoadLocation(c.Query.Timezone); err != nil {
		return fmt.Errorf("invalid query.timezone %q: %w", c.Query.Timezone, err)
	}
	if c.Query.DefaultLimit < 0 {
		return fmt.Errorf("query.default_limit must be non-negative")
	}

	if c.Assistant.MaxToolRounds < 1 {
		return fmt.Errorf("assistant.max_tool_rounds must be at least 1")
	}
	if c.Assistant.Temperature < 0 || c.Assistant.Temperature > 2 {
		return fmt.Errorf("assistant.temperature must be between 0 and 2")
	}

	if c.Documents.Enabled && c.Documents.EmbeddingModel == "" {
		return fmt.Errorf("documents.embedding_model is required when documents are enabled")
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is enabled")
	}

	if c.Log.Level != "" && !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Log.Format != "" && c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format %q: must be console or json", c.Log.Format)
	}

	return nil
}

// Location returns the configured query timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Query.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DBPath returns the SQLite database path inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "erpcopilot.db")
}

// IndexDir returns where the document index is persisted.
func (c *Config) IndexDir() string {
	if c.Documents.IndexDir != "" {
		return c.Documents.IndexDir
	}
	return filepath.Join(c.DataDir, "documents")
}

// SecretKey returns the decoded master key from the environment.
func SecretKey() ([]byte, error) {
	encoded := strings.TrimSpace(os.Getenv(SecretKeyEnvVar))
	if encoded == "" {
		return nil, fmt.Errorf("%s environment variable is not set", SecretKeyEnvVar)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", SecretKeyEnvVar, err)
	}
	return key, nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
