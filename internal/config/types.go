package config

import "time"

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOllama     ProviderType = "ollama"
)

// Config is the top-level erpcopilot configuration, corresponding to erpcopilot.yml.
type Config struct {
	Provider     ProviderType `yaml:"provider" koanf:"provider"`
	Model        string       `yaml:"model" koanf:"model"`
	BaseURL      string       `yaml:"base_url" koanf:"base_url"`
	MaxTokens    int          `yaml:"max_tokens" koanf:"max_tokens"`
	RateLimitRPM int          `yaml:"rate_limit_rpm" koanf:"rate_limit_rpm"`
	DataDir      string       `yaml:"data_dir" koanf:"data_dir"`

	Server    ServerConfig    `yaml:"server" koanf:"server"`
	ERP       ERPConfig       `yaml:"erp" koanf:"erp"`
	Tenants   TenantsConfig   `yaml:"tenants" koanf:"tenants"`
	Query     QueryConfig     `yaml:"query" koanf:"query"`
	Assistant AssistantConfig `yaml:"assistant" koanf:"assistant"`
	Documents DocumentsConfig `yaml:"documents" koanf:"documents"`
	Telemetry TelemetryConfig `yaml:"telemetry" koanf:"telemetry"`
	Log       LogConfig       `yaml:"log" koanf:"log"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port            int      `yaml:"port" koanf:"port"`
	AllowAllOrigins bool     `yaml:"allow_all_origins" koanf:"allow_all_origins"`
	AllowedOrigins  []string `yaml:"allowed_origins" koanf:"allowed_origins"`
}

// ERPConfig tunes the ERP transport shared by every tenant.
type ERPConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout" koanf:"call_timeout"`
	SessionTTL  time.Duration `yaml:"session_ttl" koanf:"session_ttl"`
	RateLimit   float64       `yaml:"rate_limit" koanf:"rate_limit"`
	RateBurst   int           `yaml:"rate_burst" koanf:"rate_burst"`
}

// TenantsConfig tunes the decrypted-credential cache.
type TenantsConfig struct {
	CacheSize int           `yaml:"cache_size" koanf:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl" koanf:"cache_ttl"`
}

// QueryConfig holds query engine defaults.
type QueryConfig struct {
	Timezone     string `yaml:"timezone" koanf:"timezone"`
	DefaultLimit int    `yaml:"default_limit" koanf:"default_limit"`
}

// AssistantConfig tunes the question loop.
type AssistantConfig struct {
	MaxToolRounds int     `yaml:"max_tool_rounds" koanf:"max_tool_rounds"`
	Temperature   float64 `yaml:"temperature" koanf:"temperature"`
	HistoryLimit  int     `yaml:"history_limit" koanf:"history_limit"`
}

// DocumentsConfig enables the document search skill.
type DocumentsConfig struct {
	Enabled        bool   `yaml:"enabled" koanf:"enabled"`
	EmbeddingModel string `yaml:"embedding_model" koanf:"embedding_model"`
	IndexDir       string `yaml:"index_dir" koanf:"index_dir"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" koanf:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint" koanf:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" koanf:"insecure"`
	ServiceName  string `yaml:"service_name" koanf:"service_name"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}
