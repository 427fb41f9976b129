package config

import "time"

// defaultModels maps each provider to the model used when none is set.
var defaultModels = map[ProviderType]string{
	ProviderAnthropic:  "claude-sonnet-4-5-20250929",
	ProviderOpenAI:     "gpt-4o",
	ProviderOpenRouter: "openai/gpt-4o",
	ProviderOllama:     "llama3.1",
}

// DefaultModel returns the default chat model for provider, or the
// Anthropic default for an unknown provider.
func DefaultModel(provider ProviderType) string {
	if m, ok := defaultModels[provider]; ok {
		return m
	}
	return defaultModels[ProviderAnthropic]
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:  ProviderAnthropic,
		Model:     DefaultModel(ProviderAnthropic),
		MaxTokens: 2048,
		DataDir:   ".erpcopilot",
		Server: ServerConfig{
			Port: 8080,
		},
		ERP: ERPConfig{
			CallTimeout: 30 * time.Second,
			SessionTTL:  30 * time.Minute,
			RateLimit:   10,
			RateBurst:   5,
		},
		Tenants: TenantsConfig{
			CacheSize: 256,
			CacheTTL:  5 * time.Minute,
		},
		Query: QueryConfig{
			Timezone:     "UTC",
			DefaultLimit: 10,
		},
		Assistant: AssistantConfig{
			MaxToolRounds: 4,
			Temperature:   0.2,
			HistoryLimit:  10,
		},
		Documents: DocumentsConfig{
			EmbeddingModel: "text-embedding-3-small",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
			ServiceName:  "erpcopilot",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
