package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/ziadkadry99/erp-copilot/internal/assistant"
	"github.com/ziadkadry99/erp-copilot/internal/audit"
	"github.com/ziadkadry99/erp-copilot/internal/config"
	"github.com/ziadkadry99/erp-copilot/internal/db"
	"github.com/ziadkadry99/erp-copilot/internal/docsearch"
	"github.com/ziadkadry99/erp-copilot/internal/erp"
	"github.com/ziadkadry99/erp-copilot/internal/llm"
	"github.com/ziadkadry99/erp-copilot/internal/logging"
	"github.com/ziadkadry99/erp-copilot/internal/skills"
	"github.com/ziadkadry99/erp-copilot/internal/tenants"
)

// loadConfig loads and validates the config, providing a user-friendly
// error, and configures logging. Logs always go to stderr so stdout stays
// free for command output and the MCP protocol.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `erpcopilot init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logging.Setup(level, cfg.Log.Format, os.Stderr)
	return cfg, nil
}

// app holds the long-lived collaborators shared by the commands.
type app struct {
	cfg     *config.Config
	db      *db.DB
	tenants *tenants.Store
	source  *tenants.CachedSource
	catalog *skills.Registry
	loader  *skills.Loader
	audit   *audit.Store
}

// openApp opens the database and builds the tenant store, the skill
// catalogue and the loader. It needs the master secret key.
func openApp(cfg *config.Config) (*app, error) {
	key, err := config.SecretKey()
	if err != nil {
		return nil, fmt.Errorf("%w\nRun `erpcopilot tenant keygen` to create one", err)
	}
	cipher, err := tenants.NewCipher(key)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	catalog, err := newCatalog(cfg)
	if err != nil {
		database.Close()
		return nil, err
	}

	store := tenants.NewStore(database, cipher)
	source := tenants.NewCachedSource(store, cfg.Tenants.CacheSize, cfg.Tenants.CacheTTL)
	return &app{
		cfg:     cfg,
		db:      database,
		tenants: store,
		source:  source,
		catalog: catalog,
		loader:  skills.NewLoader(catalog, source),
		audit:   audit.NewStore(database),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// newCatalog builds the skill catalogue. It holds no tenant state.
func newCatalog(cfg *config.Config) (*skills.Registry, error) {
	factory := erp.NewFactory(erp.Config{
		CallTimeout: cfg.ERP.CallTimeout,
		RateLimit:   cfg.ERP.RateLimit,
		RateBurst:   cfg.ERP.RateBurst,
	}, erp.NewSessionCache(cfg.ERP.SessionTTL), &http.Client{})

	deps := skills.Deps{
		ERP:          factory,
		Location:     cfg.Location(),
		DefaultLimit: cfg.Query.DefaultLimit,
	}
	if cfg.Documents.Enabled {
		index, err := openDocumentIndex(cfg)
		if err != nil {
			return nil, err
		}
		deps.Documents = index
	}

	catalog, err := skills.NewCatalog(deps)
	if err != nil {
		return nil, fmt.Errorf("building skill catalogue: %w", err)
	}
	return catalog, nil
}

// openDocumentIndex loads the persisted document index. Embeddings for
// queries always go to an OpenAI-compatible endpoint.
func openDocumentIndex(cfg *config.Config) (*docsearch.Index, error) {
	apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for document search embeddings")
	}
	baseURL := ""
	if cfg.Provider == config.ProviderOpenAI {
		baseURL = cfg.BaseURL
	}
	index := docsearch.NewIndex(docsearch.NewOpenAIEmbedder(apiKey, baseURL, cfg.Documents.EmbeddingModel))
	if err := index.Load(cfg.IndexDir()); err != nil {
		return nil, fmt.Errorf("loading document index from %s: %w", cfg.IndexDir(), err)
	}
	log.Debug().Str("dir", cfg.IndexDir()).Msg("document index loaded")
	return index, nil
}

// createLLMProviderFromConfig creates an LLM provider based on config settings.
func createLLMProviderFromConfig(cfg *config.Config) (llm.Provider, error) {
	provider, err := llm.NewProvider(string(cfg.Provider), cfg.Model, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.RateLimitRPM > 0 {
		provider = llm.NewRateLimitedProvider(provider, cfg.RateLimitRPM)
	}
	return provider, nil
}

// newAssistant wires the question loop with session history and audit.
func (a *app) newAssistant() (*assistant.Assistant, error) {
	provider, err := createLLMProviderFromConfig(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	return assistant.New(provider, a.loader, assistant.Config{
		Model:         a.cfg.Model,
		MaxTokens:     a.cfg.MaxTokens,
		Temperature:   a.cfg.Assistant.Temperature,
		MaxToolRounds: a.cfg.Assistant.MaxToolRounds,
		HistoryLimit:  a.cfg.Assistant.HistoryLimit,
	},
		assistant.WithSessions(assistant.NewStore(a.db)),
		assistant.WithAudit(a.audit),
	), nil
}

// cliUser names the operator in audit entries written from the CLI.
func cliUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
