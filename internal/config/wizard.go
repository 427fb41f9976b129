package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and saves the
// result to path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to erpcopilot! Let's configure the assistant.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Provider selection.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{"anthropic", "openai", "openrouter", "ollama"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)

	// 2. Model.
	modelPrompt := promptui.Prompt{
		Label:   "Model",
		Default: DefaultModel(cfg.Provider),
	}
	if cfg.Model, err = modelPrompt.Run(); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	// 3. Timezone used to resolve "this month", "last week" and so on.
	tzPrompt := promptui.Prompt{
		Label:   "Business timezone (IANA name)",
		Default: cfg.Query.Timezone,
		Validate: func(s string) error {
			_, err := time.LoadLocation(strings.TrimSpace(s))
			return err
		},
	}
	tz, err := tzPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	cfg.Query.Timezone = strings.TrimSpace(tz)

	// 4. HTTP port.
	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: strconv.Itoa(cfg.Server.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("enter a port between 1 and 65535")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	// 5. Document search.
	docsPrompt := promptui.Select{
		Label: "Enable document search for tenants with a documents integration?",
		Items: []string{"no", "yes"},
	}
	docsIdx, _, err := docsPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	cfg.Documents.Enabled = docsIdx == 1

	if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running erpcopilot.\n", envVar)
	}
	if os.Getenv(SecretKeyEnvVar) == "" {
		fmt.Printf("Note: Set %s (base64, 32 bytes) before adding tenants. `erpcopilot tenant keygen` prints one.\n", SecretKeyEnvVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}
