package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/erp-copilot/internal/assistant"
)

var (
	askTenant  string
	askSession string
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a business question for one tenant",
	Long: `Runs one question through the assistant: the model calls the tenant's
enabled skills, drafts an answer, and the answer is checked against the
skill results before it is printed. Pass --session to continue a
conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		asst, err := a.newAssistant()
		if err != nil {
			return err
		}

		ans, err := asst.Ask(cmd.Context(), assistant.Request{
			TenantID:  askTenant,
			CallerID:  cliUser(),
			SessionID: askSession,
			Question:  strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		if askJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ans)
		}

		fmt.Println(ans.Text)
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Check: %s (confidence %d)", ans.Validation.Action, ans.Validation.Confidence)
		if ans.Regenerated {
			fmt.Fprint(os.Stderr, ", regenerated once")
		}
		fmt.Fprintln(os.Stderr)
		if used := ans.SkillsUsed(); len(used) > 0 {
			fmt.Fprintf(os.Stderr, "Skills: %s\n", strings.Join(used, ", "))
		}
		fmt.Fprintf(os.Stderr, "Tokens: %d in, %d out (~$%.4f)\n", ans.Usage.InputTokens, ans.Usage.OutputTokens, ans.Usage.CostUSD)
		if ans.SessionID != "" {
			fmt.Fprintf(os.Stderr, "Session: %s\n", ans.SessionID)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askTenant, "tenant", "", "Tenant to answer for (required)")
	askCmd.Flags().StringVar(&askSession, "session", "", "Continue an existing session")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full answer with validation as JSON")
	_ = askCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(askCmd)
}
