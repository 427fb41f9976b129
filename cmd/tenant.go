package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/erp-copilot/internal/audit"
	"github.com/ziadkadry99/erp-copilot/internal/erp"
	"github.com/ziadkadry99/erp-copilot/internal/tenants"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenant integrations",
	Long:  `Add, list, enable, disable and remove the ERP and document integrations of each tenant.`,
}

var tenantAddCmd = &cobra.Command{
	Use:   "add <tenant>",
	Short: "Configure a tenant's ERP connection",
	Long: `Stores the ERP URL, database, user and API key of a tenant. The key is
encrypted with ERPCOPILOT_SECRET_KEY before it is written. Missing values
are prompted for; the key is never accepted as a flag.`,
	Args: cobra.ExactArgs(1),
	RunE: runTenantAdd,
}

var tenantDocsCmd = &cobra.Command{
	Use:   "documents <tenant>",
	Short: "Enable document search for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantDocuments,
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured integrations",
	RunE:  runTenantList,
}

var tenantEnableCmd = &cobra.Command{
	Use:   "enable <tenant>",
	Short: "Re-enable an integration",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runTenantSetActive(cmd, args[0], true) },
}

var tenantDisableCmd = &cobra.Command{
	Use:   "disable <tenant>",
	Short: "Disable an integration without deleting its credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runTenantSetActive(cmd, args[0], false) },
}

var tenantRemoveCmd = &cobra.Command{
	Use:   "remove <tenant>",
	Short: "Delete an integration and its credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantRemove,
}

var tenantKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a master secret key",
	Long:  `Prints a new random key for ERPCOPILOT_SECRET_KEY. Credentials sealed with one key cannot be read with another.`,
	Run: func(cmd *cobra.Command, args []string) {
		key, err := tenants.GenerateKey()
		exitOnError(err)
		fmt.Println(key)
	},
}

func init() {
	tenantAddCmd.Flags().String("url", "", "ERP base URL")
	tenantAddCmd.Flags().String("database", "", "ERP database name")
	tenantAddCmd.Flags().String("user", "", "ERP user name")
	tenantAddCmd.Flags().Bool("secret-stdin", false, "Read the API key from the first line of stdin")
	tenantAddCmd.Flags().Bool("verify", false, "Log in once with the credentials before saving")

	for _, c := range []*cobra.Command{tenantEnableCmd, tenantDisableCmd, tenantRemoveCmd} {
		c.Flags().String("kind", string(tenants.KindERP), "Integration kind (erp or documents)")
	}

	tenantCmd.AddCommand(tenantAddCmd)
	tenantCmd.AddCommand(tenantDocsCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantEnableCmd)
	tenantCmd.AddCommand(tenantDisableCmd)
	tenantCmd.AddCommand(tenantRemoveCmd)
	tenantCmd.AddCommand(tenantKeygenCmd)
	rootCmd.AddCommand(tenantCmd)
}

func runTenantAdd(cmd *cobra.Command, args []string) error {
	tenantID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	creds := erp.Credentials{}
	creds.URL, _ = cmd.Flags().GetString("url")
	creds.Database, _ = cmd.Flags().GetString("database")
	creds.Username, _ = cmd.Flags().GetString("user")

	if creds.URL == "" {
		if creds.URL, err = promptText("ERP URL", validateURL); err != nil {
			return err
		}
	}
	if creds.Database == "" {
		if creds.Database, err = promptText("Database", required); err != nil {
			return err
		}
	}
	if creds.Username == "" {
		if creds.Username, err = promptText("User", required); err != nil {
			return err
		}
	}

	fromStdin, _ := cmd.Flags().GetBool("secret-stdin")
	if fromStdin {
		creds.Secret, err = readSecretLine(os.Stdin)
	} else {
		creds.Secret, err = promptSecret("API key")
	}
	if err != nil {
		return err
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	if verify, _ := cmd.Flags().GetBool("verify"); verify {
		client := erp.NewClient(creds, erp.Config{CallTimeout: cfg.ERP.CallTimeout})
		if _, err := client.Authenticate(cmd.Context()); err != nil {
			return fmt.Errorf("verifying credentials: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Login succeeded.")
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tenants.PutERP(cmd.Context(), tenantID, creds); err != nil {
		return err
	}
	recordChange(cmd.Context(), a, tenantID, tenants.KindERP, "configured",
		fmt.Sprintf("ERP %s database %s user %s", strings.TrimRight(creds.URL, "/"), creds.Database, creds.Username))

	fmt.Printf("ERP integration saved for %s.\n", tenantID)
	return nil
}

func runTenantDocuments(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tenants.PutDocuments(cmd.Context(), args[0]); err != nil {
		return err
	}
	recordChange(cmd.Context(), a, args[0], tenants.KindDocuments, "configured", "document search enabled")

	fmt.Printf("Document search enabled for %s.\n", args[0])
	if !cfg.Documents.Enabled {
		fmt.Fprintf(os.Stderr, "Note: documents.enabled is false in %s; search_documents stays unavailable until it is set.\n", cfgFile)
	}
	return nil
}

func runTenantList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.tenants.All(cmd.Context())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No tenants configured. Add one with `erpcopilot tenant add <tenant>`.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tKIND\tURL\tDATABASE\tUSER\tKEY\tACTIVE\tUPDATED")
	for _, in := range list {
		key := "-"
		if in.HasSecret {
			key = "set"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			in.TenantID, in.Kind, dash(in.URL), dash(in.Database), dash(in.Username), key, in.Active,
			in.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runTenantSetActive(cmd *cobra.Command, tenantID string, active bool) error {
	kind, err := kindFlag(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tenants.SetActive(cmd.Context(), tenantID, kind, active); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			return fmt.Errorf("%s has no %s integration", tenantID, kind)
		}
		return err
	}
	outcome := "disabled"
	if active {
		outcome = "enabled"
	}
	recordChange(cmd.Context(), a, tenantID, kind, outcome, "")

	fmt.Printf("%s integration %s for %s.\n", kind, outcome, tenantID)
	return nil
}

func runTenantRemove(cmd *cobra.Command, args []string) error {
	kind, err := kindFlag(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tenants.Delete(cmd.Context(), args[0], kind); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			return fmt.Errorf("%s has no %s integration", args[0], kind)
		}
		return err
	}
	recordChange(cmd.Context(), a, args[0], kind, "removed", "")

	fmt.Printf("%s integration removed for %s.\n", kind, args[0])
	return nil
}

func kindFlag(cmd *cobra.Command) (tenants.Kind, error) {
	v, _ := cmd.Flags().GetString("kind")
	switch k := tenants.Kind(v); k {
	case tenants.KindERP, tenants.KindDocuments:
		return k, nil
	}
	return "", fmt.Errorf("unknown integration kind %q (want erp or documents)", v)
}

// recordChange writes an audit entry. The secret is never part of it.
func recordChange(ctx context.Context, a *app, tenantID string, kind tenants.Kind, outcome, summary string) {
	err := a.audit.Log(ctx, audit.Entry{
		TenantID:  tenantID,
		ActorType: audit.ActorUser,
		ActorID:   cliUser(),
		Action:    audit.ActionIntegrationChanged,
		Target:    string(kind),
		Outcome:   outcome,
		Summary:   summary,
	})
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Msg("audit write failed")
	}
}

func promptText(label string, validate promptui.ValidateFunc) (string, error) {
	p := promptui.Prompt{Label: label, Validate: validate}
	v, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("prompt cancelled: %w", err)
	}
	return strings.TrimSpace(v), nil
}

func promptSecret(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*', Validate: required}
	v, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("prompt cancelled: %w", err)
	}
	return strings.TrimSpace(v), nil
}

func readSecretLine(f *os.File) (string, error) {
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading API key from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("value is required")
	}
	return nil
}

func validateURL(s string) error {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return errors.New("URL must start with http:// or https://")
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
