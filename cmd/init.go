package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/erp-copilot/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize erpcopilot configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to choose the model provider, timezone and server port, and writes erpcopilot.yml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
