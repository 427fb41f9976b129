package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/erp-copilot/internal/assistant"
	mcpserver "github.com/ziadkadry99/erp-copilot/internal/mcp"
)

var (
	serveTenant string
	serveCaller string
	serveAsk    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server for one tenant",
	Long: `Starts a Model Context Protocol (MCP) server on stdio exposing the skills
enabled for one tenant as tools. With --ask an "ask" tool runs the full
question loop, which needs a configured model provider.`,
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

		var asst *assistant.Assistant
		if serveAsk {
			if asst, err = a.newAssistant(); err != nil {
				return err
			}
		}

		mcpserver.Version = Version
		srv, err := mcpserver.NewServer(context.Background(), a.loader, serveTenant, serveCaller, asst)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "erpcopilot MCP server started on stdio (tenant=%s, tools=%d)\n", serveTenant, len(srv.ToolNames()))
		return srv.Serve()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveTenant, "tenant", "", "Tenant whose skills are exposed (required)")
	serveCmd.Flags().StringVar(&serveCaller, "caller", "mcp", "Caller id recorded for each call")
	serveCmd.Flags().BoolVar(&serveAsk, "ask", false, "Also expose the ask tool")
	_ = serveCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(serveCmd)
}
