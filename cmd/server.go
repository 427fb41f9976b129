package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/erp-copilot/internal/server"
	"github.com/ziadkadry99/erp-copilot/internal/telemetry"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API",
	Long: `Starts the erpcopilot HTTP API: the skill catalogue, per-tenant toolsets,
question answering over REST and WebSocket, and the audit trail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, Version)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.Warn().Err(err).Msg("telemetry shutdown")
			}
		}()

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		asst, err := a.newAssistant()
		if err != nil {
			return err
		}

		srv := server.New(server.Config{
			Port:           cfg.Server.Port,
			AllowAll:       cfg.Server.AllowAllOrigins,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, a.db, a.loader, asst)

		go func() {
			<-ctx.Done()
			log.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("server shutdown")
			}
		}()

		log.Info().
			Str("version", Version).
			Str("provider", string(cfg.Provider)).
			Str("model", cfg.Model).
			Str("database", cfg.DBPath()).
			Int("skills", len(a.catalog.Names())).
			Msg("erpcopilot server starting")

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}
