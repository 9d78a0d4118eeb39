package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biodoia/operatoros/internal/gateway"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ServeCmd rappresenta il comando serve
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OperatorOS HTTP server",
	Long: `Start the HTTP server exposing the conversation API.

Backends are probed at startup (unless routing.probe_on_start is false)
and excluded backends are re-probed periodically.`,
	Example: `  # Start with default settings
  operatoros serve

  # Development mode with pretty logging
  operatoros serve --dev --log-level debug

  # Custom config
  operatoros serve -c /path/to/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cmd, cfg)

	log.Info().Msg("Starting OperatorOS")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, cfg, bootstrapOptions{probe: true})
	if err != nil {
		return err
	}
	defer app.Close()

	deps := gateway.Deps{
		Manager:  app.Manager,
		Registry: app.Registry,
		Monitor:  app.Monitor,
		Metrics:  app.Metrics.Handler(),
	}
	if app.DB != nil {
		deps.Store = app.DB
	}
	gw, err := gateway.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	app.Monitor.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("metrics", cfg.Monitoring.Prometheus.Enabled).
		Bool("auth", len(cfg.Server.APIKeys) > 0).
		Msg("Gateway listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}

	log.Info().Msg("OperatorOS stopped cleanly")
	return nil
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
