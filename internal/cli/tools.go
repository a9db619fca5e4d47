package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chronalabs/chrona/internal/config"
	"github.com/chronalabs/chrona/internal/toolserver"
	"github.com/chronalabs/chrona/internal/weather"
)

func newToolsCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Start the Chrona tool provider",
		Long:  "Start the HTTP server that publishes and executes the agent's tools.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Tools.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Tools.Host = host
			}

			logger, err := buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}
			defer logger.Sync()

			registry := toolserver.NewRegistry()
			if err := registry.Register(toolserver.NewDatetimeTool(logger)); err != nil {
				return err
			}

			// The weather tool needs credentials; without them the provider
			// publishes datetime resolution only.
			if cfg.Weather.APIKey != "" {
				baseURL := cfg.Weather.BaseURL
				if baseURL == "" {
					baseURL = weather.DefaultBaseURL
				}
				weatherClient := weather.NewClient(baseURL, cfg.Weather.APIKey, logger)
				if err := registry.Register(toolserver.NewWeatherTool(weatherClient, logger)); err != nil {
					return err
				}
			} else {
				logger.Warn("no weather API key configured, weather tool disabled")
			}

			srv := toolserver.NewServer(cfg.ToolsAddress(), registry, logger)

			banner := color.New(color.FgCyan, color.Bold)
			banner.Println("Chrona Tool Provider")
			fmt.Printf("   Listening: http://%s\n", cfg.ToolsAddress())
			fmt.Printf("   Tools:     %d registered\n", len(registry.Schemas()))
			fmt.Println()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			case err := <-errCh:
				logger.Error("tool provider error", zap.Error(err))
				return err
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("tool provider shutdown error", zap.Error(err))
			}

			logger.Info("Chrona tool provider stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 7118, "Tool provider port")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Tool provider host")

	return cmd
}
