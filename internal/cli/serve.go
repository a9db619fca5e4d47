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

	"github.com/chronalabs/chrona/internal/agent"
	"github.com/chronalabs/chrona/internal/apiserver"
	"github.com/chronalabs/chrona/internal/config"
	"github.com/chronalabs/chrona/internal/dispatcher"
	"github.com/chronalabs/chrona/internal/llm"
	"github.com/chronalabs/chrona/internal/store"
	"github.com/chronalabs/chrona/pkg/toolclient"
)

func newServeCmd() *cobra.Command {
	var (
		port    int
		host    string
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Chrona agent",
		Long:  "Start the agent API server and the task dispatcher.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 1. Build configuration with CLI overrides.
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.Store.DataDir = dataDir
			}

			// 2. Create logger.
			logger, err := buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}
			defer logger.Sync()

			// 3. Open the task store.
			var taskStore store.Store
			switch cfg.Store.Type {
			case "memory":
				taskStore = store.NewMemoryStore()
			default:
				if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
					return fmt.Errorf("creating data directory %s: %w", cfg.Store.DataDir, err)
				}
				boltStore, err := store.NewBoltStore(cfg.DBPath())
				if err != nil {
					return fmt.Errorf("opening store at %s: %w", cfg.DBPath(), err)
				}
				taskStore = boltStore
			}
			defer taskStore.Close()

			// 4. Model backend and tool client.
			backend, err := llm.New(cfg.Model.Provider, cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.Model, logger)
			if err != nil {
				return err
			}
			tools := toolclient.New(cfg.ToolsURL(),
				toolclient.WithRetries(cfg.Agent.ToolRetries),
				toolclient.WithLogger(logger),
			)

			// 5. Orchestrator and dispatcher.
			orch := agent.New(backend, tools, taskStore, logger,
				agent.WithRoundLimit(cfg.Agent.RoundLimit),
				agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
			)
			disp := dispatcher.New(taskStore, orch, logger, dispatcher.WithWorkers(cfg.Agent.Workers))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := disp.Start(ctx); err != nil {
				return fmt.Errorf("starting dispatcher: %w", err)
			}

			// 6. Agent API server.
			card := apiserver.DefaultCard(cfg.PublicURL())
			apiSrv := apiserver.NewServer(cfg.ServerAddress(), taskStore, disp, card, logger)

			// Print startup banner.
			banner := color.New(color.FgCyan, color.Bold)
			banner.Println("Chrona Agent")
			fmt.Printf("   API Server:    http://%s\n", cfg.ServerAddress())
			fmt.Printf("   Tool Provider: %s\n", cfg.ToolsURL())
			fmt.Printf("   Model:         %s (%s)\n", cfg.Model.Provider, backend.Name())
			fmt.Printf("   Store:         %s\n", cfg.Store.Type)
			fmt.Println()

			// Start API server in a goroutine.
			errCh := make(chan error, 1)
			go func() {
				if err := apiSrv.Start(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			// 7. Wait for interrupt signal for graceful shutdown.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			case err := <-errCh:
				logger.Error("API server error", zap.Error(err))
				disp.Stop()
				return err
			}

			// Graceful shutdown with a 10-second deadline.
			fmt.Println()
			logger.Info("shutting down gracefully...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			// Stop accepting requests first, then drain the workers.
			if err := apiSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("API server shutdown error", zap.Error(err))
			}
			disp.Stop()

			logger.Info("Chrona agent stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 7117, "API server port")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "API server host")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.chrona/data)")

	return cmd
}
