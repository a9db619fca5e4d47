package cli

import (
	"github.com/spf13/cobra"

	"github.com/chronalabs/chrona/pkg/client"
)

var (
	serverAddr string
	configPath string
	apiClient  *client.Client
)

// NewRootCmd creates the top-level chrona CLI command with all subcommands.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chrona",
		Short: "Conversational datetime agent",
		Long: `Chrona answers natural-language questions about dates and times.
It runs as an agent service with a tool provider, and this CLI talks to both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Skip client init for commands that don't need the API server.
			name := cmd.Name()
			if name == "serve" || name == "tools" || name == "init" {
				return
			}
			apiClient = client.New(serverAddr)
		},
	}

	cmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:7117", "Chrona agent address")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.chrona/config.yaml)")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json|yaml")

	cmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newToolsCmd(),
		newStatusCmd(),
		newAskCmd(),
		newChatCmd(),
		newGetCmd(),
		newCancelCmd(),
		newCardCmd(),
		newUICmd(),
	)

	return cmd
}
