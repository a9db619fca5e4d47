package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronalabs/chrona/internal/tui"
)

func newUICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ui",
		Aliases: []string{"top", "dashboard"},
		Short:   "Launch the interactive terminal UI",
		Long:    "Launch a k9s-style terminal UI for watching and managing Chrona tasks.",
		Example: `  chrona ui
  chrona ui --server http://127.0.0.1:7117`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := tui.NewApp(serverAddr)
			if err := app.Run(); err != nil {
				return fmt.Errorf("UI error: %w", err)
			}
			return nil
		},
	}

	return cmd
}
