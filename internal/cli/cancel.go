package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronalabs/chrona/pkg/client"
)

func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cancel <task-id>",
		Short:   "Cancel a running or queued task",
		Example: `  chrona cancel 2f1c9a66-87b3-4c3e-9a7e-1f62d6a52c01`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			err := apiClient.CancelTask(ctx, args[0])
			switch {
			case errors.Is(err, client.ErrNotFound):
				return fmt.Errorf("task %s not found", args[0])
			case errors.Is(err, client.ErrTaskTerminal):
				return fmt.Errorf("task %s already finished", args[0])
			case err != nil:
				return fmt.Errorf("canceling task: %w", err)
			}

			fmt.Printf("cancellation requested for task %s\n", args[0])
			return nil
		},
	}
	return cmd
}
