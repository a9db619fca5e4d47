package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

func newStatusCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent dashboard",
		Long:  "Display an overview of the Chrona agent and its task queue.",
		Example: `  chrona status
  chrona status --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return statusWatch()
			}
			return statusPrint()
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Continuously refresh (every 5 seconds)")

	return cmd
}

func statusPrint() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Check server health first.
	if err := apiClient.Healthz(ctx); err != nil {
		color.Red("Chrona Agent: UNREACHABLE")
		return fmt.Errorf("cannot reach server: %w", err)
	}

	bold := color.New(color.FgCyan, color.Bold)
	bold.Println("Chrona Agent Status")
	fmt.Println("===================")
	fmt.Println()

	card, err := apiClient.AgentCard(ctx)
	if err != nil {
		return fmt.Errorf("fetching agent card: %w", err)
	}
	fmt.Printf("Agent:  %s %s\n", card.Name, card.Version)
	fmt.Printf("Skills: %d\n", len(card.Skills))

	tasks, err := apiClient.ListTasks(ctx, "", "")
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	var submitted, working, completed, failed, canceled, incomplete int
	contexts := map[string]struct{}{}
	for _, t := range tasks {
		switch t.Status.State {
		case v1alpha1.TaskSubmitted:
			submitted++
		case v1alpha1.TaskWorking:
			working++
		case v1alpha1.TaskCompleted:
			completed++
			if t.Status.Incomplete {
				incomplete++
			}
		case v1alpha1.TaskFailed:
			failed++
		case v1alpha1.TaskCanceled:
			canceled++
		}
		if t.Metadata.ContextID != "" {
			contexts[t.Metadata.ContextID] = struct{}{}
		}
	}

	fmt.Printf("Conversations: %d\n", len(contexts))

	fmt.Printf("Tasks: %d total", len(tasks))
	if len(tasks) > 0 {
		fmt.Printf(" (")
		parts := []string{}
		if submitted > 0 {
			parts = append(parts, fmt.Sprintf("%d submitted", submitted))
		}
		if working > 0 {
			parts = append(parts, color.YellowString("%d working", working))
		}
		if completed > 0 {
			parts = append(parts, color.GreenString("%d completed", completed))
		}
		if incomplete > 0 {
			parts = append(parts, color.YellowString("%d incomplete", incomplete))
		}
		if failed > 0 {
			parts = append(parts, color.RedString("%d failed", failed))
		}
		if canceled > 0 {
			parts = append(parts, fmt.Sprintf("%d canceled", canceled))
		}
		for i, p := range parts {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(p)
		}
		fmt.Print(")")
	}
	fmt.Println()

	return nil
}

func statusWatch() error {
	fmt.Println("Watching status (Ctrl+C to stop)...")
	fmt.Println()

	for {
		// Clear screen with ANSI escape.
		fmt.Print("\033[2J\033[H")

		if err := statusPrint(); err != nil {
			fmt.Printf("\nError: %v\n", err)
		}

		fmt.Printf("\nLast updated: %s (refreshing every 5s)\n", time.Now().Format("15:04:05"))
		time.Sleep(5 * time.Second)
	}
}
