package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chronalabs/chrona/pkg/client"
)

func newAskCmd() *cobra.Command {
	var (
		contextID string
		timeout   int
		detach    bool
	)

	cmd := &cobra.Command{
		Use:   "ask -- <question>",
		Short: "Ask the agent a question and wait for the answer",
		Long: `Submit a task and block until it is terminal.

Everything after "--" is treated as the question text.`,
		Example: `  chrona ask -- "What is the date for next Friday?"
  chrona ask --context ctx-123 -- "And the Friday after that?"
  chrona ask --detach -- "When does last month start and end?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("question required: chrona ask -- \"your question here\"")
			}
			question := strings.Join(args, " ")

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			defer cancel()

			req := client.SubmitTaskRequest{Text: question, ContextID: contextID}

			if detach {
				task, err := apiClient.SubmitTask(ctx, req)
				if err != nil {
					return fmt.Errorf("submitting task: %w", err)
				}
				fmt.Printf("task %s submitted (context %s)\n", task.Metadata.ID, task.Metadata.ContextID)
				return nil
			}

			task, err := apiClient.Ask(ctx, req)
			if err != nil {
				return fmt.Errorf("asking: %w", err)
			}

			printAnswer(task.Status.Answer, task.Status.Incomplete, task.Status.Error, string(task.Status.State))
			return nil
		},
	}

	cmd.Flags().StringVar(&contextID, "context", "", "Conversation context id to continue")
	cmd.Flags().IntVar(&timeout, "timeout", 180, "Client-side timeout in seconds")
	cmd.Flags().BoolVar(&detach, "detach", false, "Submit without waiting for the answer")

	return cmd
}

// printAnswer renders a terminal task outcome for humans.
func printAnswer(answer string, incomplete bool, errMsg, state string) {
	switch state {
	case "failed":
		color.New(color.FgRed, color.Bold).Printf("failed: ")
		fmt.Println(errMsg)
	case "canceled":
		color.New(color.FgYellow).Println("canceled")
	default:
		fmt.Println(answer)
		if incomplete {
			color.New(color.FgYellow).Println("(incomplete: the agent ran out of reasoning steps)")
		}
	}
}
