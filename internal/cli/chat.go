package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chronalabs/chrona/pkg/client"
)

func newChatCmd() *cobra.Command {
	var timeout int

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with the agent",
		Long: `Start a REPL that threads every question onto one conversation
context. Type "exit" or "quit" (or press Ctrl-D) to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := color.New(color.FgCyan, color.Bold)
			agentColor := color.New(color.FgGreen)

			fmt.Println("Chrona chat. Ask about dates and times; \"exit\" to quit.")

			var contextID string
			scanner := bufio.NewScanner(os.Stdin)
			for {
				prompt.Print("you> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
				task, err := apiClient.Ask(ctx, client.SubmitTaskRequest{
					Text:      line,
					ContextID: contextID,
				})
				cancel()
				if err != nil {
					color.New(color.FgRed).Printf("error: %v\n", err)
					continue
				}
				contextID = task.Metadata.ContextID

				agentColor.Print("chrona> ")
				printAnswer(task.Status.Answer, task.Status.Incomplete, task.Status.Error, string(task.Status.State))
			}
		},
	}

	cmd.Flags().IntVar(&timeout, "timeout", 180, "Per-question timeout in seconds")

	return cmd
}
