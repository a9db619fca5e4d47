package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

func newGetCmd() *cobra.Command {
	var (
		contextID string
		state     string
	)

	cmd := &cobra.Command{
		Use:   "get [task-id]",
		Short: "List tasks or show one task",
		Long: `Without arguments, list all tasks. With a task id, show that task
including its conversation history.`,
		Example: `  chrona get
  chrona get --context ctx-123 --state completed
  chrona get 2f1c9a66-87b3-4c3e-9a7e-1f62d6a52c01 -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if len(args) == 1 {
				return getTask(ctx, args[0])
			}
			return listTasks(ctx, contextID, state)
		},
	}

	cmd.Flags().StringVar(&contextID, "context", "", "Filter by conversation context id")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state: submitted|working|completed|failed|canceled")

	return cmd
}

func getTask(ctx context.Context, id string) error {
	task, err := apiClient.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("getting task: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(task)
	}
	if outputFormat == "yaml" {
		return printYAML(task)
	}

	// Human-readable detail view.
	bold := color.New(color.Bold)
	bold.Printf("Task:    ")
	fmt.Println(task.Metadata.ID)
	bold.Printf("Context: ")
	fmt.Println(task.Metadata.ContextID)
	bold.Printf("State:   ")
	fmt.Print(colorState(task.Status.State))
	if task.Status.Incomplete {
		color.New(color.FgYellow).Print(" (incomplete)")
	}
	fmt.Println()
	if task.Status.Error != "" {
		bold.Printf("Error:   ")
		fmt.Println(task.Status.Error)
	}
	bold.Printf("Rounds:  ")
	fmt.Println(task.Status.Rounds)
	fmt.Println()

	bold.Println("History:")
	for _, msg := range task.History {
		switch {
		case msg.ToolResult != nil:
			if msg.ToolResult.Error != nil {
				fmt.Printf("  [tool %s] error (%s): %s\n", msg.ToolResult.Name, msg.ToolResult.Error.Code, msg.ToolResult.Error.Message)
			} else {
				fmt.Printf("  [tool %s] %s\n", msg.ToolResult.Name, truncate(msg.ToolResult.Content, 100))
			}
		case len(msg.ToolCalls) > 0:
			for _, call := range msg.ToolCalls {
				fmt.Printf("  [%s] calls %s(%s)\n", msg.Role, call.Name, truncate(call.Arguments, 80))
			}
		default:
			fmt.Printf("  [%s] %s\n", msg.Role, msg.Text)
		}
	}
	return nil
}

func listTasks(ctx context.Context, contextID, state string) error {
	tasks, err := apiClient.ListTasks(ctx, contextID, v1alpha1.TaskState(state))
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(tasks)
	}
	if outputFormat == "yaml" {
		return printYAML(tasks)
	}

	headers := []string{"ID", "STATE", "ROUNDS", "AGE", "QUESTION"}
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		question := ""
		if len(task.History) > 0 {
			question = task.History[0].Text
		}
		rows = append(rows, []string{
			task.Metadata.ID,
			string(task.Status.State),
			strconv.Itoa(task.Status.Rounds),
			formatAge(task.Metadata.CreatedAt),
			truncate(question, 50),
		})
	}
	printTable(headers, rows)
	return nil
}

// colorState renders a task state with the conventional color.
func colorState(state v1alpha1.TaskState) string {
	switch state {
	case v1alpha1.TaskCompleted:
		return color.GreenString(string(state))
	case v1alpha1.TaskFailed:
		return color.RedString(string(state))
	case v1alpha1.TaskCanceled:
		return color.YellowString(string(state))
	case v1alpha1.TaskWorking:
		return color.CyanString(string(state))
	default:
		return string(state)
	}
}
