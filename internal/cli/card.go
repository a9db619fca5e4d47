package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newCardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Show the agent discovery card",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			card, err := apiClient.AgentCard(ctx)
			if err != nil {
				return fmt.Errorf("fetching agent card: %w", err)
			}

			if outputFormat == "json" {
				return printJSON(card)
			}
			if outputFormat == "yaml" {
				return printYAML(card)
			}

			bold := color.New(color.Bold)
			bold.Printf("%s %s\n", card.Name, card.Version)
			fmt.Println(card.Description)
			fmt.Printf("URL: %s\n\n", card.URL)

			bold.Println("Skills:")
			for _, skill := range card.Skills {
				fmt.Printf("  %s - %s\n", skill.Name, skill.Description)
				if len(skill.Examples) > 0 {
					fmt.Printf("    e.g. %s\n", strings.Join(skill.Examples, " | "))
				}
			}
			return nil
		},
	}
	return cmd
}
