package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const configTemplate = `server:
  host: 127.0.0.1
  port: 7117

tools:
  host: 127.0.0.1
  port: 7118

store:
  type: bolt
  dataDir: %s

agent:
  roundLimit: 6
  workers: 4

model:
  provider: %s
  # apiKey: set here or export OPENAI_API_KEY / GROQ_API_KEY
  # model: override the provider default

weather:
  # apiKey: set here or export OPENWEATHER_API_KEY

log:
  level: info
  format: console
`

func newInitCmd() *cobra.Command {
	var (
		provider   string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Create a Chrona config file with the default settings spelled out.

The file is written to ~/.chrona/config.yaml, where 'chrona serve' and
'chrona tools' pick it up automatically.`,
		Example: `  chrona init
  chrona init --provider openai
  chrona init --output-file ./chrona.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolving home directory: %w", err)
			}

			outputPath := outputFile
			if outputPath == "" {
				outputPath = filepath.Join(home, ".chrona", "config.yaml")
			}

			dataDir := filepath.Join(home, ".chrona", "data")
			content := fmt.Sprintf(configTemplate, dataDir, provider)

			// Never clobber an existing config.
			if _, err := os.Stat(outputPath); err == nil {
				return fmt.Errorf("file %s already exists. Use --output-file to write elsewhere", outputPath)
			}

			if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			bold := color.New(color.FgCyan, color.Bold)
			bold.Println("Chrona initialized!")
			fmt.Println()
			fmt.Printf("  Config: %s\n", outputPath)
			fmt.Println()

			color.New(color.Bold).Println("Next steps:")
			fmt.Println("  1. Add your model API key:")
			fmt.Printf("     vi %s\n", outputPath)
			fmt.Println()
			fmt.Println("  2. Start the tool provider:")
			fmt.Println("     chrona tools")
			fmt.Println()
			fmt.Println("  3. Start the agent:")
			fmt.Println("     chrona serve")
			fmt.Println()
			fmt.Println("  4. Ask something:")
			fmt.Println("     chrona ask -- \"What day of the week is 90 days from today?\"")

			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "groq", "Model provider to preconfigure (openai|groq)")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "Write the config here instead of ~/.chrona/config.yaml")

	return cmd
}
