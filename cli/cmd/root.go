// Package cmd contains CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/draftmill/draftmill/cli/internal/config"
)

var (
	cfg     *config.Config
	format  string
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "draftmill",
	Short: "Draftmill CLI - multi-provider AI content generation",
	Long: `Draftmill routes content-generation requests across multiple AI
providers with rotation, retry, and response caching.

Examples:
  # Run the server
  draftmill serve

  # List configured providers
  draftmill providers list

  # Generate a completion
  draftmill generate "Write a headline about solar power"

  # Generate through the async task queue
  draftmill generate --async "Write a 2000 word article about solar power"
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.DefaultConfig()
		if format != "" {
			cfg.Format = format
		}
		cfg.Verbose = verbose
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints version info.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("draftmill version 0.1.0")
	},
}
