package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/cmd/roster/commands"
	"github.com/rosterhq/roster/logger"
)

var rootCmd = &cobra.Command{
	Use:   "roster",
	Short: "roster - batch scrape and distribution pipeline",
	Long: `roster orchestrates batch profile scraping, deduplication and daily
distribution into review buckets.

Available commands:
  serve    - Start the API server with workers and the lifecycle sweeper
  worker   - Start a standalone worker pool
  campaign - Run the daily select/distribute stages
  cleanup  - Run one lifecycle sweep
  db       - Database maintenance
  version  - Show version information

Examples:
  roster serve                 # Run the full pipeline
  roster campaign run          # Select today's profiles into a campaign
  roster cleanup               # Age out and purge old assignments`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.CampaignCmd)
	rootCmd.AddCommand(commands.CleanupCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
