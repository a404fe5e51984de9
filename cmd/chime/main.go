package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chimeworks/chime/cmd/chime/commands"
	"github.com/chimeworks/chime/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chime",
	Short: "Chime - background job scheduler and event bus",
	Long: `Chime - declarative background job scheduling, dispatch, and events.

Chime registers cron- and interval-scheduled jobs from YAML sources or
the admin API, dispatches them through a durable execution ledger, and
broadcasts outcomes on a publish/subscribe event bus.

Examples:
  chime serve                        # Start the daemon
  chime serve --jobs jobs/mailer.yaml
  chime db migrate                   # Apply schema migrations
  chime version                      # Show version information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
