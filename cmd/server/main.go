/*
main.go - Application entry point

PURPOSE:
  The billing binary. Wires configuration, logging, the store, the event
  publisher and the engine, then runs one of the subcommands.

COMMANDS:
  serve     HTTP API + due-invoice sweep, graceful shutdown
  migrate   apply the store schema and exit
  preview   print the schedule a contract document would produce (no writes)

CONFIGURATION:
  Environment variables, optionally from a .env file (--env-file).
  See config/config.go for keys and defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the event publisher and the store

EXAMPLES:
  # SQLite file store
  STORE_DRIVER=sqlite SQLITE_PATH=./data/billing.db billing serve

  # PostgreSQL with Kafka events
  STORE_DRIVER=postgres DATABASE_URL=postgres://... KAFKA_BROKERS=kafka:9092 billing serve

  # What would this contract bill?
  billing preview contract.json --today 2024-03-10

SEE ALSO:
  - api/server.go: Router configuration
  - billing/engine.go: Operations
*/
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/warp/lease-billing/config"
	"github.com/warp/lease-billing/logger"
)

var version = "dev"

var (
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "billing",
	Short:         "Lease billing engine",
	Long:          "Generates weekly lease invoices, applies payments and credit notes, and derives late penalties.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if _, err := logger.Setup(loaded.LoggerConfig()); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	rootCmd.AddCommand(serveCmd, migrateCmd, previewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
