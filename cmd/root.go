package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mellonhead/billrun/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "billrun",
	Short: "billrun - monthly retainer and overage invoicing",
	Long: `billrun computes monthly client invoices from time-tracking records and
per-client billing configuration, then synchronizes them into QuickBooks
as draft invoices awaiting review.

Each client bills a fixed monthly retainer plus per-hour overage for time
logged beyond the retainer allotment in the prior month. Runs are
idempotent: re-running replaces any unsent drafts with freshly computed
ones, so a failed run is retried by simply running it again.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
