package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mellonhead/billrun/internal/billing"
	"github.com/mellonhead/billrun/internal/config"
	"github.com/mellonhead/billrun/internal/logger"
	"github.com/mellonhead/billrun/internal/notion"
	"github.com/mellonhead/billrun/internal/quickbooks"
	"github.com/mellonhead/billrun/internal/run"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Compute client invoices and create QuickBooks drafts",
	Long: `Compute each active client's monthly invoice and synchronize it into
QuickBooks as an unsent draft.

For every active client in the Notion registry, the command sums time
entries over the overage window, computes retainer and overage charges,
assembles line items priced from the QuickBooks item catalog, deletes any
unsent drafts left for the customer, and creates a fresh draft invoice.

Required environment variables (loadable from .env):
  NOTION_TOKEN           - Notion integration token
  NOTION_COMPANIES_DB    - Clients database ID
  NOTION_CLIENT_HOURS_DB - Time tracking database ID
  INTUIT_ACCESS_TOKEN    - QuickBooks OAuth access token
  INTUIT_REALM_ID        - QuickBooks company realm ID`,
	Example: `  # Bill December retainers plus October overages (invoice dated Dec 15)
  billrun generate --overage-start 2025-10-01 --overage-end 2025-10-31 --bill-month 2025-12

  # Same run against production QuickBooks with an explicit invoice date
  billrun generate --overage-start 2025-10-01 --overage-end 2025-10-31 \
    --bill-month 2025-12 --invoice-date 2025-12-20 --production

  # Preview without touching QuickBooks
  billrun generate --overage-start 2025-10-01 --overage-end 2025-10-31 \
    --bill-month 2025-12 --dry-run --debug`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("overage-start", "", "Start of the overage window (YYYY-MM-DD)")
	generateCmd.Flags().String("overage-end", "", "End of the overage window (YYYY-MM-DD)")
	generateCmd.Flags().String("bill-month", "", "Month to bill retainers for (YYYY-MM)")
	generateCmd.Flags().String("invoice-date", "", "Invoice date (YYYY-MM-DD, default: 15th of bill month)")
	generateCmd.Flags().Bool("production", false, "Use production QuickBooks (default: sandbox)")
	generateCmd.Flags().Bool("dry-run", false, "Compute and print but create no invoices")
	generateCmd.Flags().Bool("debug", false, "Print intermediate charges and line items")
	generateCmd.Flags().Int("concurrency", 1, "Clients processed in parallel (bounded)")
	generateCmd.Flags().Int("max-failures", 0, "Abort remaining clients after this many failures (0 = never)")

	_ = generateCmd.MarkFlagRequired("overage-start")
	_ = generateCmd.MarkFlagRequired("overage-end")
	_ = generateCmd.MarkFlagRequired("bill-month")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("generate")

	overageStart, _ := cmd.Flags().GetString("overage-start")
	overageEnd, _ := cmd.Flags().GetString("overage-end")
	billMonth, _ := cmd.Flags().GetString("bill-month")
	invoiceDate, _ := cmd.Flags().GetString("invoice-date")
	production, _ := cmd.Flags().GetBool("production")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	debug, _ := cmd.Flags().GetBool("debug")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	maxFailures, _ := cmd.Flags().GetInt("max-failures")

	if debug {
		cfg := logger.DefaultConfig()
		cfg.Level = "debug"
		if err := logger.Setup(cfg); err != nil {
			return err
		}
	}

	period, err := billing.NewBillingPeriod(overageStart, overageEnd, billMonth, invoiceDate)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.Info().
		Str("overage_window", overageStart+".."+overageEnd).
		Str("bill_month", billMonth).
		Str("invoice_date", period.InvoiceDate.Format("2006-01-02")).
		Bool("production", production).
		Bool("dry_run", dryRun).
		Msg("Starting billing run")

	ctx := context.Background()

	qb := quickbooks.NewClient(cfg.IntuitAccessToken, cfg.IntuitRealmID, production)
	if err := qb.Ping(ctx); err != nil {
		if errors.Is(err, quickbooks.ErrAuthFailure) {
			return fmt.Errorf("QuickBooks credentials rejected, re-authorize before running: %w", err)
		}
		return fmt.Errorf("QuickBooks connection check failed: %w", err)
	}

	registry := notion.NewClient(cfg.NotionToken, cfg.NotionClientsDB, cfg.NotionTimeDB)

	snapshot, err := registry.ListActiveClients(ctx)
	if err != nil {
		return fmt.Errorf("loading client registry: %w", err)
	}
	if len(snapshot) == 0 {
		return fmt.Errorf("no active clients in registry")
	}

	entries, fetchWarnings, err := registry.FetchTimeEntries(ctx, period.OverageStart, period.OverageEnd)
	if err != nil {
		return fmt.Errorf("loading time entries: %w", err)
	}

	ledger := run.NewTimeLedger(entries, snapshot)

	orch := run.New(qb, qb, run.Options{
		Concurrency: concurrency,
		MaxFailures: maxFailures,
		DryRun:      dryRun,
	})
	summary := orch.Run(ctx, snapshot, ledger, period)
	summary.Warnings = append(fetchWarnings, summary.Warnings...)

	printSummary(summary)

	if !summary.AllSucceeded() {
		return fmt.Errorf("billing run incomplete: %s", describeFailures(summary))
	}
	return nil
}

// printSummary renders the operator-facing run report on stdout.
func printSummary(summary *run.Summary) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 72))
	if summary.DryRun {
		fmt.Printf("BILLING RUN SUMMARY (dry run): %s retainer + %s overages\n",
			billing.MonthName(summary.Period.BillMonth), billing.MonthName(summary.Period.OverageMonth))
	} else {
		fmt.Printf("BILLING RUN SUMMARY: %s retainer + %s overages\n",
			billing.MonthName(summary.Period.BillMonth), billing.MonthName(summary.Period.OverageMonth))
	}
	fmt.Println(strings.Repeat("=", 72))

	for _, o := range summary.Outcomes {
		switch o.Status {
		case run.StatusSuccess:
			if summary.DryRun {
				fmt.Printf("  %-20s would invoice $%s (%d line items)\n", o.Client, o.Amount, o.LineCount)
			} else if o.Purged > 0 {
				fmt.Printf("  %-20s invoice #%s, $%s (%d line items, %d stale drafts replaced)\n",
					o.Client, o.DocNumber, o.Amount, o.LineCount, o.Purged)
			} else {
				fmt.Printf("  %-20s invoice #%s, $%s (%d line items)\n", o.Client, o.DocNumber, o.Amount, o.LineCount)
			}
		case run.StatusSkipped:
			fmt.Printf("  %-20s skipped: %v\n", o.Client, o.Err)
		case run.StatusAborted:
			fmt.Printf("  %-20s not attempted: %v\n", o.Client, o.Err)
		default:
			fmt.Printf("  %-20s FAILED: %v\n", o.Client, o.Err)
		}
	}

	if len(summary.Warnings) > 0 {
		fmt.Println(strings.Repeat("-", 72))
		fmt.Println("  Warnings:")
		for _, w := range summary.Warnings {
			fmt.Printf("    - %s\n", w)
		}
	}

	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("  Total billed: $%s    Run ID: %s\n", summary.Total(), summary.RunID)
	fmt.Println(strings.Repeat("=", 72))
}

func describeFailures(summary *run.Summary) string {
	var parts []string
	for _, o := range summary.Outcomes {
		if o.Status != run.StatusSuccess {
			parts = append(parts, fmt.Sprintf("%s %s", o.Client, strings.ToLower(string(o.Status))))
		}
	}
	return strings.Join(parts, ", ")
}
