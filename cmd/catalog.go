package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mellonhead/billrun/internal/config"
	"github.com/mellonhead/billrun/internal/logger"
	"github.com/mellonhead/billrun/internal/quickbooks"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List QuickBooks customers and service items",
	Long: `List the customers and active service items held in QuickBooks, with the
IDs needed to fill in the client registry (QB Customer ID, Retainer
Service IDs, Overage SKU).`,
	Example: `  # Everything, against the sandbox
  billrun catalog

  # Only service items, against production
  billrun catalog --items --production`,
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)

	catalogCmd.Flags().Bool("production", false, "Use production QuickBooks (default: sandbox)")
	catalogCmd.Flags().Bool("customers", false, "List customers only")
	catalogCmd.Flags().Bool("items", false, "List service items only")
}

func runCatalog(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("catalog")

	production, _ := cmd.Flags().GetBool("production")
	customersOnly, _ := cmd.Flags().GetBool("customers")
	itemsOnly, _ := cmd.Flags().GetBool("items")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	qb := quickbooks.NewClient(cfg.IntuitAccessToken, cfg.IntuitRealmID, production)

	if err := qb.Ping(ctx); err != nil {
		return fmt.Errorf("QuickBooks connection check failed: %w", err)
	}

	if !itemsOnly {
		customers, err := qb.ListCustomers(ctx)
		if err != nil {
			return fmt.Errorf("listing customers: %w", err)
		}

		log.Info().Int("customers", len(customers)).Msg("Customers fetched")

		fmt.Println("CUSTOMERS")
		for _, c := range customers {
			status := "active"
			if !c.Active {
				status = "inactive"
			}
			name := c.DisplayName
			if c.CompanyName != "" && c.CompanyName != c.DisplayName {
				name = fmt.Sprintf("%s (%s)", c.DisplayName, c.CompanyName)
			}
			fmt.Printf("  %-6s %-40s %s\n", c.ID, name, status)
		}
		fmt.Println()
	}

	if !customersOnly {
		items, err := qb.ListItems(ctx)
		if err != nil {
			return fmt.Errorf("listing items: %w", err)
		}

		log.Info().Int("items", len(items)).Msg("Service items fetched")

		fmt.Println("SERVICE ITEMS")
		for _, item := range items {
			fmt.Printf("  %-6s %-50s $%s\n", item.ID, item.Name, item.UnitPrice)
		}
	}

	return nil
}
