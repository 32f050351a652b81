package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mellonhead/billrun/internal/logger"
	"github.com/mellonhead/billrun/pkg/models"
)

// CatalogPrices maps service refs to their authoritative unit price in the
// invoicing service's item catalog.
type CatalogPrices map[string]decimal.Decimal

// BuildLineItems turns computed charges into the ordered line items of a
// consolidated invoice.
//
// One retainer line is emitted per configured retainer service, in configured
// order, priced from the catalog — the catalog is authoritative for
// per-service pricing; the config's retainer rate is only cross-checked
// against the price sum, and a mismatch logs a warning rather than failing.
// When charges are billable, exactly one overage line is appended last.
// Ordering is stable across runs so regenerated invoices stay comparable
// month to month.
func BuildLineItems(cfg models.ClientConfig, charges models.Charges, period models.BillingPeriod, catalog CatalogPrices) ([]models.LineItem, error) {
	log := logger.WithComponent("line-items")

	items := make([]models.LineItem, 0, len(cfg.RetainerServiceRefs)+1)
	retainerSum := decimal.Zero

	for _, ref := range cfg.RetainerServiceRefs {
		price, ok := catalog[ref]
		if !ok {
			return nil, NewBillingError("BuildLineItems", cfg.Name, ErrUnresolvedService,
				fmt.Sprintf("retainer service %q", ref))
		}

		items = append(items, models.LineItem{
			Kind:        models.LineRetainer,
			ServiceRef:  ref,
			Amount:      price,
			Description: fmt.Sprintf("Services for %s", MonthName(period.BillMonth)),
		})
		retainerSum = retainerSum.Add(price)
	}

	if !retainerSum.Equal(cfg.RetainerRate) {
		log.Warn().
			Str("client", cfg.Name).
			Str("catalog_sum", retainerSum.String()).
			Str("configured_rate", cfg.RetainerRate.String()).
			Msg("Retainer service prices do not sum to configured retainer rate")
	}

	if charges.Billable {
		if cfg.OverageServiceRef == "" {
			return nil, NewBillingError("BuildLineItems", cfg.Name, ErrMissingOverageSKU,
				fmt.Sprintf("%v overage hours", charges.OverageHours))
		}

		items = append(items, models.LineItem{
			Kind:       models.LineOverage,
			ServiceRef: cfg.OverageServiceRef,
			Amount:     charges.OverageAmount,
			Quantity:   charges.OverageHours,
			UnitPrice:  cfg.OverageRate,
			Description: fmt.Sprintf("Services for %s (%v hrs overage @ $%s/hr)",
				MonthName(period.OverageMonth), charges.OverageHours, cfg.OverageRate),
		})
	}

	return items, nil
}

// BuildInvoice wraps assembled line items into the consolidated invoice
// handed to the reconciler. note is the provenance marker carried into the
// created document.
func BuildInvoice(cfg models.ClientConfig, items []models.LineItem, period models.BillingPeriod, note string) models.ConsolidatedInvoice {
	return models.ConsolidatedInvoice{
		CustomerRef: cfg.CustomerRef,
		TxnDate:     period.InvoiceDate,
		DueDate:     period.DueDate,
		Lines:       items,
		Note:        note,
	}
}
