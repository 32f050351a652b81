// Package billing computes per-client charges for a billing period and
// assembles them into consolidated invoice line items.
//
// The billing model is retainer-plus-overage: each client owes a fixed
// monthly retainer covering an allotted number of hours, and hours worked
// beyond the allotment in the prior window bill separately at a per-hour
// overage rate. The retainer is owed in full regardless of hours actually
// used; unused allotment is not refunded or prorated.
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mellonhead/billrun/pkg/models"
)

// ValidateConfig checks that a client configuration carries everything the
// calculator and assembler need. Failures wrap ErrConfigIncomplete; the
// caller skips the client and continues the run.
func ValidateConfig(cfg models.ClientConfig) error {
	if cfg.CustomerRef == "" {
		return NewBillingError("ValidateConfig", cfg.Name, ErrConfigIncomplete, "no invoicing customer ref")
	}
	if cfg.MonthlyRetainerHours < 0 {
		return NewBillingError("ValidateConfig", cfg.Name, ErrConfigIncomplete,
			fmt.Sprintf("negative retainer hours %v", cfg.MonthlyRetainerHours))
	}
	if cfg.RetainerRate.IsNegative() {
		return NewBillingError("ValidateConfig", cfg.Name, ErrConfigIncomplete,
			fmt.Sprintf("negative retainer rate %s", cfg.RetainerRate))
	}
	if cfg.OverageRate.IsNegative() {
		return NewBillingError("ValidateConfig", cfg.Name, ErrConfigIncomplete,
			fmt.Sprintf("negative overage rate %s", cfg.OverageRate))
	}
	if len(cfg.RetainerServiceRefs) == 0 && cfg.RetainerRate.IsPositive() {
		return NewBillingError("ValidateConfig", cfg.Name, ErrConfigIncomplete,
			"retainer rate set but no retainer services configured")
	}
	return nil
}

// ComputeCharges maps a client's configuration and aggregated period hours to
// the charges owed for the period.
//
// Overage hours are max(0, periodHours - allotment); a zero-allotment client
// bills every hour as overage. The retainer amount is the configured fixed
// rate, independent of hours worked — a client with zero logged time still
// owes it in full. Billable is true exactly when overage hours exist, even
// at a zero overage rate, so the hours stay visible on the invoice.
func ComputeCharges(cfg models.ClientConfig, periodHours float64, period models.BillingPeriod) (models.Charges, error) {
	if periodHours < 0 {
		return models.Charges{}, NewBillingError("ComputeCharges", cfg.Name, ErrNegativeHours,
			fmt.Sprintf("%v hours in %s..%s", periodHours,
				period.OverageStart.Format(dateLayout), period.OverageEnd.Format(dateLayout)))
	}

	overageHours := periodHours - cfg.MonthlyRetainerHours
	if overageHours < 0 {
		overageHours = 0
	}

	return models.Charges{
		PeriodHours:    periodHours,
		OverageHours:   overageHours,
		RetainerAmount: cfg.RetainerRate,
		OverageAmount:  cfg.OverageRate.Mul(decimal.NewFromFloat(overageHours)),
		Billable:       overageHours > 0,
	}, nil
}
