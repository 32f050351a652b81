package billing

import (
	"fmt"
	"time"

	"github.com/mellonhead/billrun/pkg/models"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"

	// invoiceDayOfMonth is the default invoice day when none is given.
	invoiceDayOfMonth = 15

	// paymentTerms is the gap between invoice date and due date.
	paymentTerms = 30 * 24 * time.Hour
)

// NewBillingPeriod builds a validated BillingPeriod from CLI-style inputs.
//
// overageStart and overageEnd bound the prior window overage hours are
// aggregated over (YYYY-MM-DD, inclusive). billMonth is the month the
// retainer is billed for (YYYY-MM). invoiceDate is optional (YYYY-MM-DD)
// and defaults to the 15th of billMonth. The due date is 30 days after the
// invoice date.
func NewBillingPeriod(overageStart, overageEnd, billMonth, invoiceDate string) (models.BillingPeriod, error) {
	start, err := time.Parse(dateLayout, overageStart)
	if err != nil {
		return models.BillingPeriod{}, fmt.Errorf("%w: overage start %q: use YYYY-MM-DD", ErrInvalidPeriod, overageStart)
	}

	end, err := time.Parse(dateLayout, overageEnd)
	if err != nil {
		return models.BillingPeriod{}, fmt.Errorf("%w: overage end %q: use YYYY-MM-DD", ErrInvalidPeriod, overageEnd)
	}

	if start.After(end) {
		return models.BillingPeriod{}, fmt.Errorf("%w: overage start %s after end %s", ErrInvalidPeriod, overageStart, overageEnd)
	}

	billMonthStart, err := time.Parse(monthLayout, billMonth)
	if err != nil {
		return models.BillingPeriod{}, fmt.Errorf("%w: bill month %q: use YYYY-MM", ErrInvalidPeriod, billMonth)
	}

	var invDate time.Time
	if invoiceDate == "" {
		invDate = billMonthStart.AddDate(0, 0, invoiceDayOfMonth-1)
	} else {
		invDate, err = time.Parse(dateLayout, invoiceDate)
		if err != nil {
			return models.BillingPeriod{}, fmt.Errorf("%w: invoice date %q: use YYYY-MM-DD", ErrInvalidPeriod, invoiceDate)
		}
	}

	return models.BillingPeriod{
		OverageStart: start,
		OverageEnd:   end,
		OverageMonth: start.Format(monthLayout),
		BillMonth:    billMonth,
		InvoiceDate:  invDate,
		DueDate:      invDate.Add(paymentTerms),
	}, nil
}

// MonthName renders a YYYY-MM token as a human month, e.g. "October 2025".
// Unparseable tokens are returned unchanged so descriptions degrade gracefully.
func MonthName(month string) string {
	t, err := time.Parse(monthLayout, month)
	if err != nil {
		return month
	}
	return t.Format("January 2006")
}
