package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClientConfig is one active client's billing configuration as held in the
// client registry. It is a read-only snapshot for the duration of a run.
type ClientConfig struct {
	// Name is the human-readable client name (registry title).
	Name string

	// ClientID is the stable registry identifier for the client record.
	ClientID string

	// PageURL links back to the registry record, for run reporting.
	PageURL string

	// CustomerRef is the customer identifier in the invoicing service.
	// Required; a client without one cannot be invoiced.
	CustomerRef string

	// MonthlyRetainerHours is the hour allotment covered by the retainer.
	// Zero means every logged hour bills as overage.
	MonthlyRetainerHours float64

	// RetainerRate is the fixed monthly retainer fee. Used for cross-checking
	// against the catalog price sum; the catalog is authoritative per service.
	RetainerRate decimal.Decimal

	// OverageRate is the per-hour rate for hours beyond the allotment.
	OverageRate decimal.Decimal

	// RetainerServiceRefs are catalog item identifiers billed every month,
	// in the configured order.
	RetainerServiceRefs []string

	// OverageServiceRef is the catalog item used for overage hours.
	// Optional; absence blocks overage billing for the client.
	OverageServiceRef string
}

// TimeEntry is one logged work session from the time ledger.
// Entries are inputs only and are never mutated.
type TimeEntry struct {
	ClientName  string
	Date        time.Time
	Hours       float64
	Description string
}

// BillingPeriod pins down the three time anchors of a run: the prior window
// over which overage hours are aggregated, the current month the retainer is
// billed for, and the invoice/due dates.
type BillingPeriod struct {
	OverageStart time.Time
	OverageEnd   time.Time

	// OverageMonth is the YYYY-MM token of the overage window.
	OverageMonth string

	// BillMonth is the YYYY-MM token of the retainer month.
	BillMonth string

	InvoiceDate time.Time
	DueDate     time.Time
}

// Charges is the output of the billing calculator for one client.
type Charges struct {
	PeriodHours    float64
	OverageHours   float64
	RetainerAmount decimal.Decimal
	OverageAmount  decimal.Decimal

	// Billable reports whether an overage line must appear on the invoice.
	// True exactly when OverageHours > 0, regardless of OverageAmount.
	Billable bool
}

// LineItemKind distinguishes the two kinds of invoice lines.
type LineItemKind string

const (
	LineRetainer LineItemKind = "RETAINER"
	LineOverage  LineItemKind = "OVERAGE"
)

// LineItem is one billable entry on a consolidated invoice.
// Quantity and UnitPrice are set only on overage lines; retainer lines bill
// the catalog price as a flat amount.
type LineItem struct {
	Kind        LineItemKind
	ServiceRef  string
	Amount      decimal.Decimal
	Quantity    float64
	UnitPrice   decimal.Decimal
	Description string
}

// ConsolidatedInvoice is the unit handed to the reconciler: every line for
// one customer for one billing cycle. It is rebuilt from scratch on every
// run and never diffed against prior in-memory state.
type ConsolidatedInvoice struct {
	CustomerRef string
	TxnDate     time.Time
	DueDate     time.Time
	Lines       []LineItem

	// Note is the provenance marker carried into the created document.
	Note string
}

// Total sums all line amounts.
func (inv *ConsolidatedInvoice) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range inv.Lines {
		total = total.Add(line.Amount)
	}
	return total
}

// Document is the invoicing service's view of an invoice document.
type Document struct {
	ID          string
	SyncToken   string
	DocNumber   string
	CustomerRef string

	// EmailStatus is the service's delivery state. Documents that have not
	// been emailed are safe to delete and recreate.
	EmailStatus string

	TotalAmt decimal.Decimal
}

// Unsent reports whether the document has not been delivered to the customer.
func (d *Document) Unsent() bool {
	return d.EmailStatus != "EmailSent"
}
