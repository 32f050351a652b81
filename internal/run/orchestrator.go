// Package run drives the monthly billing cycle across the active client
// snapshot: charges, line items, and reconciliation per client, with
// per-client outcomes collected into a run summary.
//
// Clients are independent units of work. Errors inside one client never
// abort its siblings; they are caught here, attached to that client's
// outcome, and the run continues. Processing is sequential by default and
// may be widened to a small bounded pool — the invoicing service's request
// ceiling is enforced by the shared limiter inside its adapter, not here.
package run

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mellonhead/billrun/internal/billing"
	"github.com/mellonhead/billrun/internal/logger"
	"github.com/mellonhead/billrun/internal/reconcile"
	"github.com/mellonhead/billrun/pkg/models"
)

// Catalog resolves catalog item prices from the invoicing service.
type Catalog interface {
	PriceOf(ctx context.Context, serviceRef string) (decimal.Decimal, error)
}

// Status is a client's terminal state within a run.
type Status string

const (
	// StatusSuccess: the client's invoice was reconciled (or, in dry-run,
	// fully computed).
	StatusSuccess Status = "SUCCESS"

	// StatusFailed: assembly or reconciliation failed; siblings continue.
	StatusFailed Status = "FAILED"

	// StatusSkipped: the client configuration was incomplete.
	StatusSkipped Status = "SKIPPED"

	// StatusAborted: the run stopped before this client was attempted.
	StatusAborted Status = "ABORTED"
)

// Outcome is one client's result.
type Outcome struct {
	Client    string
	Status    Status
	Amount    decimal.Decimal
	LineCount int
	Purged    int
	DocNumber string
	Err       error
}

// Summary aggregates a whole run.
type Summary struct {
	RunID    string
	Period   models.BillingPeriod
	DryRun   bool
	Outcomes []Outcome
	Warnings []string
}

// AllSucceeded reports whether every client reached SUCCESS. It drives the
// process exit code: partial success is reported, not hidden, but anything
// short of full success needs operator attention.
func (s *Summary) AllSucceeded() bool {
	for _, o := range s.Outcomes {
		if o.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// Total sums the amounts of all successful clients.
func (s *Summary) Total() decimal.Decimal {
	total := decimal.Zero
	for _, o := range s.Outcomes {
		if o.Status == StatusSuccess {
			total = total.Add(o.Amount)
		}
	}
	return total
}

// Options tune a run.
type Options struct {
	// Concurrency bounds the worker pool. Zero or one means sequential.
	Concurrency int

	// MaxFailures aborts remaining clients once this many have failed.
	// Zero means never abort. A client already mid-reconcile always runs
	// to its own terminal state; only not-yet-started clients are aborted.
	MaxFailures int

	// DryRun computes and reports but performs no purge or create.
	DryRun bool
}

// Orchestrator sequences the billing pipeline per client.
type Orchestrator struct {
	store   reconcile.DocumentStore
	catalog Catalog
	opts    Options
	log     zerolog.Logger
}

// New creates an orchestrator with injected collaborators.
func New(store reconcile.DocumentStore, catalog Catalog, opts Options) *Orchestrator {
	return &Orchestrator{
		store:   store,
		catalog: catalog,
		opts:    opts,
		log:     logger.WithComponent("orchestrator"),
	}
}

// Run processes every client in the snapshot against the ledger and period.
// The snapshot is read-only; registry changes made mid-run are not observed,
// so a run is reproducible given the same snapshot and entries.
func (o *Orchestrator) Run(ctx context.Context, snapshot []models.ClientConfig, ledger *TimeLedger, period models.BillingPeriod) *Summary {
	summary := &Summary{
		RunID:    uuid.NewString(),
		Period:   period,
		DryRun:   o.opts.DryRun,
		Outcomes: make([]Outcome, len(snapshot)),
		Warnings: ledger.Warnings(),
	}

	log := o.log.With().Str("run_id", summary.RunID).Logger()
	log.Info().
		Int("clients", len(snapshot)).
		Str("bill_month", period.BillMonth).
		Str("overage_month", period.OverageMonth).
		Bool("dry_run", o.opts.DryRun).
		Msg("Billing run started")

	var failures atomic.Int64
	var mu sync.Mutex

	var group errgroup.Group
	limit := o.opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	group.SetLimit(limit)

	for i, cfg := range snapshot {
		i, cfg := i, cfg
		group.Go(func() error {
			if o.opts.MaxFailures > 0 && failures.Load() >= int64(o.opts.MaxFailures) {
				mu.Lock()
				summary.Outcomes[i] = Outcome{
					Client: cfg.Name,
					Status: StatusAborted,
					Err:    fmt.Errorf("run aborted after %d failed clients", o.opts.MaxFailures),
				}
				mu.Unlock()
				return nil
			}

			outcome := o.processClient(ctx, cfg, ledger, period, summary.RunID)
			if outcome.Status == StatusFailed {
				failures.Add(1)
			}

			mu.Lock()
			summary.Outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	log.Info().
		Bool("all_succeeded", summary.AllSucceeded()).
		Str("total", summary.Total().String()).
		Int("warnings", len(summary.Warnings)).
		Msg("Billing run finished")

	return summary
}

// processClient runs one client through the full pipeline. All failures are
// converted into the outcome here; nothing escapes to abort siblings.
func (o *Orchestrator) processClient(ctx context.Context, cfg models.ClientConfig, ledger *TimeLedger, period models.BillingPeriod, runID string) Outcome {
	log := o.log.With().Str("run_id", runID).Str("client", cfg.Name).Logger()

	if err := billing.ValidateConfig(cfg); err != nil {
		log.Warn().Err(err).Msg("Client configuration incomplete, skipping")
		return Outcome{Client: cfg.Name, Status: StatusSkipped, Err: err}
	}

	periodHours := ledger.SumHours(cfg.Name)

	charges, err := billing.ComputeCharges(cfg, periodHours, period)
	if err != nil {
		log.Error().Err(err).Msg("Charge computation failed")
		return Outcome{Client: cfg.Name, Status: StatusFailed, Err: err}
	}

	log.Debug().
		Int("time_entries", len(ledger.Entries(cfg.Name))).
		Float64("period_hours", charges.PeriodHours).
		Float64("retainer_hours", cfg.MonthlyRetainerHours).
		Float64("overage_hours", charges.OverageHours).
		Str("retainer_amount", charges.RetainerAmount.String()).
		Str("overage_amount", charges.OverageAmount.String()).
		Bool("billable", charges.Billable).
		Msg("Charges computed")

	catalog, err := o.resolveCatalog(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Catalog price resolution failed")
		return Outcome{Client: cfg.Name, Status: StatusFailed, Err: err}
	}

	items, err := billing.BuildLineItems(cfg, charges, period, catalog)
	if err != nil {
		log.Error().Err(err).Msg("Line item assembly failed")
		return Outcome{Client: cfg.Name, Status: StatusFailed, Err: err}
	}

	for _, item := range items {
		log.Debug().
			Str("kind", string(item.Kind)).
			Str("service", item.ServiceRef).
			Str("amount", item.Amount.String()).
			Str("description", item.Description).
			Msg("Line item assembled")
	}

	note := fmt.Sprintf("Generated by billrun %s for %s. Payment accepted via ACH or wire.", runID, period.BillMonth)
	invoice := billing.BuildInvoice(cfg, items, period, note)

	if o.opts.DryRun {
		log.Info().
			Str("total", invoice.Total().String()).
			Int("lines", len(items)).
			Msg("Dry run, invoice not submitted")
		return Outcome{
			Client:    cfg.Name,
			Status:    StatusSuccess,
			Amount:    invoice.Total(),
			LineCount: len(items),
		}
	}

	result := reconcile.Reconcile(ctx, o.store, invoice)
	if !result.Succeeded() {
		return Outcome{
			Client:    cfg.Name,
			Status:    StatusFailed,
			Purged:    len(result.PurgedIDs),
			LineCount: len(items),
			Err:       result.Err,
		}
	}

	return Outcome{
		Client:    cfg.Name,
		Status:    StatusSuccess,
		Amount:    invoice.Total(),
		LineCount: len(items),
		Purged:    len(result.PurgedIDs),
		DocNumber: result.Created.DocNumber,
	}
}

// resolveCatalog fetches prices for every service the client's invoice can
// reference. Missing overage items surface later through assembly policy,
// so only retainer services are strictly required here.
func (o *Orchestrator) resolveCatalog(ctx context.Context, cfg models.ClientConfig) (billing.CatalogPrices, error) {
	catalog := make(billing.CatalogPrices, len(cfg.RetainerServiceRefs)+1)

	for _, ref := range cfg.RetainerServiceRefs {
		price, err := o.catalog.PriceOf(ctx, ref)
		if err != nil {
			return nil, billing.NewBillingError("resolveCatalog", cfg.Name, billing.ErrUnresolvedService,
				fmt.Sprintf("service %q: %v", ref, err))
		}
		catalog[ref] = price
	}

	if cfg.OverageServiceRef != "" {
		if price, err := o.catalog.PriceOf(ctx, cfg.OverageServiceRef); err == nil {
			catalog[cfg.OverageServiceRef] = price
		}
	}

	return catalog, nil
}
