// Package reconcile synchronizes a freshly computed consolidated invoice
// with the external invoicing service.
//
// Reconciliation is a per-customer two-phase state machine: Lookup finds
// every unsent document the service currently holds for the customer, Purge
// deletes them all, and Create submits the fresh invoice only once the purge
// fully succeeded. Recreating from scratch removes any need to diff old
// line items against new ones and makes every run produce a complete
// document; the delete-then-create window is acceptable because unsent
// drafts are never visible to the end client. Running twice with identical
// input leaves exactly one unsent document either way, so a full re-run is
// the retry mechanism — no in-process retries.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/mellonhead/billrun/internal/logger"
	"github.com/mellonhead/billrun/pkg/models"
)

// Reconciliation errors
var (
	// ErrLookupFailed is returned when the unsent-document query fails.
	ErrLookupFailed = errors.New("unsent document lookup failed")

	// ErrPurgeFailed is returned when one or more stale documents could not
	// be deleted. No new document is created on top of un-purged drafts.
	ErrPurgeFailed = errors.New("stale document purge failed")

	// ErrCreateFailed is returned when the fresh document could not be
	// created after a clean purge.
	ErrCreateFailed = errors.New("document creation failed")
)

// DocumentStore is the slice of the invoicing service the reconciler needs.
type DocumentStore interface {
	// QueryUnsentDocuments returns every document for the customer that has
	// not yet been emailed, regardless of which run created it.
	QueryUnsentDocuments(ctx context.Context, customerRef string) ([]models.Document, error)

	// DeleteDocument removes a document at the given version.
	DeleteDocument(ctx context.Context, id, syncToken string) error

	// CreateDocument submits the invoice as a new unsent document.
	// Creation is atomic on the service side.
	CreateDocument(ctx context.Context, inv models.ConsolidatedInvoice) (models.Document, error)
}

// Phase identifies how far a reconciliation attempt progressed.
type Phase string

const (
	PhaseLookup Phase = "lookup"
	PhasePurge  Phase = "purge"
	PhaseCreate Phase = "create"
)

// Result records the outcome of one customer's reconciliation.
type Result struct {
	CustomerRef string

	// Phase is the furthest phase the attempt entered.
	Phase Phase

	// PurgedIDs lists the stale documents that were successfully deleted.
	PurgedIDs []string

	// PurgeErrs holds the per-document delete failures. Non-empty PurgeErrs
	// means no create was attempted.
	PurgeErrs []error

	// Created is the fresh document, set only on success.
	Created *models.Document

	// Err is the terminal error, nil on success.
	Err error
}

// Succeeded reports whether the customer holds exactly the fresh document.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Reconcile drives one customer through Lookup, Purge, and Create.
//
// Every stale document is attempted even after a delete fails, but any
// delete failure blocks Create and fails the attempt: creating on top of
// un-purged drafts would double-bill the customer. A create failure is
// terminal as well; the operator re-runs the whole process, which is safe
// because the next Lookup observes whatever state the service holds.
func Reconcile(ctx context.Context, store DocumentStore, inv models.ConsolidatedInvoice) Result {
	log := logger.WithComponent("reconcile")
	result := Result{CustomerRef: inv.CustomerRef, Phase: PhaseLookup}

	stale, err := store.QueryUnsentDocuments(ctx, inv.CustomerRef)
	if err != nil {
		result.Err = fmt.Errorf("%w: customer %s: %v", ErrLookupFailed, inv.CustomerRef, err)
		return result
	}

	log.Debug().
		Str("customer", inv.CustomerRef).
		Int("stale_documents", len(stale)).
		Msg("Unsent document lookup complete")

	result.Phase = PhasePurge
	for _, doc := range stale {
		if err := store.DeleteDocument(ctx, doc.ID, doc.SyncToken); err != nil {
			log.Error().
				Err(err).
				Str("customer", inv.CustomerRef).
				Str("document_id", doc.ID).
				Msg("Failed to delete stale document")
			result.PurgeErrs = append(result.PurgeErrs, fmt.Errorf("document %s: %w", doc.ID, err))
			continue
		}
		result.PurgedIDs = append(result.PurgedIDs, doc.ID)
	}

	if len(result.PurgeErrs) > 0 {
		result.Err = fmt.Errorf("%w: customer %s: %d of %d deletes failed, no invoice created: %v",
			ErrPurgeFailed, inv.CustomerRef, len(result.PurgeErrs), len(stale), errors.Join(result.PurgeErrs...))
		return result
	}

	result.Phase = PhaseCreate
	created, err := store.CreateDocument(ctx, inv)
	if err != nil {
		result.Err = fmt.Errorf("%w: customer %s: %v", ErrCreateFailed, inv.CustomerRef, err)
		return result
	}

	result.Created = &created

	log.Info().
		Str("customer", inv.CustomerRef).
		Str("document_id", created.ID).
		Str("doc_number", created.DocNumber).
		Int("purged", len(result.PurgedIDs)).
		Str("total", inv.Total().String()).
		Msg("Invoice reconciled")

	return result
}
