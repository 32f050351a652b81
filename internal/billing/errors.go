package billing

import (
	"errors"
	"fmt"
)

// Common billing computation errors
var (
	// ErrConfigIncomplete is returned when a client configuration is missing
	// fields required for invoicing. The client is skipped, not the run.
	ErrConfigIncomplete = errors.New("client configuration incomplete")

	// ErrNegativeHours is returned when aggregated period hours are negative.
	// Negative hours are a data-validity failure, never silently clamped.
	ErrNegativeHours = errors.New("negative period hours")

	// ErrUnresolvedService is returned when a configured retainer service has
	// no corresponding price in the catalog.
	ErrUnresolvedService = errors.New("service has no catalog price")

	// ErrMissingOverageSKU is returned when overage hours must be billed but
	// the client has no overage service configured.
	ErrMissingOverageSKU = errors.New("overage billable but no overage service configured")

	// ErrInvalidPeriod is returned when the billing period inputs are
	// malformed or inconsistent.
	ErrInvalidPeriod = errors.New("invalid billing period")
)

// BillingError wraps errors with the client and operation they occurred in.
type BillingError struct {
	// Op is the operation that failed (e.g. "ComputeCharges", "BuildLineItems").
	Op string

	// Client is the client name the failure is attributable to.
	Client string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *BillingError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("billing: %s failed for %s: %s: %v", e.Op, e.Client, e.Details, e.Err)
	}
	return fmt.Sprintf("billing: %s failed for %s: %v", e.Op, e.Client, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *BillingError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *BillingError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewBillingError creates a BillingError for the given operation and client.
func NewBillingError(op, client string, err error, details string) *BillingError {
	return &BillingError{Op: op, Client: client, Err: err, Details: details}
}
