package quickbooks

import (
	"errors"
	"fmt"
	"strings"
)

// Common invoicing-service errors
var (
	// ErrAuthFailure is returned when credentials are invalid or expired.
	// Fatal for an entire run: no client can proceed without access.
	ErrAuthFailure = errors.New("quickbooks authentication failed")

	// ErrNotFound is returned when a referenced entity (item, customer,
	// invoice) does not exist.
	ErrNotFound = errors.New("quickbooks entity not found")

	// ErrStaleObject is returned when a delete carries an outdated sync
	// token, meaning the document changed since it was looked up.
	ErrStaleObject = errors.New("quickbooks object version is stale")

	// ErrRateLimited is returned when the API throttles the caller despite
	// the client-side limiter.
	ErrRateLimited = errors.New("quickbooks request rate exceeded")
)

// faultEnvelope is the error body the API returns on failures.
type faultEnvelope struct {
	Fault struct {
		Type  string `json:"type"`
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
	} `json:"Fault"`
}

// APIError carries the service's fault details alongside the HTTP status and
// the intuit_tid correlation header needed when raising support tickets.
type APIError struct {
	Op         string
	StatusCode int
	IntuitTID  string
	FaultType  string
	Code       string
	Message    string
	Detail     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "quickbooks: %s failed: HTTP %d", e.Op, e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " [code %s]", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Detail != "" && e.Detail != e.Message {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	if e.IntuitTID != "" {
		fmt.Fprintf(&b, " intuit_tid=%s", e.IntuitTID)
	}
	return b.String()
}

// Unwrap maps the fault onto the package sentinels so callers can use
// errors.Is without inspecting codes.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return ErrAuthFailure
	case e.StatusCode == 429:
		return ErrRateLimited
	case e.StatusCode == 404, e.Code == "610": // 610: object not found
		return ErrNotFound
	case e.Code == "5010": // stale object error
		return ErrStaleObject
	}
	return nil
}

// newAPIError builds an APIError from a fault envelope, tolerating bodies
// that are not fault-shaped.
func newAPIError(op string, status int, tid string, fault faultEnvelope) *APIError {
	apiErr := &APIError{
		Op:         op,
		StatusCode: status,
		IntuitTID:  tid,
		FaultType:  fault.Fault.Type,
	}
	if len(fault.Fault.Error) > 0 {
		apiErr.Code = fault.Fault.Error[0].Code
		apiErr.Message = fault.Fault.Error[0].Message
		apiErr.Detail = fault.Fault.Error[0].Detail
	}
	return apiErr
}
