// Package services defines the business logic for prestations: code
// allocation, the lifecycle state machine, and document reconciliation.
// This file centralizes the service-level error values and types so they can
// be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/gcgeo/go-prestation-backend/internal/domain"
	"github.com/gcgeo/go-prestation-backend/internal/numbering"
)

var (
	// ErrPrestationNotFound indicates that the requested prestation does not
	// exist.
	ErrPrestationNotFound = errors.New("prestation not found")

	// ErrAllocationExhausted is returned when the bounded uniqueness-retry
	// loop around code allocation ran out of attempts. It signals contention,
	// not invalid input; callers may retry the whole operation.
	ErrAllocationExhausted = errors.New("code allocation retries exhausted")
)

// IllegalTransitionError reports a lifecycle action attempted from a status
// that does not allow it. The record is left untouched.
type IllegalTransitionError struct {
	Numero  string
	Current domain.Status
	Action  domain.Action
	Target  domain.Status // set for edit-driven status changes
}

func (e *IllegalTransitionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("prestation %s: cannot move from %q to %q via %s", e.Numero, e.Current, e.Target, e.Action)
	}
	return fmt.Sprintf("prestation %s: action %q is not legal from status %q", e.Numero, e.Action, e.Current)
}

// ValidationError reports a missing or malformed field, surfaced before any
// store mutation is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AllocationError wraps a failure of the identifier scan or insert, carrying
// the scope so callers know which counter was involved.
type AllocationError struct {
	Scope numbering.Scope
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %s code: %v", e.Scope, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// UploadError reports one document's file upload failure. Upload errors are
// collected per document and never abort the rest of a create or edit: the
// base record has already committed when uploads run.
type UploadError struct {
	Document string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %q: %v", e.Document, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
