// HTTP-layer error codes shared by all endpoints.
//
// Codes are lowercase snake_case. Generic codes mirror the HTTP status
// semantics; domain-specific codes carry business outcomes a status alone
// cannot: a lifecycle rule refusing an action, a validation failure named
// per field, or the allocator giving up under contention. Clients branch on
// these codes, not on the message text.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeIllegalTransition = "illegal_transition"
	ErrCodeValidationFailed  = "validation_failed"
	ErrCodeAllocationFailed  = "allocation_failed"
)
