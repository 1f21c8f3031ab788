package handlers

// Stable error codes of the rates API. Clients branch on these, not on
// messages.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"

	// Rule mutations:
	ErrCodeValidation      = "validation_failed"
	ErrCodeDerivationCycle = "derivation_cycle"
	ErrCodeDispatchFailed  = "dispatch_failed"
)
