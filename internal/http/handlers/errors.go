// This file is the error code taxonomy clients branch on. The first group
// mirrors plain HTTP semantics; the second carries payment outcomes that a
// status code alone cannot express. A 422 tells a client nothing about
// whether to retry, "amount_mismatch" tells it the transfer paid the wrong
// amount and retrying the same confirmation will never succeed. Codes are
// part of the API contract: renaming one breaks clients, so add rather
// than rename.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Payment-flow specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeConfirmFailed    = "confirm_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMismatch         = "amount_mismatch"
	ErrCodeStillPending     = "still_pending"
	ErrCodeUnavailable      = "service_unavailable"
	ErrCodeInvalidNonce     = "invalid_nonce"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
