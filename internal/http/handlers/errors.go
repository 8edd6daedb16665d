package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, so
// values are stable once released.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// ErrCodeHandleFailed: the message pipeline returned an error.
	ErrCodeHandleFailed = "handle_failed"
	// ErrCodeStoreFailed: the credential store rejected a write.
	ErrCodeStoreFailed = "store_failed"
)
