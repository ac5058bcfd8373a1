package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code, so that
// errors built with NewDomainError match the sentinels below via errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound     = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// Reconciliation error taxonomy. None of these is fatal to the application.
var (
	// ErrInvalidCredential means the stored credential is stale, expired or
	// rejected by the backend. Recovered by clearing it and falling back to
	// guest mode.
	ErrInvalidCredential = NewDomainError("INVALID_CREDENTIAL", "Credential is invalid or expired")
	// ErrNetworkFailure means a gateway call did not complete. Recovered by
	// retrying on the next trigger.
	ErrNetworkFailure = NewDomainError("NETWORK_FAILURE", "Backend call did not complete")
	// ErrMergeConflict means the backend rejected a merge. The guest cart is
	// preserved untouched.
	ErrMergeConflict = NewDomainError("MERGE_CONFLICT", "Backend rejected the cart merge")
)
