package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/storefront/cartsync/internal/domain/shared"
)

// APIError is a non-success HTTP response. It wraps the domain error the
// status maps to, so callers match it with errors.Is.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Unwrap returns the mapped domain error
func (e *APIError) Unwrap() error {
	return e.kind
}

// errorBody accepts {"error":{"code","message"}} and {"code","message"}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAPIError(resp *Response, kind error) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, kind: kind}
	var body errorBody
	if json.Unmarshal(resp.Body, &body) == nil {
		apiErr.Code, apiErr.Message = body.Code, body.Message
		if body.Error != nil {
			apiErr.Code, apiErr.Message = body.Error.Code, body.Error.Message
		}
	}
	return apiErr
}

// classifyStatus maps a non-2xx response of a read endpoint
func classifyStatus(resp *Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return newAPIError(resp, shared.ErrInvalidCredential)
	default:
		return newAPIError(resp, shared.ErrNetworkFailure)
	}
}

// classifyMergeStatus maps a non-2xx response of the merge endpoint
func classifyMergeStatus(resp *Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return newAPIError(resp, shared.ErrInvalidCredential)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return newAPIError(resp, shared.ErrMergeConflict)
	default:
		return newAPIError(resp, shared.ErrNetworkFailure)
	}
}

// transportError wraps a failed round trip. Domain errors from the token
// source pass through unchanged.
func transportError(op string, err error) error {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, shared.ErrNetworkFailure, err)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
