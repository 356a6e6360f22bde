package idp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/idp/server"
)

// Error codes the HTTP layer adds to the ones defined by the server package
const (
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeServerError       = server.ErrorCodeServerError
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// statusByCode maps RFC 6749 error codes to HTTP status codes (section 5.2)
var statusByCode = map[string]int{
	server.ErrorCodeInvalidRequest:          http.StatusBadRequest,
	server.ErrorCodeInvalidClient:           http.StatusUnauthorized,
	server.ErrorCodeInvalidGrant:            http.StatusBadRequest,
	server.ErrorCodeInvalidScope:            http.StatusBadRequest,
	server.ErrorCodeUnauthorizedClient:      http.StatusBadRequest,
	server.ErrorCodeUnsupportedGrantType:    http.StatusBadRequest,
	server.ErrorCodeUnsupportedResponseType: http.StatusBadRequest,
	server.ErrorCodeAccessDenied:            http.StatusForbidden,
	ErrorCodeRateLimitExceeded:              http.StatusTooManyRequests,
}

// toOAuthError converts a server error to its wire form. Errors the server
// did not classify are internal: they become server_error without detail.
func toOAuthError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}

	var se *server.Error
	if !errors.As(err, &se) {
		return NewOAuthError(ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
	}

	status, ok := statusByCode[se.Code]
	if !ok {
		status = http.StatusBadRequest
	}
	return NewOAuthError(se.Code, se.Description, status)
}
