package server

import (
	"errors"
	"fmt"
)

// OAuth 2.0 error codes from RFC 6749.
// The root package maps them to HTTP responses; keep in sync with errors.go there.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeLoginRequired           = "login_required"
	ErrorCodeServerError             = "server_error"
)

// ErrorKind classifies failures by how they must be surfaced.
type ErrorKind int

const (
	// KindInputValidation is a malformed or unsafe request. It is rejected
	// immediately and never followed.
	KindInputValidation ErrorKind = iota + 1

	// KindAuthenticationFailure is a bad credential. The login form is redisplayed.
	KindAuthenticationFailure

	// KindAuthorizationDenial is a user declining a pending authorization. It is
	// propagated to the client as access_denied.
	KindAuthorizationDenial

	// KindGrant is a token endpoint failure, surfaced as an OAuth error code.
	KindGrant

	// KindTokenValidation is a rejected bearer token, surfaced as a uniform unauthorized.
	KindTokenValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindInputValidation:
		return "input_validation"
	case KindAuthenticationFailure:
		return "authentication_failure"
	case KindAuthorizationDenial:
		return "authorization_denial"
	case KindGrant:
		return "grant_error"
	case KindTokenValidation:
		return "token_validation_failure"
	default:
		return "unknown"
	}
}

// Error is a classified failure carrying the OAuth error code the caller sees.
// Description is safe to return to clients; Err is for logs only.
type Error struct {
	Kind        ErrorKind
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind, code and description, so the
// package-level sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code && e.Description == t.Description
}

// KindOf returns the kind of err, or 0 if err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the OAuth error code of err, or server_error if err is not classified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorCodeServerError
}

func newError(kind ErrorKind, code, description string, err error) *Error {
	return &Error{Kind: kind, Code: code, Description: description, Err: err}
}

// ErrInvalidRequest is a malformed request.
func ErrInvalidRequest(description string) *Error {
	return newError(KindInputValidation, ErrorCodeInvalidRequest, description, nil)
}

// ErrInvalidReturnURL rejects a return URL that is neither local nor bound to
// a pending authorization.
func ErrInvalidReturnURL() *Error {
	return newError(KindInputValidation, ErrorCodeInvalidRequest, "invalid return URL", nil)
}

// ErrInvalidClient is an unknown client or a failed client authentication.
func ErrInvalidClient() *Error {
	return newError(KindGrant, ErrorCodeInvalidClient, "client authentication failed", nil)
}

// ErrUnauthorizedClient is a client using a grant or flow it is not registered for.
func ErrUnauthorizedClient(description string) *Error {
	return newError(KindGrant, ErrorCodeUnauthorizedClient, description, nil)
}

// ErrInvalidScope is a scope outside the client's allowed set.
func ErrInvalidScope(description string) *Error {
	return newError(KindGrant, ErrorCodeInvalidScope, description, nil)
}

// ErrInvalidGrant is a bad resource owner credential, or an unknown, expired,
// replayed or mismatched authorization code. The description never says which.
func ErrInvalidGrant(err error) *Error {
	return newError(KindGrant, ErrorCodeInvalidGrant, "invalid grant", err)
}

// ErrUnsupportedGrantType is a grant_type this server does not implement.
func ErrUnsupportedGrantType(grantType string) *Error {
	return newError(KindGrant, ErrorCodeUnsupportedGrantType, fmt.Sprintf("grant type %q is not supported", grantType), nil)
}

// ErrAccessDenied is a declined authorization.
func ErrAccessDenied() *Error {
	return newError(KindAuthorizationDenial, ErrorCodeAccessDenied, "the user denied the request", nil)
}

// Authentication failures. They share a code so the login form and the token
// endpoint cannot be used to tell them apart.
var (
	// ErrInvalidCredentials is an unknown user, a disabled user or a wrong password.
	ErrInvalidCredentials = newError(KindAuthenticationFailure, ErrorCodeInvalidGrant, "invalid username or password", nil)

	// ErrAccountLocked is a username locked out after repeated failures.
	ErrAccountLocked = newError(KindAuthenticationFailure, ErrorCodeInvalidGrant, "account temporarily locked", nil)
)

// ErrLocalLoginDisabled rejects a credential submission when local login is not allowed.
func ErrLocalLoginDisabled() *Error {
	return newError(KindInputValidation, ErrorCodeInvalidRequest, "local login is disabled", nil)
}

// ErrRegistrationDisabled rejects self-service registration when it is turned off.
func ErrRegistrationDisabled() *Error {
	return newError(KindInputValidation, ErrorCodeInvalidRequest, "registration is disabled", nil)
}

// ErrExternalLoginFailed is an external provider callback that could not be
// turned into a verified identity.
func ErrExternalLoginFailed(err error) *Error {
	return newError(KindAuthenticationFailure, ErrorCodeAccessDenied, "external login failed", err)
}
