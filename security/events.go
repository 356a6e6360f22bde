package security

// Event type constants for security audit logging.
const (
	// Login and session events

	// EventLoginSuccess is logged when a user establishes a session
	EventLoginSuccess = "login_success"

	// EventLoginFailure is logged when a login attempt is rejected
	EventLoginFailure = "login_failure"

	// EventLogoutSuccess is logged when an authenticated session is terminated
	EventLogoutSuccess = "logout_success"

	// EventAccountLocked is logged when repeated failures lock a username
	EventAccountLocked = "account_locked"

	// EventUserRegistered is logged when a new local user is created
	EventUserRegistered = "user_registered"

	// Authorization flow events

	// EventAuthorizationDenied is logged when the user cancels a pending authorization
	EventAuthorizationDenied = "authorization_denied"

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an authorization code is replayed
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventInvalidReturnURL is logged when a login is submitted with an unsafe return URL
	EventInvalidReturnURL = "invalid_return_url"

	// EventFederatedSignOut is logged when a sign-out redirect to an external provider is issued
	EventFederatedSignOut = "federated_sign_out"

	// Token events

	// EventTokenIssued is logged when an access token is minted
	EventTokenIssued = "token_issued"

	// EventAuthFailure is logged when token endpoint authentication or a grant fails
	EventAuthFailure = "auth_failure"

	// EventTokenValidationFailed is logged when a bearer token is rejected
	EventTokenValidationFailed = "token_validation_failed" //nolint:gosec // G101: event type name

	// EventPKCEValidationFailed is logged when a PKCE verifier does not match
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
