package idp

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// RegisterResponse is the body returned after a successful self-service registration
type RegisterResponse struct {
	// ID is the new user's subject identifier
	ID string `json:"id"`

	// Username is the normalized login name
	Username string `json:"username"`

	// DisplayName is the name shown in tokens and the UI
	DisplayName string `json:"display_name,omitempty"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
}
