package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist or has expired.
	ErrNotFound = errors.New("not found")

	// ErrAuthorizationCodeUsed is returned when an authorization code is presented a second time.
	ErrAuthorizationCodeUsed = errors.New("authorization code already used")

	// ErrExpired is returned when a record exists but is past its expiry.
	ErrExpired = errors.New("expired")

	// ErrUserExists is returned when creating a user whose username is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidClientCredentials is returned when a client secret does not verify.
	ErrInvalidClientCredentials = errors.New("invalid client credentials")
)

// ClientStore manages the registered OAuth client catalog.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret in constant time,
	// regardless of whether the client exists.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients
	ListClients(ctx context.Context) ([]*Client, error)
}

// UserStore is the persistent user store consumed by the credential verifier
// and the registration endpoint.
type UserStore interface {
	// CreateUser stores a new user. Returns ErrUserExists if the username is taken.
	CreateUser(ctx context.Context, user *User) error

	// FindUserByUsername returns the single user with the given username, or ErrNotFound.
	FindUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUser retrieves a user by subject id.
	GetUser(ctx context.Context, userID string) (*User, error)
}

// FlowStore holds the ephemeral records shared between the requests that
// start and later resume an authorization flow.
//
// Consume* methods are atomic get-and-delete: when two requests race to resume
// the same record, exactly one receives it and the other gets ErrNotFound.
type FlowStore interface {
	// SaveAuthorizationContext creates or replaces a pending authorization request.
	SaveAuthorizationContext(ctx context.Context, ac *AuthorizationContext) error

	// GetAuthorizationContext reads a pending authorization request without consuming it.
	GetAuthorizationContext(ctx context.Context, requestID string) (*AuthorizationContext, error)

	// ConsumeAuthorizationContext atomically reads and deletes a pending authorization request.
	ConsumeAuthorizationContext(ctx context.Context, requestID string) (*AuthorizationContext, error)

	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// AtomicCheckAndMarkAuthCodeUsed atomically checks that a code is unused and marks it as used.
	// Returns ErrNotFound for unknown codes, ErrExpired for expired ones, and
	// ErrAuthorizationCodeUsed (together with the code) on replay.
	AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error

	// SaveExternalLoginState stores the state of a redirect to an external identity provider.
	SaveExternalLoginState(ctx context.Context, state *ExternalLoginState) error

	// ConsumeExternalLoginState atomically reads and deletes an external login state.
	ConsumeExternalLoginState(ctx context.Context, state string) (*ExternalLoginState, error)
}

// LogoutStore holds logout contexts that must survive a redirect round-trip.
type LogoutStore interface {
	// SaveLogoutContext creates or replaces a logout context
	SaveLogoutContext(ctx context.Context, lc *LogoutContext) error

	// GetLogoutContext retrieves a logout context by logout id
	GetLogoutContext(ctx context.Context, logoutID string) (*LogoutContext, error)

	// DeleteLogoutContext removes a logout context
	DeleteLogoutContext(ctx context.Context, logoutID string) error
}

// SessionStore is the explicit create/read/destroy capability for
// authenticated browser sessions.
type SessionStore interface {
	// CreateSession stores a new session
	CreateSession(ctx context.Context, session *Session) error

	// GetSession returns the session, or ErrNotFound if it is unknown or past its expiry.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// DeleteSession destroys a session. Deleting an unknown session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
}

// ProfileStore is the resource server's data-access capability for user profile records.
type ProfileStore interface {
	// ListProfiles returns all profile records
	ListProfiles(ctx context.Context) ([]*Profile, error)

	// SaveProfile creates or replaces a profile record
	SaveProfile(ctx context.Context, profile *Profile) error
}
