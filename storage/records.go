package storage

import (
	"slices"
	"time"
)

// Grant types a client may be allowed to use.
const (
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeAuthorizationCode = "authorization_code"
)

// Client represents a registered OAuth client. Clients are immutable after registration.
type Client struct {
	ClientID                     string
	ClientSecretHash             string // bcrypt hash
	ClientName                   string
	AllowedGrantTypes            []string
	AllowedScopes                []string
	RedirectURIs                 []string
	PostLogoutRedirectURIs       []string
	FrontChannelLogoutURI        string
	RequirePKCE                  bool
	AllowPlainTextPKCE           bool
	AllowOfflineAccess           bool
	EnableLocalLogin             bool
	IdentityProviderRestrictions []string
	CreatedAt                    time.Time
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.AllowedGrantTypes, grantType)
}

// AllowsScopes reports whether every scope is in the client's allowed set.
// offline_access is permitted only for clients allowing offline access.
func (c *Client) AllowsScopes(scopes []string) bool {
	for _, s := range scopes {
		if s == "offline_access" {
			if !c.AllowOfflineAccess {
				return false
			}
			continue
		}
		if !slices.Contains(c.AllowedScopes, s) {
			return false
		}
	}
	return true
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// HasPostLogoutRedirectURI reports whether uri exactly matches a registered post-logout redirect URI.
func (c *Client) HasPostLogoutRedirectURI(uri string) bool {
	return slices.Contains(c.PostLogoutRedirectURIs, uri)
}

// DisplayName returns the client name, falling back to the client id.
func (c *Client) DisplayName() string {
	if c.ClientName != "" {
		return c.ClientName
	}
	return c.ClientID
}

// User is a record of the persistent user store.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string // bcrypt hash
	Enabled      bool
	CreatedAt    time.Time
}

// AuthorizationContext is a pending authorization request, keyed by an opaque
// request id embedded in the login return URL.
type AuthorizationContext struct {
	RequestID           string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	LoginHint           string
	IdP                 string // requested external scheme, empty when none
	PromptLogin         bool
	NativeClient        bool
	Denial              string // OAuth error code recorded when the user declined
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AuthorizationCode represents an issued, single-use authorization code.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
	Source              AuthenticationSource
	AuthTime            time.Time
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// ExternalLoginState tracks a redirect to an external identity provider.
type ExternalLoginState struct {
	State        string
	Scheme       string
	ReturnURL    string
	CodeVerifier string
	Nonce        string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// LogoutContext preserves logout state across a redirect, keyed by logout id.
type LogoutContext struct {
	LogoutID              string
	ClientID              string
	ClientName            string
	SubjectID             string
	PostLogoutRedirectURI string
	State                 string
	ShowSignoutPrompt     bool
	SignOutIframeURL      string
	ExternalScheme        string // set when a federated sign-out was triggered
	CreatedAt             time.Time
	ExpiresAt             time.Time
}

// Session is an authenticated browser session.
type Session struct {
	ID          string
	Subject     string
	DisplayName string
	Source      AuthenticationSource
	// IDTokenHint is the upstream identity token kept for federated sign-out.
	IDTokenHint string
	// Persistent is true when the user opted in to "remember me".
	Persistent bool
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session is past its declared expiry.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Profile is a resource-server user profile record.
type Profile struct {
	ID       string `json:"-"`
	UserName string `json:"userName"`
	Address  string `json:"address"`
	Contact  string `json:"contact"`
}
