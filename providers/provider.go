package providers

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
)

// ErrSignOutNotSupported is returned by SignOutURL when the provider has no
// sign-out endpoint.
var ErrSignOutNotSupported = errors.New("provider does not support sign-out")

// Provider is an external identity provider scheme.
type Provider interface {
	// Name returns the scheme name (e.g., "oidc", "aad")
	Name() string

	// DisplayName returns the label shown on the login page
	DisplayName() string

	// AuthorizationURL returns the URL that starts a sign-in at the provider.
	// codeVerifier is the PKCE verifier whose S256 challenge is sent; nonce is bound
	// into the upstream identity token.
	AuthorizationURL(state, codeVerifier, nonce string) string

	// ExchangeCode redeems the callback code and returns the verified identity
	ExchangeCode(ctx context.Context, code, codeVerifier, nonce string) (*Identity, error)

	// SupportsSignOut reports whether the provider accepts federated sign-out requests
	SupportsSignOut() bool

	// SignOutURL returns the provider's sign-out URL for the session identified by idTokenHint.
	SignOutURL(idTokenHint, postLogoutRedirectURI, state string) (string, error)
}

// Identity is a user identity asserted by an external provider.
type Identity struct {
	// Subject is the provider's unique user identifier
	Subject string

	// Email is the user's email address
	Email string

	// Name is the user's display name
	Name string

	// IDToken is the raw upstream identity token, kept as sign-out hint
	IDToken string
}

// DisplayNameOrSubject returns the best available display name
func (i *Identity) DisplayNameOrSubject() string {
	switch {
	case i.Name != "":
		return i.Name
	case i.Email != "":
		return i.Email
	default:
		return i.Subject
	}
}

// Registry holds the configured provider schemes. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry with the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its scheme name
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider for scheme. A nil registry has no providers.
func (r *Registry) Get(scheme string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[scheme]
	return p, ok
}

// List returns the providers sorted by scheme. When restrictions is non-empty
// only the schemes it names are returned.
func (r *Registry) List(restrictions []string) []Provider {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for name, p := range r.providers {
		if len(restrictions) > 0 && !slices.Contains(restrictions, name) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
