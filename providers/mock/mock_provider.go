// Package mock provides a function-field implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/giantswarm/idp/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// Scheme is returned by Name()
	Scheme string

	// DisplayNameFunc is called when DisplayName() is invoked
	DisplayNameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state, codeVerifier, nonce string) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code, codeVerifier, nonce string) (*providers.Identity, error)

	// SupportsSignOutFunc is called when SupportsSignOut() is invoked
	SupportsSignOutFunc func() bool

	// SignOutURLFunc is called when SignOutURL() is invoked
	SignOutURLFunc func(idTokenHint, postLogoutRedirectURI, state string) (string, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	mu sync.RWMutex
}

var _ providers.Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider for scheme with default implementations.
// The defaults support sign-out and echo their parameters into the returned URLs.
func NewMockProvider(scheme string) *MockProvider {
	return &MockProvider{
		Scheme:     scheme,
		CallCounts: make(map[string]int),
		AuthorizationURLFunc: func(state, codeVerifier, nonce string) string {
			q := url.Values{"state": {state}, "nonce": {nonce}}
			return fmt.Sprintf("https://%s.example.com/authorize?%s", scheme, q.Encode())
		},
		ExchangeCodeFunc: func(_ context.Context, code, _, _ string) (*providers.Identity, error) {
			return &providers.Identity{
				Subject: "mock-user-123",
				Email:   "mock@example.com",
				Name:    "Mock User",
				IDToken: "mock-id-token-" + code,
			}, nil
		},
		SupportsSignOutFunc: func() bool { return true },
		SignOutURLFunc: func(idTokenHint, postLogoutRedirectURI, state string) (string, error) {
			q := url.Values{
				"id_token_hint":            {idTokenHint},
				"post_logout_redirect_uri": {postLogoutRedirectURI},
				"state":                    {state},
			}
			return fmt.Sprintf("https://%s.example.com/logout?%s", scheme, q.Encode()), nil
		},
	}
}

func (m *MockProvider) count(method string) {
	m.mu.Lock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
	m.mu.Unlock()
}

// Name returns the scheme name
func (m *MockProvider) Name() string {
	if m.Scheme == "" {
		return "mock"
	}
	return m.Scheme
}

// DisplayName returns the login page label
func (m *MockProvider) DisplayName() string {
	m.count("DisplayName")
	if m.DisplayNameFunc == nil {
		return "Mock " + m.Name()
	}
	return m.DisplayNameFunc()
}

// AuthorizationURL returns the sign-in URL
func (m *MockProvider) AuthorizationURL(state, codeVerifier, nonce string) string {
	m.count("AuthorizationURL")
	if m.AuthorizationURLFunc == nil {
		return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
	}
	return m.AuthorizationURLFunc(state, codeVerifier, nonce)
}

// ExchangeCode redeems a callback code
func (m *MockProvider) ExchangeCode(ctx context.Context, code, codeVerifier, nonce string) (*providers.Identity, error) {
	m.count("ExchangeCode")
	if m.ExchangeCodeFunc == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return m.ExchangeCodeFunc(ctx, code, codeVerifier, nonce)
}

// SupportsSignOut reports whether federated sign-out is available
func (m *MockProvider) SupportsSignOut() bool {
	m.count("SupportsSignOut")
	if m.SupportsSignOutFunc == nil {
		return false
	}
	return m.SupportsSignOutFunc()
}

// SignOutURL returns the provider sign-out URL
func (m *MockProvider) SignOutURL(idTokenHint, postLogoutRedirectURI, state string) (string, error) {
	m.count("SignOutURL")
	if m.SignOutURLFunc == nil {
		return "", providers.ErrSignOutNotSupported
	}
	return m.SignOutURLFunc(idTokenHint, postLogoutRedirectURI, state)
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
