package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/giantswarm/idp/storage"
)

// Browser-facing paths the core builds return URLs for. The root package
// mounts its handlers on the same paths.
const (
	AuthorizeCallbackPath = "/connect/authorize/callback"
	LoginPath             = "/account/login"
	ExternalChallengePath = "/account/external/challenge"
	ExternalCallbackPath  = "/account/external/callback"
	LogoutPath            = "/account/logout"
	LogoutCallbackPath    = "/account/logout/callback"
)

// ResolvedContext is a pending authorization request together with the client
// it came from and the login options that client permits.
type ResolvedContext struct {
	Request *storage.AuthorizationContext
	Client  *storage.Client

	// LocalLoginAllowed is the global policy AND the client's own flag.
	LocalLoginAllowed bool

	// ProviderRestrictions limits the external schemes offered. Empty means all.
	ProviderRestrictions []string
}

// IsNative reports whether the requesting client needs a loading page instead
// of a raw redirect.
func (rc *ResolvedContext) IsNative() bool {
	return rc != nil && rc.Request.NativeClient
}

// authorizeCallbackURL is the local return URL that resumes a pending request.
func authorizeCallbackURL(requestID string) string {
	return AuthorizeCallbackPath + "?" + url.Values{"request_id": {requestID}}.Encode()
}

// RequestIDFromReturnURL extracts the request id from a return URL pointing at
// the authorization callback. It returns "" for anything else.
func RequestIDFromReturnURL(returnURL string) string {
	if !IsLocalURL(returnURL) {
		return ""
	}
	parsed, err := url.Parse(returnURL)
	if err != nil || parsed.Path != AuthorizeCallbackPath {
		return ""
	}
	return parsed.Query().Get("request_id")
}

// ResolveContext reconstructs the pending authorization request behind a
// return URL. A nil result without error means the return URL is not part of
// an authorization flow: it is empty, points elsewhere, or names a request
// that has expired or whose client is gone.
func (s *Server) ResolveContext(ctx context.Context, returnURL string) (*ResolvedContext, error) {
	requestID := RequestIDFromReturnURL(returnURL)
	if requestID == "" {
		return nil, nil
	}

	ac, err := s.flows.GetAuthorizationContext(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load authorization context: %w", err)
	}
	if !s.now().Before(ac.ExpiresAt) {
		return nil, nil
	}

	client, err := s.clients.GetClient(ctx, ac.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.Logger.Warn("Authorization context references unknown client", "client_id", ac.ClientID)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	return &ResolvedContext{
		Request:              ac,
		Client:               client,
		LocalLoginAllowed:    s.Config.AllowLocalLogin && client.EnableLocalLogin,
		ProviderRestrictions: client.IdentityProviderRestrictions,
	}, nil
}
