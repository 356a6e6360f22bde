package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/idp/providers"
	"github.com/giantswarm/idp/storage"
)

// ChallengeExternal starts a login through an external scheme and returns the
// provider URL to redirect to. returnURL must be local or empty.
func (s *Server) ChallengeExternal(ctx context.Context, scheme, returnURL string) (string, error) {
	if returnURL == "" {
		returnURL = s.Config.DefaultRedirect
	}
	if !IsLocalURL(returnURL) {
		return "", ErrInvalidReturnURL()
	}

	provider, ok := s.providers.Get(scheme)
	if !ok {
		return "", ErrInvalidRequest("unknown external login scheme")
	}

	rc, err := s.ResolveContext(ctx, returnURL)
	if err != nil {
		return "", err
	}
	if rc != nil && len(rc.ProviderRestrictions) > 0 && !slices.Contains(rc.ProviderRestrictions, scheme) {
		return "", ErrInvalidRequest("external login scheme is not allowed for this client")
	}

	now := s.now()
	st := &storage.ExternalLoginState{
		State:        generateRandomToken(),
		Scheme:       scheme,
		ReturnURL:    returnURL,
		CodeVerifier: oauth2.GenerateVerifier(),
		Nonce:        generateRandomToken(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(seconds(s.Config.ExternalLoginTTL)),
	}
	if err := s.flows.SaveExternalLoginState(ctx, st); err != nil {
		return "", fmt.Errorf("failed to save external login state: %w", err)
	}

	return provider.AuthorizationURL(st.State, st.CodeVerifier, st.Nonce), nil
}

// ExternalCallback is the provider's redirect back to the identity provider.
type ExternalCallback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
	ClientIP         string
	PriorSessionID   string
}

// CompleteExternalLogin finishes a login started by ChallengeExternal. The
// upstream state is consumed, so a callback can be used once.
func (s *Server) CompleteExternalLogin(ctx context.Context, cb ExternalCallback) (*LoginOutcome, error) {
	if cb.State == "" {
		return nil, ErrInvalidRequest("state is required")
	}
	st, err := s.flows.ConsumeExternalLoginState(ctx, cb.State)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return nil, ErrInvalidRequest("unknown or expired external login state")
		}
		return nil, fmt.Errorf("failed to consume external login state: %w", err)
	}

	rc, err := s.ResolveContext(ctx, st.ReturnURL)
	if err != nil {
		return nil, err
	}
	clientID := ""
	if rc != nil {
		clientID = rc.Client.ClientID
	}
	source := storage.ExternalSource(st.Scheme)

	// the user declined at the provider
	if cb.Error != "" {
		s.Logger.Info("External login was not completed",
			"scheme", st.Scheme,
			"error", cb.Error,
			"error_description", cb.ErrorDescription)
		s.Auditor.LogLoginFailure("", "external_"+cb.Error, clientID, cb.ClientIP)
		s.metrics().RecordLoginAttempt(ctx, source.String(), "external_error")
		return s.cancelLogin(ctx, rc, st.ReturnURL)
	}

	provider, ok := s.providers.Get(st.Scheme)
	if !ok {
		return nil, ErrInvalidRequest("unknown external login scheme")
	}

	identity, err := provider.ExchangeCode(ctx, cb.Code, st.CodeVerifier, st.Nonce)
	if err != nil {
		s.Logger.Warn("External code exchange failed", "scheme", st.Scheme, "error", err)
		s.Auditor.LogLoginFailure("", "external_exchange_failed", clientID, cb.ClientIP)
		s.metrics().RecordLoginAttempt(ctx, source.String(), "exchange_failed")
		return nil, ErrExternalLoginFailed(err)
	}

	user, err := s.provisionExternalUser(ctx, st.Scheme, identity)
	if err != nil {
		return nil, err
	}
	if !user.Enabled {
		s.Logger.Warn("External login for disabled user", "scheme", st.Scheme, "user_id", user.ID)
		s.Auditor.LogLoginFailure(user.Username, "user_disabled", clientID, cb.ClientIP)
		s.metrics().RecordLoginAttempt(ctx, source.String(), "user_disabled")
		return nil, ErrExternalLoginFailed(errUserDisabled)
	}

	session, err := s.createSession(ctx, user.ID, identity.DisplayNameOrSubject(), source, identity.IDToken, false)
	if err != nil {
		return nil, err
	}
	s.endPriorSession(ctx, cb.PriorSessionID, session.ID)

	s.Auditor.LogLoginSuccess(user.ID, user.Username, clientID, source.String())
	s.metrics().RecordLoginAttempt(ctx, source.String(), "success")
	s.Logger.Info("User logged in", "client_id", clientID, "source", source.String())

	return s.grantedOutcome(rc, st.ReturnURL, session), nil
}

var errUserDisabled = errors.New("linked user is disabled")

// provisionExternalUser finds or creates the local user linked to an external
// identity. Linked users are named "<scheme>:<subject>" and have no password,
// so they can never log in locally.
func (s *Server) provisionExternalUser(ctx context.Context, scheme string, identity *providers.Identity) (*storage.User, error) {
	username := scheme + ":" + identity.Subject

	user, err := s.users.FindUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = &storage.User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: identity.DisplayNameOrSubject(),
		Enabled:     true,
		CreatedAt:   s.now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			// lost a race with a concurrent first login
			return s.users.FindUserByUsername(ctx, username)
		}
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}
	s.Logger.Info("Provisioned user for external identity", "scheme", scheme, "user_id", user.ID)
	return user, nil
}
