package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationContext creates or replaces a pending authorization request.
// The key expires with the context.
func (s *Store) SaveAuthorizationContext(ctx context.Context, ac *storage.AuthorizationContext) error {
	if ac == nil {
		return fmt.Errorf("invalid authorization context")
	}
	if err := validateID(ac.RequestID, "request id"); err != nil {
		return err
	}

	if err := s.setJSON(ctx, s.contextKey(ac.RequestID), toAuthorizationContextJSON(ac), ac.ExpiresAt, "authorization context"); err != nil {
		return err
	}

	s.logger.Debug("Saved authorization context",
		"request_id_prefix", safeTruncate(ac.RequestID, idLogLength),
		"client_id", ac.ClientID)
	return nil
}

// GetAuthorizationContext reads a pending authorization request without consuming it
func (s *Store) GetAuthorizationContext(ctx context.Context, requestID string) (*storage.AuthorizationContext, error) {
	ac, err := getAndUnmarshal(ctx, s, s.contextKey(requestID), false, fromAuthorizationContextJSON)
	if err != nil {
		return nil, fmt.Errorf("authorization context: %w", err)
	}

	// TTL has second granularity
	if security.IsStrictlyExpired(ac.ExpiresAt) {
		return nil, fmt.Errorf("authorization context: %w", storage.ErrNotFound)
	}
	return ac, nil
}

// ConsumeAuthorizationContext atomically reads and deletes a pending authorization
// request with GETDEL. Of two concurrent callers exactly one receives the context.
func (s *Store) ConsumeAuthorizationContext(ctx context.Context, requestID string) (*storage.AuthorizationContext, error) {
	ac, err := getAndUnmarshal(ctx, s, s.contextKey(requestID), true, fromAuthorizationContextJSON)
	if err != nil {
		return nil, fmt.Errorf("authorization context: %w", err)
	}
	if security.IsStrictlyExpired(ac.ExpiresAt) {
		return nil, fmt.Errorf("authorization context: %w", storage.ErrNotFound)
	}

	s.logger.Debug("Consumed authorization context",
		"request_id_prefix", safeTruncate(requestID, idLogLength))
	return ac, nil
}

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("invalid authorization code")
	}
	if err := validateID(code.Code, "authorization code"); err != nil {
		return err
	}

	if err := s.setJSON(ctx, s.codeKey(code.Code), toAuthorizationCodeJSON(code), code.ExpiresAt, "authorization code"); err != nil {
		return err
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, idLogLength),
		"client_id", code.ClientID)
	return nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically checks if a code is unused and marks it as used.
// The check runs as a Lua script, so only one concurrent redemption succeeds.
// The code is returned alongside ErrAuthorizationCodeUsed on replay so the
// caller can audit the original grant.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := validateID(code, "authorization code"); err != nil {
		return nil, fmt.Errorf("authorization code: %w", storage.ErrNotFound)
	}

	now := time.Now().Add(-security.DefaultClockSkewGracePeriod).Unix()

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaAtomicCheckAndMarkCodeUsed).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(strconv.FormatInt(now, 10)).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code check: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, fmt.Errorf("authorization code: %w", storage.ErrNotFound)
	case result == "EXPIRED":
		return nil, fmt.Errorf("authorization code: %w", storage.ErrExpired)
	case strings.HasPrefix(result, "ALREADY_USED:"):
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "ALREADY_USED:")), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrAuthorizationCodeUsed)
		}
		return fromAuthorizationCodeJSON(&j), storage.ErrAuthorizationCodeUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("Marked authorization code as used",
		"code_prefix", safeTruncate(code, idLogLength))

	authCode := fromAuthorizationCodeJSON(&j)
	authCode.Used = true
	return authCode, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	return s.del(ctx, s.codeKey(code), "authorization code")
}

// SaveExternalLoginState stores the state of a redirect to an external identity provider
func (s *Store) SaveExternalLoginState(ctx context.Context, state *storage.ExternalLoginState) error {
	if state == nil {
		return fmt.Errorf("invalid external login state")
	}
	if err := validateID(state.State, "state"); err != nil {
		return err
	}

	if err := s.setJSON(ctx, s.externalStateKey(state.State), toExternalLoginStateJSON(state), state.ExpiresAt, "external login state"); err != nil {
		return err
	}

	s.logger.Debug("Saved external login state",
		"state_prefix", safeTruncate(state.State, idLogLength),
		"scheme", state.Scheme)
	return nil
}

// ConsumeExternalLoginState atomically reads and deletes an external login state
func (s *Store) ConsumeExternalLoginState(ctx context.Context, state string) (*storage.ExternalLoginState, error) {
	st, err := getAndUnmarshal(ctx, s, s.externalStateKey(state), true, fromExternalLoginStateJSON)
	if err != nil {
		return nil, fmt.Errorf("external login state: %w", err)
	}
	if security.IsStrictlyExpired(st.ExpiresAt) {
		return nil, fmt.Errorf("external login state: %w", storage.ErrNotFound)
	}
	return st, nil
}
