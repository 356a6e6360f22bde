package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

// ============================================================
// LogoutStore Implementation
// ============================================================

// SaveLogoutContext creates or replaces a logout context
func (s *Store) SaveLogoutContext(ctx context.Context, lc *storage.LogoutContext) error {
	if lc == nil {
		return fmt.Errorf("invalid logout context")
	}
	if err := validateID(lc.LogoutID, "logout id"); err != nil {
		return err
	}

	return s.setJSON(ctx, s.logoutKey(lc.LogoutID), toLogoutContextJSON(lc), lc.ExpiresAt, "logout context")
}

// GetLogoutContext retrieves a logout context by logout id
func (s *Store) GetLogoutContext(ctx context.Context, logoutID string) (*storage.LogoutContext, error) {
	lc, err := getAndUnmarshal(ctx, s, s.logoutKey(logoutID), false, fromLogoutContextJSON)
	if err != nil {
		return nil, fmt.Errorf("logout context: %w", err)
	}
	if security.IsStrictlyExpired(lc.ExpiresAt) {
		return nil, fmt.Errorf("logout context: %w", storage.ErrNotFound)
	}
	return lc, nil
}

// DeleteLogoutContext removes a logout context
func (s *Store) DeleteLogoutContext(ctx context.Context, logoutID string) error {
	return s.del(ctx, s.logoutKey(logoutID), "logout context")
}

// ============================================================
// SessionStore Implementation
// ============================================================

// CreateSession stores a new session; the identity token hint is encrypted when an encryptor is set
func (s *Store) CreateSession(ctx context.Context, session *storage.Session) error {
	if session == nil {
		return fmt.Errorf("invalid session")
	}
	if err := validateID(session.ID, "session id"); err != nil {
		return err
	}

	j := toSessionJSON(session)
	hint, err := s.getEncryptor().Encrypt(session.IDTokenHint)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}
	j.IDTokenHint = hint

	if err := s.setJSON(ctx, s.sessionKey(session.ID), j, session.ExpiresAt, "session"); err != nil {
		return err
	}

	s.logger.Debug("Created session",
		"session_prefix", safeTruncate(session.ID, idLogLength),
		"source", session.Source.String(),
		"persistent", session.Persistent)
	return nil
}

// GetSession returns the session, or ErrNotFound if it is unknown or expired
func (s *Store) GetSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	session, err := getAndUnmarshal(ctx, s, s.sessionKey(sessionID), false, fromSessionJSON)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if session.Expired(time.Now()) {
		return nil, fmt.Errorf("session: %w", storage.ErrNotFound)
	}

	if session.IDTokenHint, err = s.getEncryptor().Decrypt(session.IDTokenHint); err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	return session, nil
}

// DeleteSession destroys a session. Deleting an unknown session is not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.del(ctx, s.sessionKey(sessionID), "session")
}
