package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

// maxPasswordBytes is bcrypt's input limit
const maxPasswordBytes = 72

// dummyPasswordHash is compared against when the user does not exist so both
// paths cost one bcrypt comparison.
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)

// VerifiedUser is the result of a successful credential check.
type VerifiedUser struct {
	UserID      string
	Username    string
	DisplayName string
}

// CredentialVerifier checks a username/password pair against the user store.
// It keeps no state of its own; the lockout tracker is only consulted.
type CredentialVerifier struct {
	users   storage.UserStore
	lockout *security.LockoutTracker
	logger  *slog.Logger
}

// NewCredentialVerifier creates a verifier. lockout may be nil.
func NewCredentialVerifier(users storage.UserStore, lockout *security.LockoutTracker, logger *slog.Logger) *CredentialVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialVerifier{users: users, lockout: lockout, logger: logger}
}

// Verify checks the credentials. It returns ErrAccountLocked before any hashing
// when the username is locked, and ErrInvalidCredentials for an unknown or
// disabled user or a wrong password.
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (*VerifiedUser, error) {
	if v.lockout != nil && v.lockout.IsLocked(username) {
		return nil, ErrAccountLocked
	}

	user, err := v.users.FindUserByUsername(ctx, username)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !user.Enabled || user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
		v.logger.Debug("Credential check rejected", "reason", "user_disabled_or_external")
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &VerifiedUser{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	}, nil
}

// recordCredentialFailure counts a failed attempt and audits a resulting lockout.
func (s *Server) recordCredentialFailure(ctx context.Context, username, clientIP string) {
	if s.Lockout == nil || username == "" {
		return
	}
	if until := s.Lockout.RecordFailure(username); !until.IsZero() {
		s.Logger.Warn("Account locked after repeated login failures",
			"until", until.Format(time.RFC3339))
		s.Auditor.LogAccountLocked(username, clientIP, until)
		s.metrics().RecordAccountLockout(ctx)
	}
}

func (s *Server) resetCredentialFailures(username string) {
	if s.Lockout != nil {
		s.Lockout.Reset(username)
	}
}

// RegisterUser creates a local user. Registration must be enabled.
func (s *Server) RegisterUser(ctx context.Context, username, password, displayName string) (*storage.User, error) {
	if !s.Config.AllowRegistration {
		return nil, ErrRegistrationDisabled()
	}
	return s.CreateLocalUser(ctx, username, password, displayName)
}

// CreateLocalUser creates a local user regardless of the registration policy.
// Used by operators (the "user add" command) and by RegisterUser.
func (s *Server) CreateLocalUser(ctx context.Context, username, password, displayName string) (*storage.User, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return nil, ErrInvalidRequest("username is required")
	case strings.Contains(username, ":"):
		return nil, ErrInvalidRequest("username must not contain ':'")
	case len(password) < 6:
		return nil, ErrInvalidRequest("password must be at least 6 characters")
	case len(password) > maxPasswordBytes:
		return nil, ErrInvalidRequest("password must be at most 72 bytes")
	}
	if displayName == "" {
		displayName = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &storage.User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Enabled:      true,
		CreatedAt:    s.now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return nil, ErrInvalidRequest("username is already taken")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:   security.EventUserRegistered,
		UserID: user.ID,
	})
	s.Logger.Info("Created local user", "user_id", user.ID)

	return user, nil
}
