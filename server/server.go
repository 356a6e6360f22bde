package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/providers"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
	"github.com/giantswarm/idp/token"
)

// Stores groups the storage capabilities the server consumes. A single
// backend may implement several of them.
type Stores struct {
	Clients  storage.ClientStore
	Users    storage.UserStore
	Flows    storage.FlowStore
	Logouts  storage.LogoutStore
	Sessions storage.SessionStore
}

func (st Stores) validate() error {
	switch {
	case st.Clients == nil:
		return errors.New("client store is required")
	case st.Users == nil:
		return errors.New("user store is required")
	case st.Flows == nil:
		return errors.New("flow store is required")
	case st.Logouts == nil:
		return errors.New("logout store is required")
	case st.Sessions == nil:
		return errors.New("session store is required")
	}
	return nil
}

// Server implements the identity provider's core: the client registry, the
// authorization context resolver, the login and logout state machines and the
// token issuer. It is transport agnostic; the root package adapts it to HTTP.
type Server struct {
	clients   storage.ClientStore
	users     storage.UserStore
	flows     storage.FlowStore
	logouts   storage.LogoutStore
	sessions  storage.SessionStore
	providers *providers.Registry
	issuer    *token.Issuer

	credentials *CredentialVerifier

	Lockout                  *security.LockoutTracker
	Auditor                  *security.Auditor
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Instrumentation          *instrumentation.Instrumentation
	Logger                   *slog.Logger
	Config                   *Config

	now func() time.Time
}

// New creates the identity provider core. registry may be nil when no external
// schemes are configured.
func New(stores Stores, issuer *token.Issuer, registry *providers.Registry, config *Config, logger *slog.Logger) (*Server, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if issuer == nil {
		return nil, errors.New("token issuer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = providers.NewRegistry()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		clients:   stores.Clients,
		users:     stores.Users,
		flows:     stores.Flows,
		logouts:   stores.Logouts,
		sessions:  stores.Sessions,
		providers: registry,
		issuer:    issuer,
		Config:    config,
		Logger:    logger,
		now:       time.Now,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	if config.LockoutMaxFailures > 0 {
		srv.Lockout = security.NewLockoutTracker(security.LockoutConfig{
			MaxFailures:     config.LockoutMaxFailures,
			FailureWindow:   seconds(config.LockoutWindow),
			LockoutDuration: seconds(config.LockoutDuration),
		})
	}
	srv.credentials = NewCredentialVerifier(stores.Users, srv.Lockout, logger)

	return srv, nil
}

// SetEncryptor enables encryption at rest on every store that supports it
func (s *Server) SetEncryptor(enc *security.Encryptor) {
	type encryptorSetter interface {
		SetEncryptor(*security.Encryptor)
	}
	for _, store := range []any{s.sessions, s.flows, s.logouts} {
		if setter, ok := store.(encryptorSetter); ok {
			setter.SetEncryptor(enc)
		}
	}
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents DoS attacks via log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation enables metrics and tracing
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// Providers returns the external provider registry
func (s *Server) Providers() *providers.Registry {
	return s.providers
}

// Credentials returns the credential verifier
func (s *Server) Credentials() *CredentialVerifier {
	return s.credentials
}

// CurrentSession returns the live session with the given id, or nil when the
// id is empty, unknown or past its expiry.
func (s *Server) CurrentSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Expired(s.now()) {
		return nil, nil
	}
	return session, nil
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// allowSecurityEvent applies the log flood guard to an event key
func (s *Server) allowSecurityEvent(key string) bool {
	return s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(key)
}

// generateRandomToken generates a cryptographically secure URL-safe random
// string, used for codes and upstream state.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
