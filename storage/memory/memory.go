package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/internal/util"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

const (
	// codeLogLength is the number of characters of a code or id included in logs
	codeLogLength = 8

	// dummyHash is a bcrypt hash compared against when a client or user does not
	// exist, so lookups of unknown identities take as long as known ones.
	dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients  map[string]*storage.Client
	users    map[string]*storage.User // user id -> user
	profiles map[string]*storage.Profile

	authContexts   map[string]*storage.AuthorizationContext
	authCodes      map[string]*storage.AuthorizationCode
	externalStates map[string]*storage.ExternalLoginState
	logoutContexts map[string]*storage.LogoutContext
	sessions       map[string]*storage.Session

	encryptor *security.Encryptor

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var (
	_ storage.ClientStore  = (*Store)(nil)
	_ storage.UserStore    = (*Store)(nil)
	_ storage.FlowStore    = (*Store)(nil)
	_ storage.LogoutStore  = (*Store)(nil)
	_ storage.SessionStore = (*Store)(nil)
	_ storage.ProfileStore = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		profiles:        make(map[string]*storage.Profile),
		authContexts:    make(map[string]*storage.AuthorizationContext),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		externalStates:  make(map[string]*storage.ExternalLoginState),
		logoutContexts:  make(map[string]*storage.LogoutContext),
		sessions:        make(map[string]*storage.Session),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables encryption at rest of session identity token hints
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
}

// SetInstrumentation enables tracing and metrics of storage operations and
// registers the storage size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.tracer = inst.Tracer("storage")
	s.mu.Unlock()

	if err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.count(func() int { return len(s.sessions) }) },
		func() int64 {
			return s.count(func() int { return len(s.authContexts) + len(s.logoutContexts) + len(s.externalStates) })
		},
	); err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) count(fn func() int) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(fn())
}

// Stop stops the background cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, start) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("client %q: %w", clientID, storage.ErrNotFound)
	}
	return client, nil
}

// ValidateClientSecret validates a client's secret in constant time
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if err == nil && client.ClientSecretHash != "" {
		hashToCompare = client.ClientSecretHash
	}

	// always compare so unknown clients cost the same as known ones
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil || client.ClientSecretHash == "" || bcryptErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ListClients lists all registered clients ordered by client id
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b *storage.Client) int { return strings.Compare(a.ClientID, b.ClientID) })
	return clients, nil
}

// ============================================================
// UserStore
// ============================================================

// CreateUser stores a new user
func (s *Store) CreateUser(ctx context.Context, user *storage.User) (err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "create_user")
	defer func() { s.recordStorageOperation(ctx, span, "create_user", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, user.Username) {
			return fmt.Errorf("username %q: %w", user.Username, storage.ErrUserExists)
		}
	}
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user id %q: %w", user.ID, storage.ErrUserExists)
	}
	s.users[user.ID] = user
	return nil
}

// FindUserByUsername returns the user with the given username (case-insensitive)
func (s *Store) FindUserByUsername(ctx context.Context, username string) (user *storage.User, err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "find_user")
	defer func() { s.recordStorageOperation(ctx, span, "find_user", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user: %w", storage.ErrNotFound)
}

// GetUser retrieves a user by subject id
func (s *Store) GetUser(_ context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user: %w", storage.ErrNotFound)
	}
	return u, nil
}

// ============================================================
// FlowStore
// ============================================================

// SaveAuthorizationContext creates or replaces a pending authorization request
func (s *Store) SaveAuthorizationContext(ctx context.Context, ac *storage.AuthorizationContext) (err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "save_authorization_context")
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_context", err, start) }()

	if ac == nil || ac.RequestID == "" {
		return fmt.Errorf("request id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.authContexts[ac.RequestID] = ac
	return nil
}

// GetAuthorizationContext reads a pending authorization request without consuming it
func (s *Store) GetAuthorizationContext(ctx context.Context, requestID string) (ac *storage.AuthorizationContext, err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_authorization_context")
	defer func() { s.recordStorageOperation(ctx, span, "get_authorization_context", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ac, ok := s.authContexts[requestID]
	if !ok || security.IsStrictlyExpired(ac.ExpiresAt) {
		return nil, fmt.Errorf("authorization context: %w", storage.ErrNotFound)
	}
	copied := *ac
	return &copied, nil
}

// ConsumeAuthorizationContext atomically reads and deletes a pending authorization request
func (s *Store) ConsumeAuthorizationContext(ctx context.Context, requestID string) (ac *storage.AuthorizationContext, err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_context")
	defer func() { s.recordStorageOperation(ctx, span, "consume_authorization_context", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.authContexts[requestID]
	if !ok {
		return nil, fmt.Errorf("authorization context: %w", storage.ErrNotFound)
	}
	delete(s.authContexts, requestID)

	if security.IsStrictlyExpired(ac.ExpiresAt) {
		return nil, fmt.Errorf("authorization context: %w", storage.ErrNotFound)
	}
	return ac, nil
}

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_code", err, start) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code.Code] = code
	return nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically checks that a code is unused and marks it as used
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (ac *storage.AuthorizationCode, err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "mark_authorization_code_used")
	defer func() { s.recordStorageOperation(ctx, span, "mark_authorization_code_used", err, start) }()

	s.mu.Lock() // write lock: check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}

	if security.IsExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("authorization code: %w", storage.ErrExpired)
	}

	if authCode.Used {
		// returned so the caller can audit the client and subject of the replay
		return authCode, storage.ErrAuthorizationCodeUsed
	}

	authCode.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	copied := *authCode
	return &copied, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authCodes, code)
	return nil
}

// SaveExternalLoginState stores the state of a redirect to an external identity provider
func (s *Store) SaveExternalLoginState(_ context.Context, state *storage.ExternalLoginState) error {
	if state == nil || state.State == "" {
		return fmt.Errorf("state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.externalStates[state.State] = state
	return nil
}

// ConsumeExternalLoginState atomically reads and deletes an external login state
func (s *Store) ConsumeExternalLoginState(ctx context.Context, state string) (st *storage.ExternalLoginState, err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "consume_external_login_state")
	defer func() { s.recordStorageOperation(ctx, span, "consume_external_login_state", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.externalStates[state]
	if !ok {
		return nil, fmt.Errorf("external login state: %w", storage.ErrNotFound)
	}
	delete(s.externalStates, state)

	if security.IsStrictlyExpired(st.ExpiresAt) {
		return nil, fmt.Errorf("external login state: %w", storage.ErrNotFound)
	}
	return st, nil
}

// ============================================================
// LogoutStore
// ============================================================

// SaveLogoutContext creates or replaces a logout context
func (s *Store) SaveLogoutContext(_ context.Context, lc *storage.LogoutContext) error {
	if lc == nil || lc.LogoutID == "" {
		return fmt.Errorf("logout id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *lc
	s.logoutContexts[lc.LogoutID] = &copied
	return nil
}

// GetLogoutContext retrieves a logout context by logout id
func (s *Store) GetLogoutContext(_ context.Context, logoutID string) (*storage.LogoutContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lc, ok := s.logoutContexts[logoutID]
	if !ok || security.IsStrictlyExpired(lc.ExpiresAt) {
		return nil, fmt.Errorf("logout context: %w", storage.ErrNotFound)
	}
	copied := *lc
	return &copied, nil
}

// DeleteLogoutContext removes a logout context
func (s *Store) DeleteLogoutContext(_ context.Context, logoutID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logoutContexts, logoutID)
	return nil
}

// ============================================================
// SessionStore
// ============================================================

// CreateSession stores a new session; the identity token hint is encrypted when an encryptor is set
func (s *Store) CreateSession(ctx context.Context, session *storage.Session) (err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "create_session")
	defer func() { s.recordStorageOperation(ctx, span, "create_session", err, start) }()

	if session == nil || session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	if stored.IDTokenHint, err = s.encryptor.Encrypt(session.IDTokenHint); err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}
	s.sessions[session.ID] = &stored
	return nil
}

// GetSession returns the session, or ErrNotFound if it is unknown or expired
func (s *Store) GetSession(ctx context.Context, sessionID string) (session *storage.Session, err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_session")
	defer func() { s.recordStorageOperation(ctx, span, "get_session", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[sessionID]
	if !ok || stored.Expired(time.Now()) {
		return nil, fmt.Errorf("session: %w", storage.ErrNotFound)
	}

	out := *stored
	if out.IDTokenHint, err = s.encryptor.Decrypt(stored.IDTokenHint); err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	return &out, nil
}

// DeleteSession destroys a session
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (err error) {
	start := time.Now()
	ctx, span := s.startStorageSpan(ctx, "delete_session")
	defer func() { s.recordStorageOperation(ctx, span, "delete_session", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// ============================================================
// ProfileStore
// ============================================================

// ListProfiles returns all profile records ordered by user name
func (s *Store) ListProfiles(_ context.Context) ([]*storage.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *storage.Profile) int { return strings.Compare(a.UserName, b.UserName) })
	return out, nil
}

// SaveProfile creates or replaces a profile record
func (s *Store) SaveProfile(_ context.Context, profile *storage.Profile) error {
	if profile == nil || profile.ID == "" {
		return fmt.Errorf("profile id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile
	return nil
}

// ============================================================
// Cleanup and instrumentation
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ac := range s.authContexts {
		if now.After(ac.ExpiresAt) {
			delete(s.authContexts, id)
			removed++
		}
	}
	for code, ac := range s.authCodes {
		if security.IsExpired(ac.ExpiresAt) {
			delete(s.authCodes, code)
			removed++
		}
	}
	for state, st := range s.externalStates {
		if now.After(st.ExpiresAt) {
			delete(s.externalStates, state)
			removed++
		}
	}
	for id, lc := range s.logoutContexts {
		if now.After(lc.ExpiresAt) {
			delete(s.logoutContexts, id)
			removed++
		}
	}
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Cleaned up expired records", "count", removed)
	}
}

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}
	defer span.End()

	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(startTime).Milliseconds()))
}
