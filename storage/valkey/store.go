package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "idp:"

	// idLogLength is the number of characters to include when logging opaque identifiers
	idLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for identifiers (request ids, codes, session ids)
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "idp:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the shared-state storage interfaces.
// It implements ClientStore, FlowStore, LogoutStore and SessionStore so that
// several identity provider replicas can serve the same login flows.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor protects upstream identity tokens kept in sessions.
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

var (
	_ storage.ClientStore  = (*Store)(nil)
	_ storage.FlowStore    = (*Store)(nil)
	_ storage.LogoutStore  = (*Store)(nil)
	_ storage.SessionStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the encryptor for session identity token hints.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Session encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// validateID rejects empty and oversized identifiers before they become keys
func validateID(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(value) > MaxIDLength {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, MaxIDLength)
	}
	return nil
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// contextKey returns the key for a pending authorization request: {prefix}authctx:{requestID}
func (s *Store) contextKey(requestID string) string {
	return fmt.Sprintf("%sauthctx:%s", s.prefix, requestID)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// externalStateKey returns the key for an external login state: {prefix}extstate:{state}
func (s *Store) externalStateKey(state string) string {
	return fmt.Sprintf("%sextstate:%s", s.prefix, state)
}

// logoutKey returns the key for a logout context: {prefix}logout:{logoutID}
func (s *Store) logoutKey(logoutID string) string {
	return fmt.Sprintf("%slogout:%s", s.prefix, logoutID)
}

// sessionKey returns the key for a session: {prefix}session:{sessionID}
func (s *Store) sessionKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, sessionID)
}

// ============================================================
// Lua Scripts
// ============================================================

// luaAtomicCheckAndMarkCodeUsed atomically checks that an authorization code
// is unused and marks it as used. Only one concurrent redemption succeeds.
//
// KEYS[1] = code key (e.g., "idp:code:abc123")
// ARGV[1] = current Unix timestamp in seconds, minus the clock skew grace period
//
// Returns:
//   - Original JSON data if the code was unused and is now marked used
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if ARGV[1] > code.expires_at
//   - "ALREADY_USED:<json>" on replay, so the caller can audit the original grant
const luaAtomicCheckAndMarkCodeUsed = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// ============================================================
// Helper methods
// ============================================================

// setJSON marshals v and stores it under key until expiresAt
func (s *Store) setJSON(ctx context.Context, key string, v any, expiresAt time.Time, what string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", what, err)
	}

	ttl := calculateTTL(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%s already expired", what)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save %s: %w", what, err)
	}
	return nil
}

// getAndUnmarshal fetches a key from Valkey and converts its JSON to the target type.
// With consume set the key is deleted in the same round-trip (GETDEL), so only one
// caller ever observes the value.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	consume bool,
	fromJSON func(*J) *T,
) (*T, error) {
	cmd := s.client.B().Get().Key(key).Build()
	if consume {
		cmd = s.client.B().Getdel().Key(key).Build()
	}

	data, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// del removes keys; deleting a missing key is not an error
func (s *Store) del(ctx context.Context, key, what string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	return nil
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// safeTruncate safely truncates a string to n characters
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}
