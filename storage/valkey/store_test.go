package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if VALKEY_TEST_ADDR is not set or the connection fails.
// Each test gets a unique prefix so tests can run in parallel.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		t.Skip("Skipping test: VALKEY_TEST_ADDR not set")
	}

	prefix := fmt.Sprintf("idptest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() should fail without an address")
	}
	if !strings.Contains(err.Error(), "address is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestKeyHelpers(t *testing.T) {
	s := &Store{prefix: DefaultKeyPrefix}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"client", s.clientKey("web"), "idp:client:web"},
		{"context", s.contextKey("req"), "idp:authctx:req"},
		{"code", s.codeKey("abc"), "idp:code:abc"},
		{"external state", s.externalStateKey("st"), "idp:extstate:st"},
		{"logout", s.logoutKey("lo"), "idp:logout:lo"},
		{"session", s.sessionKey("sid"), "idp:session:sid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	if err := validateID("", "request id"); err == nil {
		t.Error("empty id should be rejected")
	}
	if err := validateID(strings.Repeat("a", MaxIDLength+1), "request id"); err == nil {
		t.Error("oversized id should be rejected")
	}
	if err := validateID("ok", "request id"); err != nil {
		t.Errorf("valid id rejected: %v", err)
	}
}

func TestCalculateTTL(t *testing.T) {
	if ttl := calculateTTL(time.Now().Add(-time.Second)); ttl != 0 {
		t.Errorf("calculateTTL(past) = %v, want 0", ttl)
	}
	if ttl := calculateTTL(time.Now().Add(time.Minute)); ttl <= 0 || ttl > time.Minute {
		t.Errorf("calculateTTL(+1m) = %v", ttl)
	}
}

func TestSessionJSON_PreservesSource(t *testing.T) {
	in := &storage.Session{
		ID:        "sid",
		Subject:   "alice",
		Source:    storage.ExternalSource("corp"),
		IssuedAt:  time.Unix(1700000000, 0),
		ExpiresAt: time.Unix(1700003600, 0),
	}

	out := fromSessionJSON(toSessionJSON(in))

	scheme, ok := out.Source.ExternalScheme()
	if !ok || scheme != "corp" {
		t.Errorf("source = %v, want external:corp", out.Source)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", out.ExpiresAt, in.ExpiresAt)
	}
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestClientStore(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	for _, id := range []string{"web", "api"} {
		if err := store.SaveClient(ctx, &storage.Client{
			ClientID:          id,
			ClientSecretHash:  string(hash),
			AllowedGrantTypes: []string{storage.GrantTypeClientCredentials},
			AllowedScopes:     []string{"api1"},
		}); err != nil {
			t.Fatalf("SaveClient(%s): %v", id, err)
		}
	}

	got, err := store.GetClient(ctx, "web")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if !got.AllowsGrantType(storage.GrantTypeClientCredentials) {
		t.Error("grant types not preserved")
	}

	if _, err := store.GetClient(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient(missing) error = %v, want ErrNotFound", err)
	}

	if err := store.ValidateClientSecret(ctx, "web", "secret"); err != nil {
		t.Errorf("valid secret rejected: %v", err)
	}
	if err := store.ValidateClientSecret(ctx, "web", "wrong"); !errors.Is(err, storage.ErrInvalidClientCredentials) {
		t.Errorf("wrong secret error = %v", err)
	}
	if err := store.ValidateClientSecret(ctx, "missing", "secret"); !errors.Is(err, storage.ErrInvalidClientCredentials) {
		t.Errorf("unknown client error = %v", err)
	}

	clients, err := store.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if len(clients) != 2 || clients[0].ClientID != "api" || clients[1].ClientID != "web" {
		t.Errorf("ListClients = %v, want [api web]", clients)
	}
}

// ============================================================
// FlowStore Tests
// ============================================================

func TestAuthorizationContext_GetThenConsume(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ac := &storage.AuthorizationContext{
		RequestID:   "req-1",
		ClientID:    "web",
		RedirectURI: "https://app.example.com/callback",
		Scopes:      []string{"openid", "api1"},
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := store.SaveAuthorizationContext(ctx, ac); err != nil {
		t.Fatalf("SaveAuthorizationContext: %v", err)
	}

	got, err := store.GetAuthorizationContext(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetAuthorizationContext: %v", err)
	}
	if got.ClientID != "web" || len(got.Scopes) != 2 {
		t.Errorf("context not preserved: %+v", got)
	}

	if _, err := store.ConsumeAuthorizationContext(ctx, "req-1"); err != nil {
		t.Fatalf("ConsumeAuthorizationContext: %v", err)
	}
	if _, err := store.ConsumeAuthorizationContext(ctx, "req-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second consume error = %v, want ErrNotFound", err)
	}
}

func TestAuthorizationContext_ExpiredRejectedOnSave(t *testing.T) {
	store := testStore(t)

	err := store.SaveAuthorizationContext(context.Background(), &storage.AuthorizationContext{
		RequestID: "req-old",
		ExpiresAt: time.Now().Add(-time.Second),
	})
	if err == nil {
		t.Error("saving an expired context should fail")
	}
}

func TestAuthorizationContext_ConcurrentConsume(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveAuthorizationContext(ctx, &storage.AuthorizationContext{
		RequestID: "req-race",
		ClientID:  "web",
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizationContext: %v", err)
	}

	const workers = 10
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAuthorizationContext(ctx, "req-race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("consume winners = %d, want 1", wins.Load())
	}
}

func TestAuthorizationCode_SingleUse(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    "web",
		RedirectURI: "https://app.example.com/callback",
		Subject:     "alice",
		Source:      storage.LocalSource(),
		AuthTime:    time.Now(),
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	got, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "code-1")
	if err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if got.Subject != "alice" || !got.Source.IsLocal() {
		t.Errorf("code not preserved: %+v", got)
	}

	replayed, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "code-1")
	if !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Fatalf("replay error = %v, want ErrAuthorizationCodeUsed", err)
	}
	if replayed == nil || replayed.ClientID != "web" {
		t.Error("replay should return the original code for auditing")
	}

	if _, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown code error = %v, want ErrNotFound", err)
	}

	if err := store.DeleteAuthorizationCode(ctx, "code-1"); err != nil {
		t.Fatalf("DeleteAuthorizationCode: %v", err)
	}
	if _, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "code-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted code error = %v, want ErrNotFound", err)
	}
}

func TestAuthorizationCode_ConcurrentRedemption(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:      "code-race",
		ClientID:  "web",
		Subject:   "alice",
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	const workers = 10
	var wins, replays atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "code-race")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, storage.ErrAuthorizationCodeUsed):
				replays.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || replays.Load() != workers-1 {
		t.Errorf("wins = %d, replays = %d", wins.Load(), replays.Load())
	}
}

func TestExternalLoginState_ConsumeOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveExternalLoginState(ctx, &storage.ExternalLoginState{
		State:        "st-1",
		Scheme:       "corp",
		ReturnURL:    "/connect/authorize/callback?request_id=req",
		CodeVerifier: "verifier",
		ExpiresAt:    time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveExternalLoginState: %v", err)
	}

	st, err := store.ConsumeExternalLoginState(ctx, "st-1")
	if err != nil {
		t.Fatalf("ConsumeExternalLoginState: %v", err)
	}
	if st.Scheme != "corp" || st.CodeVerifier != "verifier" {
		t.Errorf("state not preserved: %+v", st)
	}

	if _, err := store.ConsumeExternalLoginState(ctx, "st-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second consume error = %v, want ErrNotFound", err)
	}
}

// ============================================================
// LogoutStore and SessionStore Tests
// ============================================================

func TestLogoutContext(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	lc := &storage.LogoutContext{
		LogoutID:              "lo-1",
		ClientID:              "web",
		PostLogoutRedirectURI: "https://app.example.com/signed-out",
		ExternalScheme:        "corp",
		ExpiresAt:             time.Now().Add(time.Minute),
	}
	if err := store.SaveLogoutContext(ctx, lc); err != nil {
		t.Fatalf("SaveLogoutContext: %v", err)
	}

	got, err := store.GetLogoutContext(ctx, "lo-1")
	if err != nil {
		t.Fatalf("GetLogoutContext: %v", err)
	}
	if got.ExternalScheme != "corp" || got.PostLogoutRedirectURI != lc.PostLogoutRedirectURI {
		t.Errorf("logout context not preserved: %+v", got)
	}

	if err := store.DeleteLogoutContext(ctx, "lo-1"); err != nil {
		t.Fatalf("DeleteLogoutContext: %v", err)
	}
	if _, err := store.GetLogoutContext(ctx, "lo-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted context error = %v, want ErrNotFound", err)
	}
}

func TestSession_EncryptedHint(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	store.SetEncryptor(enc)

	session := &storage.Session{
		ID:          "sid-1",
		Subject:     "corp:123",
		Source:      storage.ExternalSource("corp"),
		IDTokenHint: "upstream-id-token",
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	raw, err := store.client.Do(ctx, store.client.B().Get().Key(store.sessionKey("sid-1")).Build()).ToString()
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if strings.Contains(raw, "upstream-id-token") {
		t.Error("identity token hint stored in plaintext")
	}

	got, err := store.GetSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.IDTokenHint != "upstream-id-token" {
		t.Errorf("IDTokenHint = %q", got.IDTokenHint)
	}

	if err := store.DeleteSession(ctx, "sid-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := store.DeleteSession(ctx, "sid-1"); err != nil {
		t.Errorf("deleting an unknown session should not fail: %v", err)
	}
	if _, err := store.GetSession(ctx, "sid-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted session error = %v, want ErrNotFound", err)
	}
}
