package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/idp/internal/testutil"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
	"github.com/giantswarm/idp/storage/memory"
	"github.com/giantswarm/idp/token"
)

const testIssuer = "https://idp.example.com"

type apiEnv struct {
	mux    *http.ServeMux
	issuer *token.Issuer
	logs   *testutil.LogCapture
}

func newAPIEnv(t *testing.T, requiredScopes ...string) *apiEnv {
	t.Helper()

	km, err := token.NewKeyManager(testutil.GenerateRSAKey(t))
	require.NoError(t, err)

	issuer, err := token.NewIssuer(token.IssuerConfig{
		Issuer:         testIssuer,
		Audience:       "api1",
		AccessTokenTTL: time.Hour,
	}, km)
	require.NoError(t, err)

	logs, logger := testutil.NewLogCapture()
	verifier, err := token.NewVerifier(token.VerifierConfig{
		Issuer:           testIssuer,
		Audience:         "api1",
		ValidateAudience: true,
	}, logger, km.PublicKey())
	require.NoError(t, err)

	store := memory.New()
	t.Cleanup(store.Stop)
	require.NoError(t, store.SaveProfile(context.Background(), &storage.Profile{
		ID: "1", UserName: "alice", Address: "1 Main St", Contact: "alice@example.com",
	}))

	guard := NewGuard(verifier, GuardConfig{
		RequiredScopes: requiredScopes,
		ServerURL:      testIssuer,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	NewHandler(store, guard, logger).RegisterRoutes(mux)
	return &apiEnv{mux: mux, issuer: issuer, logs: logs}
}

func (e *apiEnv) mint(t *testing.T, p token.AccessTokenParams) string {
	t.Helper()
	raw, _, err := e.issuer.MintAccessToken(p)
	require.NoError(t, err)
	return raw
}

func (e *apiEnv) get(path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestUsers_ValidToken(t *testing.T) {
	env := newAPIEnv(t)
	tok := env.mint(t, token.AccessTokenParams{ClientID: "client", Scopes: []string{"api1"}})

	for _, path := range []string{UsersPath, UserAliasPath} {
		t.Run(path, func(t *testing.T) {
			rec := env.get(path, "Bearer "+tok)
			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				Data []map[string]string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Len(t, body.Data, 1)
			assert.Equal(t, "alice", body.Data[0]["userName"])
			assert.Equal(t, "1 Main St", body.Data[0]["address"])
			assert.Equal(t, "alice@example.com", body.Data[0]["contact"])
			assert.NotContains(t, body.Data[0], "ID")
		})
	}
}

func TestUsers_AliasRequiresBearer(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.get(UserAliasPath, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
}

func TestUsers_UniformRejection(t *testing.T) {
	env := newAPIEnv(t)

	other, err := token.NewKeyManager(testutil.GenerateRSAKey(t))
	require.NoError(t, err)
	forger, err := token.NewIssuer(token.IssuerConfig{Issuer: testIssuer, Audience: "api1"}, other)
	require.NoError(t, err)
	forged, _, err := forger.MintAccessToken(token.AccessTokenParams{ClientID: "client"})
	require.NoError(t, err)

	wrongAudience, err := token.NewIssuer(token.IssuerConfig{Issuer: testIssuer, Audience: "api2"}, other)
	require.NoError(t, err)
	forgedForOtherAPI, _, err := wrongAudience.MintAccessToken(token.AccessTokenParams{ClientID: "client"})
	require.NoError(t, err)

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic Y2xpZW50OnNlY3JldA=="},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"foreign signature", "Bearer " + forged},
		{"foreign signature and audience", "Bearer " + forgedForOtherAPI},
	}

	var first string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(UsersPath, tt.authorization)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, `Bearer realm="api", error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

			if first == "" {
				first = rec.Body.String()
			}
			assert.Equal(t, first, rec.Body.String(), "rejections must be indistinguishable")
		})
	}
}

func TestUsers_InsufficientScope(t *testing.T) {
	env := newAPIEnv(t, "api1")
	tok := env.mint(t, token.AccessTokenParams{ClientID: "client", Scopes: []string{"profile"}})

	rec := env.get(UsersPath, "Bearer "+tok)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `scope="api1"`)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope"`)
	assert.JSONEq(t, `{"error":"insufficient_scope"}`, rec.Body.String())
}

func TestIdentity_EchoesClaims(t *testing.T) {
	env := newAPIEnv(t)
	tok := env.mint(t, token.AccessTokenParams{
		Subject:  "alice-id",
		ClientID: "ro.client",
		Scopes:   []string{"api1"},
		AMR:      []string{"pwd"},
		IdP:      "local",
	})

	rec := env.get(IdentityPath, "Bearer "+tok)
	require.Equal(t, http.StatusOK, rec.Code)

	var claims []identityClaim
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claims))

	got := map[string]string{}
	for _, c := range claims {
		got[c.Type] = c.Value
	}
	assert.Equal(t, testIssuer, got["iss"])
	assert.Equal(t, "alice-id", got["sub"])
	assert.Equal(t, "ro.client", got["client_id"])
	assert.Equal(t, "api1", got["scope"])
	assert.Equal(t, "pwd", got["amr"])
	assert.Equal(t, "local", got["idp"])
}

func TestIdentity_ClientTokenHasNoSubject(t *testing.T) {
	env := newAPIEnv(t)
	tok := env.mint(t, token.AccessTokenParams{ClientID: "client", Scopes: []string{"api1"}})

	rec := env.get(IdentityPath, "Bearer "+tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"sub"`)
}

func TestRequireBearer_RateLimited(t *testing.T) {
	km, err := token.NewKeyManager(testutil.GenerateRSAKey(t))
	require.NoError(t, err)
	verifier, err := token.NewVerifier(token.VerifierConfig{Issuer: testIssuer}, nil, km.PublicKey())
	require.NoError(t, err)

	limiter := security.NewRateLimiter(1, 1, nil)
	t.Cleanup(limiter.Stop)
	guard := NewGuard(verifier, GuardConfig{RateLimiter: limiter})
	h := guard.RequireBearer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, UsersPath, nil))
	assert.Equal(t, http.StatusUnauthorized, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, UsersPath, nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestPrincipalFromContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	p := &token.Principal{ClientID: "client"}
	got, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), p))
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.True(t, got.IsClient())
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer  abc ", "abc", true},
		{"Bearer", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, ok := extractBearerToken(req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
