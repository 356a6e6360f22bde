package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/giantswarm/idp"
	"github.com/giantswarm/idp/resource"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/token"
)

// startIdentityProvider assembles the serve command's stack on a test listener.
func startIdentityProvider(t *testing.T) (*httptest.Server, *core) {
	t.Helper()

	ts := httptest.NewUnstartedServer(nil)
	t.Cleanup(ts.Close)

	cfg, err := loadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	cfg.Issuer = "http://" + ts.Listener.Addr().String()
	cfg.SigningKey = filepath.Join(t.TempDir(), "signing-key.pem")
	cfg.Metrics.Enabled = false
	cfg.Users = []UserConfig{{Username: "alice", Password: "alice-password", Address: "1 Main St"}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	inst, err := newInstrumentation(cfg.Metrics, "idp-test")
	if err != nil {
		t.Fatalf("newInstrumentation() error = %v", err)
	}

	c, err := newCore(ctx, cfg, logger, inst)
	if err != nil {
		t.Fatalf("newCore() error = %v", err)
	}
	t.Cleanup(c.Close)

	if err := c.registerClients(ctx, ""); err != nil {
		t.Fatalf("registerClients() error = %v", err)
	}
	// Seeding is idempotent across restarts.
	for range 2 {
		if err := c.seedUsers(ctx, cfg.Users); err != nil {
			t.Fatalf("seedUsers() error = %v", err)
		}
	}

	handler := idp.NewHandler(c.srv, &idp.Config{Logger: logger})
	t.Cleanup(handler.Close)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	api, limiter, err := newResourceAPI(cfg, c.backends.profiles, c.keys.PublicKey(), c.auditor, logger, inst)
	if err != nil {
		t.Fatalf("newResourceAPI() error = %v", err)
	}
	if limiter != nil {
		t.Cleanup(limiter.Stop)
	}
	api.RegisterRoutes(mux)

	ts.Config.Handler = withMiddleware(mux, "idp", inst)
	ts.Start()
	return ts, c
}

func TestServe_ConsoleClientFlow(t *testing.T) {
	ts, c := startIdentityProvider(t)

	var out bytes.Buffer
	err := runToken(context.Background(), &tokenOptions{
		issuer:       ts.URL,
		clientID:     "client",
		clientSecret: "secret",
		scopes:       []string{"api1"},
	}, &out)
	if err != nil {
		t.Fatalf("runToken() error = %v", err)
	}
	if !strings.Contains(out.String(), `"userName": "alice"`) {
		t.Errorf("profile missing from output:\n%s", out.String())
	}

	profiles, err := c.backends.profiles.ListProfiles(context.Background())
	if err != nil || len(profiles) != 1 {
		t.Errorf("seeded profiles = %v, %v; want exactly one", profiles, err)
	}
}

func TestServe_ConsoleClientRejected(t *testing.T) {
	ts, _ := startIdentityProvider(t)

	err := runToken(context.Background(), &tokenOptions{
		issuer:       ts.URL,
		clientID:     "client",
		clientSecret: "wrong",
		scopes:       []string{"api1"},
	}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "token request failed") {
		t.Errorf("runToken() error = %v, want token request failure", err)
	}
}

func TestServe_MiddlewareAssignsRequestID(t *testing.T) {
	ts, _ := startIdentityProvider(t)

	resp, err := http.Get(ts.URL + idp.HealthPath)
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(security.RequestIDHeader) == "" {
		t.Error("request id header missing")
	}
}

func TestNewResourceAPI_AudienceCheck(t *testing.T) {
	cfg, err := loadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	cfg.SigningKey = filepath.Join(t.TempDir(), "key.pem")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := newCore(context.Background(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("newCore() error = %v", err)
	}
	t.Cleanup(c.Close)

	// A token for another audience, signed with the provider's key.
	other, err := token.NewIssuer(token.IssuerConfig{Issuer: cfg.Issuer, Audience: "orders"}, c.keys)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	bearer, _, err := other.MintAccessToken(token.AccessTokenParams{ClientID: "client", Scopes: []string{"api1"}})
	if err != nil {
		t.Fatalf("MintAccessToken() error = %v", err)
	}

	tests := []struct {
		name             string
		validateAudience bool
		wantStatus       int
	}{
		{name: "relaxed", validateAudience: false, wantStatus: http.StatusOK},
		{name: "strict", validateAudience: true, wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiCfg := *cfg
			apiCfg.API.ValidateAudience = tt.validateAudience

			api, limiter, err := newResourceAPI(&apiCfg, c.backends.profiles, c.keys.PublicKey(), c.auditor, logger, nil)
			if err != nil {
				t.Fatalf("newResourceAPI() error = %v", err)
			}
			if limiter != nil {
				t.Cleanup(limiter.Stop)
			}
			mux := http.NewServeMux()
			api.RegisterRoutes(mux)

			req := httptest.NewRequest(http.MethodGet, resource.UsersPath, nil)
			req.Header.Set("Authorization", "Bearer "+bearer)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestNewCore_WritesSigningKey(t *testing.T) {
	cfg, err := loadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	cfg.SigningKey = filepath.Join(t.TempDir(), "key.pem")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := newCore(context.Background(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("newCore() error = %v", err)
	}
	c.Close()

	info, err := os.Stat(cfg.SigningKey)
	if err != nil {
		t.Fatalf("signing key not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("signing key mode = %v, want 0600", info.Mode().Perm())
	}

	// A second start reuses the key.
	c2, err := newCore(context.Background(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("newCore() second start error = %v", err)
	}
	defer c2.Close()
	if c2.keys.KID() != c.keys.KID() {
		t.Error("signing key was regenerated")
	}
}

func TestOpenBackends_UnknownBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := openBackends(StorageConfig{Backend: "etcd"}, logger, nil); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}
