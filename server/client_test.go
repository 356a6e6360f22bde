package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/idp/storage"
)

func TestRegisterClient_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}

	tests := []struct {
		name    string
		reg     ClientRegistration
		wantErr string
	}{
		{
			name: "client credentials",
			reg:  ClientRegistration{ClientID: "svc", Secret: "s", AllowedGrantTypes: []string{storage.GrantTypeClientCredentials}, AllowedScopes: []string{"api1"}},
		},
		{
			name: "precomputed secret hash",
			reg:  ClientRegistration{ClientID: "svc-hash", SecretHash: string(hash), AllowedGrantTypes: []string{storage.GrantTypeClientCredentials}},
		},
		{
			name:    "missing id",
			reg:     ClientRegistration{Secret: "s", AllowedGrantTypes: []string{storage.GrantTypeClientCredentials}},
			wantErr: "client id is required",
		},
		{
			name:    "missing secret",
			reg:     ClientRegistration{ClientID: "x", AllowedGrantTypes: []string{storage.GrantTypeClientCredentials}},
			wantErr: "secret",
		},
		{
			name:    "secret hash is not bcrypt",
			reg:     ClientRegistration{ClientID: "x", SecretHash: "plain", AllowedGrantTypes: []string{storage.GrantTypeClientCredentials}},
			wantErr: "not a bcrypt hash",
		},
		{
			name:    "no grant types",
			reg:     ClientRegistration{ClientID: "x", Secret: "s"},
			wantErr: "grant type",
		},
		{
			name:    "implicit grant",
			reg:     ClientRegistration{ClientID: "x", Secret: "s", AllowedGrantTypes: []string{"implicit"}},
			wantErr: "unsupported grant type",
		},
		{
			name:    "code flow without redirect uri",
			reg:     ClientRegistration{ClientID: "x", Secret: "s", AllowedGrantTypes: []string{storage.GrantTypeAuthorizationCode}},
			wantErr: "redirect URI",
		},
		{
			name:    "plain http redirect uri",
			reg:     ClientRegistration{ClientID: "x", Secret: "s", AllowedGrantTypes: []string{storage.GrantTypeAuthorizationCode}, RedirectURIs: []string{"http://app.example.com/cb"}},
			wantErr: "HTTPS",
		},
		{
			name:    "javascript redirect uri",
			reg:     ClientRegistration{ClientID: "x", Secret: "s", AllowedGrantTypes: []string{storage.GrantTypeAuthorizationCode}, RedirectURIs: []string{"javascript:alert(1)"}},
			wantErr: "not allowed",
		},
		{
			name:    "post-logout uri with fragment",
			reg:     ClientRegistration{ClientID: "x", Secret: "s", AllowedGrantTypes: []string{storage.GrantTypeClientCredentials}, PostLogoutRedirectURIs: []string{"https://app.example.com/#x"}},
			wantErr: "fragment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := env.srv.RegisterClient(ctx, tt.reg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("RegisterClient() error = %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RegisterClient() error = %v", err)
			}
			if client.ClientSecretHash == tt.reg.Secret {
				t.Error("client secret stored in plain text")
			}
			if !client.EnableLocalLogin {
				t.Error("local login should be enabled unless disabled")
			}
		})
	}
}

func TestValidateClientCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{name: "valid", clientID: "client", secret: "secret"},
		{name: "wrong secret", clientID: "client", secret: "wrong", wantErr: true},
		{name: "unknown client", clientID: "nobody", secret: "secret", wantErr: true},
		{name: "empty client id", clientID: "", secret: "secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := env.srv.ValidateClientCredentials(ctx, tt.clientID, tt.secret, "192.0.2.1")
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidClient()) {
					t.Fatalf("ValidateClientCredentials() error = %v, want invalid_client", err)
				}
				return
			}
			if err != nil || client.ClientID != tt.clientID {
				t.Fatalf("ValidateClientCredentials() = %v, %v", client, err)
			}
		})
	}
}

func TestDefaultClients(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	mvc, err := env.srv.GetClient(ctx, "mvc")
	if err != nil {
		t.Fatalf("GetClient(mvc) error = %v", err)
	}
	if mvc.DisplayName() != "MVC Client" || !mvc.RequirePKCE || !mvc.AllowOfflineAccess {
		t.Errorf("mvc client = %+v", mvc)
	}
	if !mvc.AllowsScopes([]string{"openid", "profile", "api1", "offline_access"}) {
		t.Error("mvc should allow openid profile api1 offline_access")
	}

	client, err := env.srv.GetClient(ctx, "client")
	if err != nil {
		t.Fatalf("GetClient(client) error = %v", err)
	}
	if client.AllowsScopes([]string{"offline_access"}) {
		t.Error("offline_access requires AllowOfflineAccess")
	}
}
