package server

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/oauth2"

	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/token"
)

func TestIssueToken_ClientCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		req       TokenRequest
		wantCode  string
		wantScope string
	}{
		{
			name:      "allowed scope",
			req:       TokenRequest{GrantType: "client_credentials", ClientID: "client", ClientSecret: "secret", Scope: "api1"},
			wantScope: "api1",
		},
		{
			name:      "no scope defaults to allowed scopes",
			req:       TokenRequest{GrantType: "client_credentials", ClientID: "client", ClientSecret: "secret"},
			wantScope: "api1",
		},
		{
			name:     "scope outside allowed set",
			req:      TokenRequest{GrantType: "client_credentials", ClientID: "client", ClientSecret: "secret", Scope: "api2"},
			wantCode: ErrorCodeInvalidScope,
		},
		{
			name:     "partially allowed scopes",
			req:      TokenRequest{GrantType: "client_credentials", ClientID: "client", ClientSecret: "secret", Scope: "api1 api2"},
			wantCode: ErrorCodeInvalidScope,
		},
		{
			name:     "wrong secret",
			req:      TokenRequest{GrantType: "client_credentials", ClientID: "client", ClientSecret: "wrong", Scope: "api1"},
			wantCode: ErrorCodeInvalidClient,
		},
		{
			name:     "unknown client",
			req:      TokenRequest{GrantType: "client_credentials", ClientID: "nobody", ClientSecret: "secret"},
			wantCode: ErrorCodeInvalidClient,
		},
		{
			name:     "grant not allowed for client",
			req:      TokenRequest{GrantType: "client_credentials", ClientID: "ro.client", ClientSecret: "secret"},
			wantCode: ErrorCodeUnauthorizedClient,
		},
		{
			name:     "unsupported grant",
			req:      TokenRequest{GrantType: "urn:ietf:params:oauth:grant-type:device_code", ClientID: "client", ClientSecret: "secret"},
			wantCode: ErrorCodeUnsupportedGrantType,
		},
	}

	verifier := env.verifier(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.srv.IssueToken(ctx, tt.req)
			if tt.wantCode != "" {
				if err == nil || CodeOf(err) != tt.wantCode || KindOf(err) != KindGrant {
					t.Fatalf("IssueToken() = %+v, %v; want %s", resp, err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("IssueToken() error = %v", err)
			}
			if resp.TokenType != "Bearer" || resp.ExpiresIn != 3600 || resp.Scope != tt.wantScope || resp.IDToken != "" {
				t.Errorf("IssueToken() = %+v", resp)
			}

			principal, err := verifier.Authenticate(ctx, resp.AccessToken)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if !principal.IsClient() || principal.ClientID != "client" || !principal.HasScope("api1") {
				t.Errorf("principal = %+v, want client-only token with api1", principal)
			}
		})
	}

	if got := len(env.logs.AuditEvents(security.EventTokenIssued)); got != 2 {
		t.Errorf("token_issued events = %d, want 2", got)
	}
}

func TestIssueToken_Password(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.srv.IssueToken(ctx, TokenRequest{
		GrantType:    "password",
		ClientID:     "ro.client",
		ClientSecret: "secret",
		Scope:        "api1",
		Username:     testUsername,
		Password:     testPassword,
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	principal, err := env.verifier(t).Authenticate(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if principal.Subject != env.alice.ID || principal.ClientID != "ro.client" {
		t.Errorf("principal = %+v, want alice via ro.client", principal)
	}
	if principal.Claims.IdP != "local" || !slices.Equal(principal.Claims.AMR, []string{"pwd"}) {
		t.Errorf("claims idp = %q amr = %v", principal.Claims.IdP, principal.Claims.AMR)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantCode string
	}{
		{name: "wrong password", username: testUsername, password: "wrong", wantCode: ErrorCodeInvalidGrant},
		{name: "unknown user", username: "mallory", password: "whatever", wantCode: ErrorCodeInvalidGrant},
		{name: "missing password", username: testUsername, password: "", wantCode: ErrorCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.srv.IssueToken(ctx, TokenRequest{
				GrantType:    "password",
				ClientID:     "ro.client",
				ClientSecret: "secret",
				Username:     tt.username,
				Password:     tt.password,
			})
			if CodeOf(err) != tt.wantCode {
				t.Errorf("IssueToken() error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

func TestIssueToken_AnnotatesRequestSpan(t *testing.T) {
	env := newTestEnv(t, nil)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "POST /connect/token")
	_, err := env.srv.IssueToken(ctx, TokenRequest{
		GrantType:    "password",
		ClientID:     "ro.client",
		ClientSecret: "secret",
		Scope:        "api1",
		Username:     testUsername,
		Password:     testPassword,
	})
	span.End()
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		instrumentation.AttrClientID: "ro.client",
		instrumentation.AttrSubject:  env.alice.ID,
		instrumentation.AttrScope:    "api1",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("span attribute %s = %q, want %q", k, got[k], v)
		}
	}
}

// codeFor runs the authorization flow for the mvc client and returns a code.
func codeFor(t *testing.T, env *testEnv, verifier string) string {
	t.Helper()
	result, err := env.srv.StartAuthorization(context.Background(), mvcRequest(verifier), env.login(t))
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	code := queryParam(t, result.RedirectURL, "code")
	if code == "" {
		t.Fatalf("RedirectURL = %q, want code", result.RedirectURL)
	}
	return code
}

func TestIssueToken_AuthorizationCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	verifier := oauth2.GenerateVerifier()
	code := codeFor(t, env, verifier)

	req := TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "mvc",
		ClientSecret: "secret",
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  mvcRedirectURI,
	}
	resp, err := env.srv.IssueToken(ctx, req)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if resp.Scope != "openid profile api1" || resp.IDToken == "" {
		t.Fatalf("IssueToken() = %+v, want scope and id_token", resp)
	}

	principal, err := env.verifier(t).Authenticate(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if principal.Subject != env.alice.ID {
		t.Errorf("Subject = %q, want alice", principal.Subject)
	}

	idClaims := &token.IDClaims{}
	if _, err := jwt.ParseWithClaims(resp.IDToken, idClaims, func(*jwt.Token) (any, error) {
		return env.keys.PublicKey(), nil
	}, jwt.WithAudience("mvc"), jwt.WithIssuer(testIssuer)); err != nil {
		t.Fatalf("parse id_token error = %v", err)
	}
	if idClaims.Nonce != "n-0S6_WzA2Mj" || idClaims.Subject != env.alice.ID || idClaims.Name != "Alice Smith" {
		t.Errorf("id_token claims = %+v", idClaims)
	}

	// replay
	if _, err := env.srv.IssueToken(ctx, req); CodeOf(err) != ErrorCodeInvalidGrant {
		t.Fatalf("replayed IssueToken() error = %v, want invalid_grant", err)
	}
	if got := len(env.logs.AuditEvents(security.EventAuthorizationCodeReuseDetected)); got != 1 {
		t.Errorf("reuse events = %d, want 1", got)
	}
}

func TestIssueToken_AuthorizationCodeRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		mutate   func(*TokenRequest)
		wantCode string
	}{
		{name: "wrong verifier", mutate: func(r *TokenRequest) { r.CodeVerifier = oauth2.GenerateVerifier() }, wantCode: ErrorCodeInvalidGrant},
		{name: "missing verifier", mutate: func(r *TokenRequest) { r.CodeVerifier = "" }, wantCode: ErrorCodeInvalidGrant},
		{name: "redirect uri mismatch", mutate: func(r *TokenRequest) { r.RedirectURI = "https://localhost:7088/other" }, wantCode: ErrorCodeInvalidGrant},
		{name: "unknown code", mutate: func(r *TokenRequest) { r.Code = "not-a-code" }, wantCode: ErrorCodeInvalidGrant},
		{name: "missing code", mutate: func(r *TokenRequest) { r.Code = "" }, wantCode: ErrorCodeInvalidRequest},
		{name: "scope wider than authorized", mutate: func(r *TokenRequest) { r.Scope = "openid offline_access" }, wantCode: ErrorCodeInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := oauth2.GenerateVerifier()
			req := TokenRequest{
				GrantType:    "authorization_code",
				ClientID:     "mvc",
				ClientSecret: "secret",
				Code:         codeFor(t, env, verifier),
				CodeVerifier: verifier,
				RedirectURI:  mvcRedirectURI,
			}
			tt.mutate(&req)

			if _, err := env.srv.IssueToken(ctx, req); CodeOf(err) != tt.wantCode {
				t.Errorf("IssueToken() error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

func TestIssueToken_CodeBoundToClient(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	verifier := oauth2.GenerateVerifier()
	code := codeFor(t, env, verifier)

	_, err := env.srv.RegisterClient(ctx, ClientRegistration{
		ClientID:          "other",
		Secret:            "other-secret",
		AllowedGrantTypes: []string{"authorization_code"},
		AllowedScopes:     []string{"openid"},
		RedirectURIs:      []string{mvcRedirectURI},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	_, err = env.srv.IssueToken(ctx, TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "other",
		ClientSecret: "other-secret",
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  mvcRedirectURI,
	})
	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrorCodeInvalidGrant {
		t.Fatalf("IssueToken() error = %v, want invalid_grant", err)
	}
	if oauthErr.Description != "invalid grant" {
		t.Errorf("Description = %q, must not reveal the reason", oauthErr.Description)
	}
}
