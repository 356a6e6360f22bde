package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/providers"
)

// Config holds the configuration of an OIDC provider scheme.
type Config struct {
	// Scheme is the scheme name used in URLs and the "idp:" hint (required)
	Scheme string

	// DisplayName is the login page label (default: Scheme)
	DisplayName string

	// IssuerURL is the upstream issuer, used for discovery (required)
	IssuerURL string

	// ClientID is this identity provider's client id at the upstream provider (required)
	ClientID string

	// ClientSecret is this identity provider's client secret at the upstream provider
	ClientSecret string

	// RedirectURL is the external login callback URL (required)
	RedirectURL string

	// Scopes requested upstream (default: openid profile email)
	Scopes []string

	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client

	// RequestTimeout bounds discovery and code exchange (default: 30s)
	RequestTimeout time.Duration

	// Logger for debug messages (default: slog.Default())
	Logger *slog.Logger

	// skipValidation disables issuer URL SSRF checks so tests can use httptest servers
	skipValidation bool
}

// Provider is an external identity provider scheme backed by OpenID Connect.
type Provider struct {
	scheme             string
	displayName        string
	oauth2Config       *oauth2.Config
	verifier           *gooidc.IDTokenVerifier
	endSessionEndpoint string
	httpClient         *http.Client
	requestTimeout     time.Duration
	logger             *slog.Logger
	inst               *instrumentation.Instrumentation
}

var _ providers.Provider = (*Provider)(nil)

// discoveryExtras are the discovery fields go-oidc does not expose directly.
type discoveryExtras struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

type idTokenClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// NewProvider performs discovery against cfg.IssuerURL and returns the scheme.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}
	if err := ValidateScopes(scopes); err != nil {
		return nil, err
	}
	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = cfg.Scheme
	}

	discoveryCtx, cancel := context.WithTimeout(gooidc.ClientContext(ctx, httpClient), timeout)
	defer cancel()

	upstream, err := gooidc.NewProvider(discoveryCtx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery failed for %s: %w", cfg.IssuerURL, err)
	}

	var extras discoveryExtras
	if err := upstream.Claims(&extras); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if extras.EndSessionEndpoint != "" && !cfg.skipValidation {
		if u, err := url.Parse(extras.EndSessionEndpoint); err != nil || u.Scheme != "https" {
			return nil, fmt.Errorf("end_session_endpoint must use HTTPS: %s", extras.EndSessionEndpoint)
		}
	}

	logger.Info("OIDC discovery successful",
		"scheme", cfg.Scheme,
		"issuer", cfg.IssuerURL,
		"sign_out_supported", extras.EndSessionEndpoint != "")

	return &Provider{
		scheme:      cfg.Scheme,
		displayName: displayName,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     upstream.Endpoint(),
		},
		verifier:           upstream.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		endSessionEndpoint: extras.EndSessionEndpoint,
		httpClient:         httpClient,
		requestTimeout:     timeout,
		logger:             logger,
	}, nil
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := ValidateScheme(cfg.Scheme); err != nil {
		return err
	}
	if cfg.ClientID == "" {
		return errors.New("client ID is required")
	}
	if cfg.RedirectURL == "" {
		return errors.New("redirect URL is required")
	}
	if cfg.IssuerURL == "" {
		return errors.New("issuer URL is required")
	}
	if !cfg.skipValidation {
		if err := ValidateIssuerURL(cfg.IssuerURL); err != nil {
			return err
		}
	}
	return nil
}

// SetInstrumentation enables upstream call metrics
func (p *Provider) SetInstrumentation(inst *instrumentation.Instrumentation) {
	p.inst = inst
}

// Name returns the scheme name
func (p *Provider) Name() string {
	return p.scheme
}

// DisplayName returns the login page label
func (p *Provider) DisplayName() string {
	return p.displayName
}

// AuthorizationURL returns the upstream sign-in URL with an S256 challenge and nonce.
func (p *Provider) AuthorizationURL(state, codeVerifier, nonce string) string {
	opts := []oauth2.AuthCodeOption{gooidc.Nonce(nonce)}
	if codeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(codeVerifier))
	}
	return p.oauth2Config.AuthCodeURL(state, opts...)
}

// ExchangeCode redeems the callback code, verifies the upstream identity token
// and checks its nonce.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier, nonce string) (identity *providers.Identity, err error) {
	start := time.Now()
	defer func() {
		if p.inst != nil {
			p.inst.Metrics().RecordProviderAPICall(ctx, p.scheme, "exchange_code", float64(time.Since(start).Milliseconds()), err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	tok, err := providers.ExchangeCodeWithPKCE(ctx, p.oauth2Config, p.httpClient, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	rawIDToken, err := providers.IDTokenFromResponse(tok)
	if err != nil {
		return nil, err
	}

	idToken, err := p.verifier.Verify(gooidc.ClientContext(ctx, p.httpClient), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id_token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, errors.New("id_token nonce mismatch")
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode id_token claims: %w", err)
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}

	p.logger.Debug("External identity verified", "scheme", p.scheme, "issuer", idToken.Issuer)

	return &providers.Identity{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    name,
		IDToken: rawIDToken,
	}, nil
}

// SupportsSignOut reports whether the discovery document advertised an end_session_endpoint
func (p *Provider) SupportsSignOut() bool {
	return p.endSessionEndpoint != ""
}

// SignOutURL returns the RP-initiated logout URL at the upstream provider.
func (p *Provider) SignOutURL(idTokenHint, postLogoutRedirectURI, state string) (string, error) {
	if p.endSessionEndpoint == "" {
		return "", providers.ErrSignOutNotSupported
	}

	u, err := url.Parse(p.endSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid end_session_endpoint: %w", err)
	}

	q := u.Query()
	q.Set("client_id", p.oauth2Config.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
