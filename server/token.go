package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/internal/util"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
	"github.com/giantswarm/idp/token"
)

// TokenRequest holds the form fields of a token endpoint call.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string

	// password grant
	Username string
	Password string

	// authorization_code grant
	Code         string
	CodeVerifier string
	RedirectURI  string

	ClientIP string
}

// TokenResponse is the successful token endpoint response body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
	IDToken     string `json:"id_token,omitempty"`
}

// grant is what a validated grant binds the token to.
type grant struct {
	subject  string
	name     string
	scopes   []string
	nonce    string
	authTime time.Time
	source   *storage.AuthenticationSource
}

// IssueToken authenticates the client and redeems the grant. Failures are
// *Error values of KindGrant (or KindAuthenticationFailure for bad resource
// owner credentials) whose Code is the OAuth error to return.
func (s *Server) IssueToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.ValidateClientCredentials(ctx, req.ClientID, req.ClientSecret, req.ClientIP)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(supportedGrantTypes, req.GrantType) {
		return nil, ErrUnsupportedGrantType(req.GrantType)
	}
	if !client.AllowsGrantType(req.GrantType) {
		s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, "grant_type_not_allowed")
		return nil, ErrUnauthorizedClient(fmt.Sprintf("client is not allowed to use grant type %q", req.GrantType))
	}

	var g *grant
	switch req.GrantType {
	case storage.GrantTypeClientCredentials:
		g, err = s.clientCredentialsGrant(client, req)
	case storage.GrantTypePassword:
		g, err = s.passwordGrant(ctx, client, req)
	case storage.GrantTypeAuthorizationCode:
		g, err = s.authorizationCodeGrant(ctx, client, req)
	}
	if err != nil {
		return nil, err
	}

	return s.mintTokens(ctx, client, req, g)
}

// requestedScopes returns the requested scopes, or all of the client's
// allowed scopes when none were requested.
func requestedScopes(client *storage.Client, scope string) ([]string, error) {
	scopes := util.ParseScopes(scope)
	if len(scopes) == 0 {
		return slices.Clone(client.AllowedScopes), nil
	}
	if !client.AllowsScopes(scopes) {
		return nil, ErrInvalidScope("requested scope is not allowed for this client")
	}
	return scopes, nil
}

func (s *Server) clientCredentialsGrant(client *storage.Client, req TokenRequest) (*grant, error) {
	scopes, err := requestedScopes(client, req.Scope)
	if err != nil {
		s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, ErrorCodeInvalidScope)
		return nil, err
	}
	if slices.Contains(scopes, "openid") {
		return nil, ErrInvalidScope("openid requires a user")
	}
	return &grant{scopes: scopes}, nil
}

func (s *Server) passwordGrant(ctx context.Context, client *storage.Client, req TokenRequest) (*grant, error) {
	scopes, err := requestedScopes(client, req.Scope)
	if err != nil {
		s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, ErrorCodeInvalidScope)
		return nil, err
	}
	if req.Username == "" || req.Password == "" {
		return nil, ErrInvalidRequest("username and password are required")
	}

	user, err := s.credentials.Verify(ctx, req.Username, req.Password)
	if err != nil {
		if KindOf(err) != KindAuthenticationFailure {
			return nil, err
		}
		if !errors.Is(err, ErrAccountLocked) {
			s.recordCredentialFailure(ctx, req.Username, req.ClientIP)
		}
		s.Auditor.LogLoginFailure(req.Username, "invalid_credentials", client.ClientID, req.ClientIP)
		return nil, ErrInvalidGrant(err)
	}
	s.resetCredentialFailures(req.Username)

	source := storage.LocalSource()
	return &grant{
		subject:  user.UserID,
		name:     user.DisplayName,
		scopes:   scopes,
		authTime: s.now(),
		source:   &source,
	}, nil
}

func (s *Server) authorizationCodeGrant(ctx context.Context, client *storage.Client, req TokenRequest) (*grant, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	code, err := s.flows.AtomicCheckAndMarkAuthCodeUsed(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) {
			s.handleCodeReuse(ctx, code, req)
			return nil, ErrInvalidGrant(err)
		}
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			s.Logger.Debug("Authorization code rejected",
				"client_id", client.ClientID,
				"code_prefix", util.SafeTruncate(req.Code, 8),
				"reason", err.Error())
			return nil, ErrInvalidGrant(err)
		}
		return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
	}

	if code.ClientID != client.ClientID {
		s.Auditor.LogAuthFailure(code.Subject, client.ClientID, req.ClientIP, "code_client_mismatch")
		return nil, ErrInvalidGrant(errors.New("code was issued to another client"))
	}
	if code.RedirectURI != req.RedirectURI {
		s.Auditor.LogAuthFailure(code.Subject, client.ClientID, req.ClientIP, "redirect_uri_mismatch")
		return nil, ErrInvalidGrant(errors.New("redirect_uri does not match"))
	}
	if err := validatePKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); err != nil {
		s.metrics().RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
		s.auditEvent("pkce:"+client.ClientID, security.Event{
			Type:      security.EventPKCEValidationFailed,
			UserID:    code.Subject,
			ClientID:  client.ClientID,
			IPAddress: req.ClientIP,
		})
		return nil, ErrInvalidGrant(err)
	}

	if scopes := util.ParseScopes(req.Scope); len(scopes) > 0 && !isSubset(scopes, code.Scopes) {
		return nil, ErrInvalidScope("requested scope exceeds the authorized scope")
	}

	source := code.Source
	g := &grant{
		subject:  code.Subject,
		scopes:   code.Scopes,
		nonce:    code.Nonce,
		authTime: code.AuthTime,
		source:   &source,
	}
	if slices.Contains(code.Scopes, "openid") {
		if user, err := s.users.GetUser(ctx, code.Subject); err == nil {
			g.name = user.DisplayName
		}
	}
	return g, nil
}

// handleCodeReuse audits a replayed code and deletes it so no further
// attempt can redeem it.
func (s *Server) handleCodeReuse(ctx context.Context, code *storage.AuthorizationCode, req TokenRequest) {
	s.metrics().RecordCodeReuseDetected(ctx)
	if code == nil {
		return
	}
	s.Logger.Warn("Authorization code reuse detected", "client_id", code.ClientID)
	s.auditEvent("code_reuse:"+code.ClientID, security.Event{
		Type:      security.EventAuthorizationCodeReuseDetected,
		UserID:    code.Subject,
		ClientID:  code.ClientID,
		IPAddress: req.ClientIP,
	})
	if err := s.flows.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		s.Logger.Warn("Failed to delete replayed authorization code", "error", err)
	}
}

func (s *Server) mintTokens(ctx context.Context, client *storage.Client, req TokenRequest, g *grant) (*TokenResponse, error) {
	params := token.AccessTokenParams{
		Subject:  g.subject,
		ClientID: client.ClientID,
		Scopes:   g.scopes,
	}
	if g.source != nil {
		params.AuthTime = g.authTime
		params.IdP, params.AMR = sourceClaims(*g.source)
	}

	span := trace.SpanFromContext(ctx)
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, g.subject, util.JoinScopes(g.scopes))

	accessToken, _, err := s.issuer.MintAccessToken(params)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.issuer.AccessTokenTTL().Seconds()),
		Scope:       util.JoinScopes(g.scopes),
	}

	if req.GrantType == storage.GrantTypeAuthorizationCode && slices.Contains(g.scopes, "openid") {
		resp.IDToken, err = s.issuer.MintIDToken(token.IDTokenParams{
			Subject:  g.subject,
			ClientID: client.ClientID,
			Nonce:    g.nonce,
			Name:     g.name,
			AuthTime: params.AuthTime,
			IdP:      params.IdP,
			AMR:      params.AMR,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to mint identity token: %w", err)
		}
	}

	s.Auditor.LogTokenIssued(g.subject, client.ClientID, req.ClientIP, req.GrantType, resp.Scope)
	s.metrics().RecordTokenIssued(ctx, client.ClientID, req.GrantType)

	return resp, nil
}

// sourceClaims maps an authentication source to the idp and amr claims.
func sourceClaims(src storage.AuthenticationSource) (string, []string) {
	if scheme, ok := src.ExternalScheme(); ok {
		return scheme, []string{"external"}
	}
	return "local", []string{"pwd"}
}

func isSubset(sub, set []string) bool {
	for _, s := range sub {
		if !slices.Contains(set, s) {
			return false
		}
	}
	return true
}
