package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/giantswarm/idp/internal/util"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

// AuthorizationRequest holds the parameters of an authorization endpoint call.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	LoginHint           string
	AcrValues           string
	Prompt              string
}

// AuthorizationResult tells the transport where to send the browser next.
// Exactly one of RedirectURL and ReturnURL is set.
type AuthorizationResult struct {
	// RedirectURL goes back to the client with a code or an error.
	RedirectURL string

	// UseLoadingPage is set when RedirectURL targets a native client.
	UseLoadingPage bool

	// LoginRequired is set when the user must authenticate first. ReturnURL
	// resumes the request once they have.
	LoginRequired bool
	ReturnURL     string
}

// StartAuthorization validates an authorization request. Failures detected
// before the redirect URI is trusted are returned as errors and must not be
// redirected; later failures are reported to the client through RedirectURL.
func (s *Server) StartAuthorization(ctx context.Context, req AuthorizationRequest, session *storage.Session) (*AuthorizationResult, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditEvent("authorize:unknown_client:"+req.ClientID, security.Event{
				Type:     security.EventAuthFailure,
				ClientID: req.ClientID,
				Details:  map[string]any{"reason": "unknown_client"},
			})
			return nil, ErrInvalidRequest("unknown client")
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if req.RedirectURI == "" || !client.HasRedirectURI(req.RedirectURI) {
		s.Logger.Debug("Authorization request rejected",
			"client_id", client.ClientID,
			"reason", "redirect_uri_mismatch")
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	fail := func(code, description string) (*AuthorizationResult, error) {
		s.Logger.Debug("Authorization request rejected",
			"client_id", client.ClientID,
			"error", code,
			"reason", description)
		return &AuthorizationResult{
			RedirectURL: errorRedirectURL(req.RedirectURI, code, description, req.State),
		}, nil
	}

	if req.ResponseType != "code" {
		return fail(ErrorCodeUnsupportedResponseType, "only response_type=code is supported")
	}
	if !client.AllowsGrantType(storage.GrantTypeAuthorizationCode) {
		return fail(ErrorCodeUnauthorizedClient, "client is not allowed to use the authorization code flow")
	}

	scopes := util.ParseScopes(req.Scope)
	if len(scopes) == 0 {
		return fail(ErrorCodeInvalidScope, "scope is required")
	}
	if !client.AllowsScopes(scopes) {
		return fail(ErrorCodeInvalidScope, "requested scope is not allowed for this client")
	}

	method := ""
	if req.CodeChallenge != "" {
		method, err = s.validateChallengeMethod(req.CodeChallengeMethod, client.AllowPlainTextPKCE)
		if err != nil {
			s.metrics().RecordPKCEValidationFailed(ctx, req.CodeChallengeMethod)
			return fail(ErrorCodeInvalidRequest, err.Error())
		}
	} else if s.pkceRequired(client.RequirePKCE) {
		return fail(ErrorCodeInvalidRequest, "code_challenge is required")
	}

	now := s.now()
	ac := &storage.AuthorizationContext{
		RequestID:           uuid.NewString(),
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		LoginHint:           req.LoginHint,
		IdP:                 s.idpHint(req.AcrValues, client),
		PromptLogin:         slices.Contains(strings.Fields(req.Prompt), "login"),
		NativeClient:        IsNativeRedirectURI(req.RedirectURI),
		CreatedAt:           now,
		ExpiresAt:           now.Add(seconds(s.Config.AuthorizationContextTTL)),
	}

	s.metrics().RecordAuthorizationStarted(ctx, client.ClientID)

	if session != nil && !ac.PromptLogin {
		redirect, err := s.issueCode(ctx, ac, session)
		if err != nil {
			return nil, err
		}
		return &AuthorizationResult{RedirectURL: redirect, UseLoadingPage: ac.NativeClient}, nil
	}

	if err := s.flows.SaveAuthorizationContext(ctx, ac); err != nil {
		return nil, fmt.Errorf("failed to save authorization context: %w", err)
	}

	s.Logger.Debug("Authorization request waiting for login",
		"client_id", client.ClientID,
		"request_id", ac.RequestID,
		"native", ac.NativeClient)

	return &AuthorizationResult{
		LoginRequired: true,
		ReturnURL:     authorizeCallbackURL(ac.RequestID),
	}, nil
}

// idpHint extracts "idp:<scheme>" from acr_values. Unknown schemes and schemes
// the client is restricted from are ignored.
func (s *Server) idpHint(acrValues string, client *storage.Client) string {
	for _, v := range strings.Fields(acrValues) {
		scheme, ok := strings.CutPrefix(v, "idp:")
		if !ok || scheme == "" {
			continue
		}
		if _, ok := s.providers.Get(scheme); !ok {
			continue
		}
		if len(client.IdentityProviderRestrictions) > 0 && !slices.Contains(client.IdentityProviderRestrictions, scheme) {
			continue
		}
		return scheme
	}
	return ""
}

// ResumeAuthorization continues a pending request after the login flow. The
// context is consumed atomically, so when two requests race only one of them
// receives a code; the other fails with invalid_request.
func (s *Server) ResumeAuthorization(ctx context.Context, requestID string, session *storage.Session) (*AuthorizationResult, error) {
	if requestID == "" {
		return nil, ErrInvalidRequest("request_id is required")
	}

	pending, err := s.flows.GetAuthorizationContext(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return nil, ErrInvalidRequest("unknown or expired authorization request")
		}
		return nil, fmt.Errorf("failed to load authorization context: %w", err)
	}

	if pending.Denial == "" && !sessionSatisfies(pending, session) {
		return &AuthorizationResult{
			LoginRequired: true,
			ReturnURL:     authorizeCallbackURL(requestID),
		}, nil
	}

	ac, err := s.flows.ConsumeAuthorizationContext(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			s.Logger.Warn("Authorization request resumed concurrently",
				"request_id", requestID,
				"client_id", pending.ClientID)
			return nil, ErrInvalidRequest("authorization request was already resolved")
		}
		return nil, fmt.Errorf("failed to consume authorization context: %w", err)
	}

	if ac.Denial != "" {
		return &AuthorizationResult{
			RedirectURL:    errorRedirectURL(ac.RedirectURI, ac.Denial, "", ac.State),
			UseLoadingPage: ac.NativeClient,
		}, nil
	}

	redirect, err := s.issueCode(ctx, ac, session)
	if err != nil {
		return nil, err
	}
	return &AuthorizationResult{RedirectURL: redirect, UseLoadingPage: ac.NativeClient}, nil
}

// sessionSatisfies reports whether session may complete the request. With
// prompt=login the user must have authenticated after the request was made.
func sessionSatisfies(ac *storage.AuthorizationContext, session *storage.Session) bool {
	if session == nil {
		return false
	}
	if ac.PromptLogin && session.IssuedAt.Before(ac.CreatedAt) {
		return false
	}
	return true
}

// DenyAuthorization records that the user declined a pending request. The
// client learns about it as access_denied when the request is resumed.
// The context is consumed before the denial is written back, so a request
// already resumed elsewhere is never recreated.
func (s *Server) DenyAuthorization(ctx context.Context, requestID string) error {
	ac, err := s.flows.ConsumeAuthorizationContext(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return ErrInvalidRequest("unknown or expired authorization request")
		}
		return fmt.Errorf("failed to load authorization context: %w", err)
	}

	ac.Denial = ErrorCodeAccessDenied
	if err := s.flows.SaveAuthorizationContext(ctx, ac); err != nil {
		return fmt.Errorf("failed to save authorization context: %w", err)
	}

	s.Auditor.LogAuthorizationDenied(ac.ClientID, ac.RequestID)
	s.metrics().RecordAuthorizationDenied(ctx, ac.ClientID)
	return nil
}

// issueCode creates a single-use authorization code for the session and
// returns the client redirect carrying it.
func (s *Server) issueCode(ctx context.Context, ac *storage.AuthorizationContext, session *storage.Session) (string, error) {
	now := s.now()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            ac.ClientID,
		RedirectURI:         ac.RedirectURI,
		Scopes:              slices.Clone(ac.Scopes),
		Nonce:               ac.Nonce,
		CodeChallenge:       ac.CodeChallenge,
		CodeChallengeMethod: ac.CodeChallengeMethod,
		Subject:             session.Subject,
		Source:              session.Source,
		AuthTime:            session.IssuedAt,
		CreatedAt:           now,
		ExpiresAt:           now.Add(seconds(s.Config.AuthorizationCodeTTL)),
	}
	if err := s.flows.SaveAuthorizationCode(ctx, code); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationCodeIssued,
		UserID:   session.Subject,
		ClientID: ac.ClientID,
		Details: map[string]any{
			"scope":  util.JoinScopes(ac.Scopes),
			"source": session.Source.String(),
		},
	})

	params := url.Values{"code": {code.Code}}
	if ac.State != "" {
		params.Set("state", ac.State)
	}
	return appendQuery(ac.RedirectURI, params), nil
}

// errorRedirectURL builds an RFC 6749 error response redirect.
func errorRedirectURL(redirectURI, code, description, state string) string {
	params := url.Values{"error": {code}}
	if description != "" {
		params.Set("error_description", description)
	}
	if state != "" {
		params.Set("state", state)
	}
	return appendQuery(redirectURI, params)
}

// appendQuery merges params into the query of base, keeping existing parameters.
func appendQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}
