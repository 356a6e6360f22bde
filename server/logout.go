package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/giantswarm/idp/internal/util"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

// EndSessionRequest is a relying party initiated logout.
type EndSessionRequest struct {
	ClientID              string
	PostLogoutRedirectURI string
	State                 string
}

// LogoutOutcome is the result of BeginLogout. When ShowLogoutPrompt is false
// the user has already been logged out and LoggedOut describes the result.
type LogoutOutcome struct {
	LogoutID         string
	ShowLogoutPrompt bool
	LoggedOut        *LoggedOutView
}

// LoggedOutView is what the logged-out page renders.
type LoggedOutView struct {
	AutomaticRedirectAfterSignOut bool
	PostLogoutRedirectURI         string
	ClientName                    string
	SignOutIframeURL              string
	LogoutID                      string

	// ExternalAuthenticationScheme and ExternalSignOutURL are set when the
	// browser must first be sent to an external provider to sign out there.
	ExternalAuthenticationScheme string
	ExternalSignOutURL           string
}

// TriggerExternalSignOut reports whether the transport must redirect to the
// external provider before showing the page.
func (v *LoggedOutView) TriggerExternalSignOut() bool {
	return v.ExternalSignOutURL != ""
}

// EndSession validates a relying party logout request and stores a logout
// context for it. The returned logout id is passed to BeginLogout.
func (s *Server) EndSession(ctx context.Context, req EndSessionRequest, session *storage.Session) (string, error) {
	var client *storage.Client
	if req.ClientID != "" {
		c, err := s.clients.GetClient(ctx, req.ClientID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", ErrInvalidRequest("unknown client")
			}
			return "", fmt.Errorf("failed to load client: %w", err)
		}
		client = c
	}

	if req.PostLogoutRedirectURI != "" {
		if client == nil {
			return "", ErrInvalidRequest("client_id is required with post_logout_redirect_uri")
		}
		if !client.HasPostLogoutRedirectURI(req.PostLogoutRedirectURI) {
			s.Logger.Debug("End session request rejected",
				"client_id", client.ClientID,
				"reason", "post_logout_redirect_uri_mismatch")
			return "", ErrInvalidRequest("post_logout_redirect_uri is not registered for this client")
		}
	}

	now := s.now()
	lc := &storage.LogoutContext{
		LogoutID: uuid.NewString(),
		// only a request from a validated client skips the confirmation
		ShowSignoutPrompt: client == nil,
		CreatedAt:         now,
		ExpiresAt:         now.Add(seconds(s.Config.LogoutContextTTL)),
	}
	if client != nil {
		lc.ClientID = client.ClientID
		lc.ClientName = client.DisplayName()
		lc.State = req.State
		lc.PostLogoutRedirectURI = req.PostLogoutRedirectURI
		if req.PostLogoutRedirectURI != "" && req.State != "" {
			lc.PostLogoutRedirectURI = appendQuery(req.PostLogoutRedirectURI, url.Values{"state": {req.State}})
		}
		if client.FrontChannelLogoutURI != "" && session != nil {
			lc.SignOutIframeURL = appendQuery(client.FrontChannelLogoutURI, url.Values{"iss": {s.issuerURL()}})
		}
	}
	if session != nil {
		lc.SubjectID = session.Subject
	}

	if err := s.logouts.SaveLogoutContext(ctx, lc); err != nil {
		return "", fmt.Errorf("failed to save logout context: %w", err)
	}
	return lc.LogoutID, nil
}

// LogoutURL is the logout page URL for a logout id.
func LogoutURL(logoutID string) string {
	if logoutID == "" {
		return LogoutPath
	}
	return LogoutPath + "?" + url.Values{"logoutId": {logoutID}}.Encode()
}

// BeginLogout decides whether the user must confirm the logout. An
// unauthenticated user, or a request whose logout context came from a
// validated client, is logged out at once.
func (s *Server) BeginLogout(ctx context.Context, logoutID string, session *storage.Session) (*LogoutOutcome, error) {
	show := s.Config.ShowLogoutPrompt
	if session == nil {
		show = false
	} else if logoutID != "" {
		lc, err := s.loadLogoutContext(ctx, logoutID)
		if err != nil {
			return nil, err
		}
		if lc != nil && !lc.ShowSignoutPrompt {
			show = false
		}
	}

	if show {
		return &LogoutOutcome{LogoutID: logoutID, ShowLogoutPrompt: true}, nil
	}

	view, err := s.CompleteLogout(ctx, logoutID, session)
	if err != nil {
		return nil, err
	}
	return &LogoutOutcome{LogoutID: view.LogoutID, LoggedOut: view}, nil
}

// CompleteLogout terminates the session. When the session came from an
// external scheme that supports sign-out, the view carries the redirect to
// that provider; its callback calls CompleteLogout again with the same logout
// id, which then only renders the view. Repeated calls have no further effect.
func (s *Server) CompleteLogout(ctx context.Context, logoutID string, session *storage.Session) (*LoggedOutView, error) {
	lc, err := s.loadLogoutContext(ctx, logoutID)
	if err != nil {
		return nil, err
	}

	view := &LoggedOutView{
		AutomaticRedirectAfterSignOut: s.Config.AutomaticRedirectAfterSignOut,
		LogoutID:                      logoutID,
	}
	if lc != nil {
		view.PostLogoutRedirectURI = lc.PostLogoutRedirectURI
		view.ClientName = lc.ClientName
		if view.ClientName == "" {
			view.ClientName = lc.ClientID
		}
		view.SignOutIframeURL = lc.SignOutIframeURL
	}

	// the caller's session value may be stale when the page is submitted twice
	if session != nil {
		session, err = s.CurrentSession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
	}
	if session == nil {
		return view, nil
	}

	federated := false
	if scheme, ok := session.Source.ExternalScheme(); ok {
		federated, err = s.prepareFederatedSignOut(ctx, scheme, session, lc, view)
		if err != nil {
			return nil, err
		}
	}

	if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}

	s.Auditor.LogLogoutSuccess(session.Subject, session.DisplayName)
	s.metrics().RecordLogout(ctx, federated)
	s.Logger.Info("User logged out",
		"source", session.Source.String(),
		"federated", federated)

	return view, nil
}

// prepareFederatedSignOut makes sure a logout context exists and records the
// external scheme on it, then fills the provider sign-out redirect into view.
// It does nothing for schemes that cannot sign out.
func (s *Server) prepareFederatedSignOut(ctx context.Context, scheme string, session *storage.Session, lc *storage.LogoutContext, view *LoggedOutView) (bool, error) {
	provider, ok := s.providers.Get(scheme)
	if !ok || !provider.SupportsSignOut() {
		return false, nil
	}

	if lc == nil {
		now := s.now()
		lc = &storage.LogoutContext{
			LogoutID:  uuid.NewString(),
			SubjectID: session.Subject,
			CreatedAt: now,
			ExpiresAt: now.Add(seconds(s.Config.LogoutContextTTL)),
		}
	}
	lc.ExternalScheme = scheme

	callback := s.issuerURL() + LogoutCallbackPath + "?" + url.Values{"logoutId": {lc.LogoutID}}.Encode()
	signOutURL, err := provider.SignOutURL(session.IDTokenHint, callback, lc.LogoutID)
	if err != nil {
		s.Logger.Warn("Federated sign-out unavailable", "scheme", scheme, "error", err)
		return false, nil
	}

	if err := s.logouts.SaveLogoutContext(ctx, lc); err != nil {
		return false, fmt.Errorf("failed to save logout context: %w", err)
	}

	view.LogoutID = lc.LogoutID
	view.ExternalAuthenticationScheme = scheme
	view.ExternalSignOutURL = signOutURL

	s.Auditor.LogEvent(security.Event{
		Type:   security.EventFederatedSignOut,
		UserID: session.Subject,
		Details: map[string]any{
			"scheme": scheme,
		},
	})
	return true, nil
}

// loadLogoutContext returns nil for an empty, unknown or expired logout id.
func (s *Server) loadLogoutContext(ctx context.Context, logoutID string) (*storage.LogoutContext, error) {
	if logoutID == "" {
		return nil, nil
	}
	lc, err := s.logouts.GetLogoutContext(ctx, logoutID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load logout context: %w", err)
	}
	return lc, nil
}

func (s *Server) issuerURL() string {
	return util.NormalizeURL(s.Config.Issuer)
}
