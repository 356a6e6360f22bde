package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/storage"
)

// LoginState is a state of the login state machine.
type LoginState string

const (
	LoginStateStart        LoginState = "start"
	LoginStateExternalOnly LoginState = "external_only"
	LoginStateLocalForm    LoginState = "local_form"
	LoginStateValidating   LoginState = "validating"
	LoginStateGranted      LoginState = "granted"
	LoginStateDenied       LoginState = "denied"
	LoginStateError        LoginState = "error"
	// LoginStateCancelled is reached when the user presses cancel instead of logging in.
	LoginStateCancelled LoginState = "cancelled"
)

// ButtonLogin is the value of the "button" form field that submits credentials.
// Any other value cancels.
const ButtonLogin = "login"

// ExternalProviderView is an external scheme offered on the login page.
type ExternalProviderView struct {
	Scheme      string
	DisplayName string
}

// LoginView is what the login page renders.
type LoginView struct {
	ReturnURL          string
	Username           string
	RememberLogin      bool
	AllowRememberLogin bool
	EnableLocalLogin   bool
	ExternalProviders  []ExternalProviderView
	ErrorMessage       string
	ClientID           string
	ClientName         string
}

// IsExternalLoginOnly reports whether the only way to log in is a single external scheme.
func (v *LoginView) IsExternalLoginOnly() bool {
	return !v.EnableLocalLogin && len(v.ExternalProviders) == 1
}

// ExternalLoginScheme returns the scheme when IsExternalLoginOnly is true.
func (v *LoginView) ExternalLoginScheme() string {
	if v.IsExternalLoginOnly() {
		return v.ExternalProviders[0].Scheme
	}
	return ""
}

// LoginOutcome is the result of a login state machine step.
type LoginOutcome struct {
	State LoginState

	// View is set for LocalForm, Denied and Error: the form to (re)display.
	View *LoginView

	// Session is set for Granted. The transport persists its id in a cookie.
	Session *storage.Session

	// RedirectURL is set for ExternalOnly, Granted and Cancelled.
	RedirectURL string

	// UseLoadingPage asks the transport to render an intermediate page that
	// navigates to RedirectURL, for native clients.
	UseLoadingPage bool
}

// LoginURL is the login page URL for a return URL.
func LoginURL(returnURL string) string {
	if returnURL == "" {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"returnUrl": {returnURL}}.Encode()
}

// ExternalChallengeURL is the local URL that starts a login through scheme.
func ExternalChallengeURL(scheme, returnURL string) string {
	return ExternalChallengePath + "?" + url.Values{"scheme": {scheme}, "returnUrl": {returnURL}}.Encode()
}

// BeginLogin is the Start state: it decides between the local form and a
// direct redirect to a single external scheme.
func (s *Server) BeginLogin(ctx context.Context, returnURL string) (*LoginOutcome, error) {
	rc, err := s.ResolveContext(ctx, returnURL)
	if err != nil {
		return nil, err
	}

	if rc != nil && rc.Request.IdP != "" {
		return &LoginOutcome{
			State:       LoginStateExternalOnly,
			RedirectURL: ExternalChallengeURL(rc.Request.IdP, returnURL),
		}, nil
	}

	view := s.buildLoginView(rc, returnURL)
	if view.IsExternalLoginOnly() {
		return &LoginOutcome{
			State:       LoginStateExternalOnly,
			RedirectURL: ExternalChallengeURL(view.ExternalLoginScheme(), returnURL),
		}, nil
	}

	return &LoginOutcome{State: LoginStateLocalForm, View: view}, nil
}

func (s *Server) buildLoginView(rc *ResolvedContext, returnURL string) *LoginView {
	view := &LoginView{
		ReturnURL:          returnURL,
		AllowRememberLogin: s.Config.AllowRememberLogin,
		EnableLocalLogin:   s.Config.AllowLocalLogin,
	}

	var restrictions []string
	if rc != nil {
		view.EnableLocalLogin = rc.LocalLoginAllowed
		view.Username = rc.Request.LoginHint
		view.ClientID = rc.Client.ClientID
		view.ClientName = rc.Client.DisplayName()
		restrictions = rc.ProviderRestrictions
	}

	for _, p := range s.providers.List(restrictions) {
		view.ExternalProviders = append(view.ExternalProviders, ExternalProviderView{
			Scheme:      p.Name(),
			DisplayName: p.DisplayName(),
		})
	}
	return view
}

// LoginSubmission is a posted login form.
type LoginSubmission struct {
	ReturnURL     string
	Username      string
	Password      string
	RememberLogin bool
	Button        string
	ClientIP      string

	// PriorSessionID is the session the browser arrived with, if any. It is
	// ended once the new session exists.
	PriorSessionID string
}

// SubmitLogin runs the Validating state for a posted login form. Bad
// credentials are not errors: they yield a Denied or Error outcome carrying the
// form to redisplay. Errors are returned only for unsafe input and
// infrastructure failures.
func (s *Server) SubmitLogin(ctx context.Context, sub LoginSubmission) (*LoginOutcome, error) {
	rc, err := s.ResolveContext(ctx, sub.ReturnURL)
	if err != nil {
		return nil, err
	}
	clientID := ""
	if rc != nil {
		clientID = rc.Client.ClientID
	}

	if sub.Button != ButtonLogin {
		return s.cancelLogin(ctx, rc, sub.ReturnURL)
	}

	// an untrusted return URL is rejected before any credential is checked
	if rc == nil && sub.ReturnURL != "" && !IsLocalURL(sub.ReturnURL) {
		s.auditEvent("login:invalid_return_url:"+sub.ClientIP, security.Event{
			Type:      security.EventInvalidReturnURL,
			IPAddress: sub.ClientIP,
		})
		return nil, ErrInvalidReturnURL()
	}

	view := s.buildLoginView(rc, sub.ReturnURL)
	view.Username = sub.Username
	view.RememberLogin = sub.RememberLogin

	if !view.EnableLocalLogin {
		return nil, ErrLocalLoginDisabled()
	}

	if sub.Username == "" || sub.Password == "" {
		view.ErrorMessage = "Username and password are required"
		return &LoginOutcome{State: LoginStateError, View: view}, nil
	}

	user, err := s.credentials.Verify(ctx, sub.Username, sub.Password)
	if err != nil {
		if KindOf(err) != KindAuthenticationFailure {
			return nil, err
		}
		reason := "invalid_credentials"
		state := LoginStateDenied
		view.ErrorMessage = "Invalid username or password"
		if errors.Is(err, ErrAccountLocked) {
			reason = "account_locked"
			state = LoginStateError
			view.ErrorMessage = "Account temporarily locked, try again later"
		} else {
			s.recordCredentialFailure(ctx, sub.Username, sub.ClientIP)
		}
		s.Auditor.LogLoginFailure(sub.Username, reason, clientID, sub.ClientIP)
		s.metrics().RecordLoginAttempt(ctx, storage.LocalSource().String(), reason)
		return &LoginOutcome{State: state, View: view}, nil
	}

	s.resetCredentialFailures(sub.Username)

	session, err := s.createSession(ctx, user.UserID, user.DisplayName, storage.LocalSource(), "", sub.RememberLogin)
	if err != nil {
		return nil, err
	}
	s.endPriorSession(ctx, sub.PriorSessionID, session.ID)

	s.Auditor.LogLoginSuccess(user.UserID, user.Username, clientID, session.Source.String())
	s.metrics().RecordLoginAttempt(ctx, session.Source.String(), "success")
	s.Logger.Info("User logged in",
		"client_id", clientID,
		"source", session.Source.String(),
		"persistent", session.Persistent)

	return s.grantedOutcome(rc, sub.ReturnURL, session), nil
}

// cancelLogin notifies a pending authorization of the denial and sends the
// user back to it, or to the default location when there is none.
func (s *Server) cancelLogin(ctx context.Context, rc *ResolvedContext, returnURL string) (*LoginOutcome, error) {
	if rc == nil {
		return &LoginOutcome{State: LoginStateCancelled, RedirectURL: s.Config.DefaultRedirect}, nil
	}
	if err := s.DenyAuthorization(ctx, rc.Request.RequestID); err != nil {
		return nil, err
	}
	return &LoginOutcome{
		State:          LoginStateCancelled,
		RedirectURL:    returnURL,
		UseLoadingPage: rc.IsNative(),
	}, nil
}

// grantedOutcome picks the redirect after a successful login. The return URL
// has already been checked: it is either bound to rc, local, or empty.
func (s *Server) grantedOutcome(rc *ResolvedContext, returnURL string, session *storage.Session) *LoginOutcome {
	out := &LoginOutcome{State: LoginStateGranted, Session: session}
	switch {
	case rc != nil:
		out.RedirectURL = returnURL
		out.UseLoadingPage = rc.IsNative()
	case returnURL != "" && IsLocalURL(returnURL):
		out.RedirectURL = returnURL
	default:
		out.RedirectURL = s.Config.DefaultRedirect
	}
	return out
}

// createSession establishes a session. It is persistent only when remembered
// logins are allowed and the user opted in.
func (s *Server) createSession(ctx context.Context, subject, displayName string, source storage.AuthenticationSource, idTokenHint string, remember bool) (*storage.Session, error) {
	now := s.now()
	persistent := s.Config.AllowRememberLogin && remember
	ttl := seconds(s.Config.SessionTTL)
	if persistent {
		ttl = seconds(s.Config.RememberMeLoginDuration)
	}

	session := &storage.Session{
		ID:          uuid.NewString(),
		Subject:     subject,
		DisplayName: displayName,
		Source:      source,
		IDTokenHint: idTokenHint,
		Persistent:  persistent,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// endPriorSession deletes the session a login replaced, so its id cannot be
// replayed. Failures are logged: the new session is already in place.
func (s *Server) endPriorSession(ctx context.Context, priorID, currentID string) {
	if priorID == "" || priorID == currentID {
		return
	}
	if err := s.sessions.DeleteSession(ctx, priorID); err != nil {
		s.Logger.Warn("Failed to delete replaced session", "error", err)
	}
}
