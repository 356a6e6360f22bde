package idp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/idp/instrumentation"
	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/server"
	"github.com/giantswarm/idp/storage"
)

// Protocol endpoint paths. Account paths are defined by the server package.
const (
	AuthorizePath  = "/connect/authorize"
	TokenPath      = "/connect/token"
	EndSessionPath = "/connect/endsession"
	RegisterPath   = "/account/register"
	HealthPath     = "/healthz"
)

const tokenTypeBearer = "Bearer"

// Handler is a thin HTTP adapter for the identity provider core.
// It handles HTTP requests and delegates to the Server for business logic.
// The browser session travels as a cookie holding the session id.
type Handler struct {
	server      *server.Server
	config      Config
	logger      *slog.Logger
	tracer      trace.Tracer // OpenTelemetry tracer for HTTP layer
	rateLimiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler. config may be nil.
func NewHandler(srv *server.Server, config *Config) *Handler {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg.applyDefaults(srv.Config.Issuer)

	h := &Handler{
		server: srv,
		config: cfg,
		logger: cfg.Logger,
	}

	if cfg.RateLimit.Rate > 0 {
		h.rateLimiter = security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.Logger)
	}

	// Initialize tracer if instrumentation is enabled
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// Close stops the handler's background goroutines
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// RegisterRoutes mounts every protocol and account endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+AuthorizePath, h.instrumented("authorize", h.ServeAuthorize))
	mux.Handle("GET "+server.AuthorizeCallbackPath, h.instrumented("authorize_callback", h.ServeAuthorizeCallback))
	mux.Handle("POST "+TokenPath, h.instrumented("token", h.ServeToken))
	mux.Handle("GET "+EndSessionPath, h.instrumented("end_session", h.ServeEndSession))

	mux.Handle("GET "+server.LoginPath, h.instrumented("login", h.ServeLogin))
	mux.Handle("POST "+server.LoginPath, h.instrumented("login_submit", h.ServeLoginSubmit))
	mux.Handle("GET "+server.ExternalChallengePath, h.instrumented("external_challenge", h.ServeExternalChallenge))
	mux.Handle("GET "+server.ExternalCallbackPath, h.instrumented("external_callback", h.ServeExternalCallback))
	mux.Handle("GET "+server.LogoutPath, h.instrumented("logout", h.ServeLogout))
	mux.Handle("POST "+server.LogoutPath, h.instrumented("logout_submit", h.ServeLogoutSubmit))
	mux.Handle("GET "+server.LogoutCallbackPath, h.instrumented("logout_callback", h.ServeLogoutCallback))
	mux.Handle("POST "+RegisterPath, h.instrumented("register", h.ServeRegister))

	mux.HandleFunc("GET "+HealthPath, h.ServeHealth)
}

// ServeAuthorize handles the authorization endpoint. Requests that cannot be
// tied to a registered redirect URI get an error page; everything else ends
// at the client, directly or after login.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := server.AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		LoginHint:           q.Get("login_hint"),
		AcrValues:           q.Get("acr_values"),
		Prompt:              q.Get("prompt"),
	}

	span := trace.SpanFromContext(ctx)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod),
	)

	session, err := h.currentSession(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	result, err := h.server.StartAuthorization(ctx, req, session)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.followAuthorization(w, r, result)
}

// ServeAuthorizeCallback resumes a pending authorization after login.
func (h *Handler) ServeAuthorizeCallback(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	instrumentation.SetSpanAttributes(trace.SpanFromContext(r.Context()),
		attribute.String(instrumentation.AttrRequestID, requestID))

	session, err := h.currentSession(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	result, err := h.server.ResumeAuthorization(r.Context(), requestID, session)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.followAuthorization(w, r, result)
}

func (h *Handler) followAuthorization(w http.ResponseWriter, r *http.Request, result *server.AuthorizationResult) {
	if result.LoginRequired {
		h.redirect(w, r, server.LoginURL(result.ReturnURL))
		return
	}
	h.redirectOrLoad(w, r, result.RedirectURL, result.UseLoadingPage)
}

// ServeToken handles the token endpoint. Client credentials are taken from
// HTTP Basic authentication, falling back to the form body.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := h.clientIP(r)

	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	clientID, clientSecret, basic := r.BasicAuth()
	if !basic {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}

	req := server.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        r.PostForm.Get("scope"),
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
		Code:         r.PostForm.Get("code"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientIP:     clientIP,
	}

	span := trace.SpanFromContext(ctx)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
	)

	resp, err := h.server.IssueToken(ctx, req)
	if err != nil {
		oe := toOAuthError(err)
		h.logOAuthError(r, "Token request failed", oe, err)
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, oe.Code))
		if oe.Code == server.ErrorCodeInvalidClient && basic {
			w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		}
		h.writeError(w, oe.Code, oe.Description, oe.Status)
		return
	}

	h.writeTokenResponse(w, resp)
}

// ServeEndSession handles relying party initiated logout.
func (h *Handler) ServeEndSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	session, err := h.currentSession(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	logoutID, err := h.server.EndSession(r.Context(), server.EndSessionRequest{
		ClientID:              q.Get("client_id"),
		PostLogoutRedirectURI: q.Get("post_logout_redirect_uri"),
		State:                 q.Get("state"),
	}, session)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.redirect(w, r, server.LogoutURL(logoutID))
}

// ServeLogin renders the login page, or skips it when the request can only
// be satisfied by a single external scheme.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.server.BeginLogin(r.Context(), r.URL.Query().Get("returnUrl"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.handleLoginOutcome(w, r, outcome)
}

// ServeLoginSubmit handles the posted login form.
func (h *Handler) ServeLoginSubmit(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	if h.rateLimited(r, clientIP) {
		w.Header().Set("Retry-After", "60")
		h.renderErrorPage(w, r, NewOAuthError(ErrorCodeRateLimitExceeded, "Too many login attempts. Please try again later.", http.StatusTooManyRequests))
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, server.ErrInvalidRequest("failed to parse form"))
		return
	}

	outcome, err := h.server.SubmitLogin(r.Context(), server.LoginSubmission{
		ReturnURL:     r.PostForm.Get("returnUrl"),
		Username:      r.PostForm.Get("username"),
		Password:      r.PostForm.Get("password"),
		RememberLogin: isChecked(r.PostForm.Get("rememberLogin")),
		Button:        r.PostForm.Get("button"),
		ClientIP:      clientIP,

		PriorSessionID: h.sessionCookieValue(r),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.handleLoginOutcome(w, r, outcome)
}

// ServeExternalChallenge redirects to an external provider.
func (h *Handler) ServeExternalChallenge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerURL, err := h.server.ChallengeExternal(r.Context(), q.Get("scheme"), q.Get("returnUrl"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.redirect(w, r, providerURL)
}

// ServeExternalCallback completes a login at an external provider.
func (h *Handler) ServeExternalCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome, err := h.server.CompleteExternalLogin(r.Context(), server.ExternalCallback{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		ClientIP:         h.clientIP(r),
		PriorSessionID:   h.sessionCookieValue(r),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.handleLoginOutcome(w, r, outcome)
}

func (h *Handler) handleLoginOutcome(w http.ResponseWriter, r *http.Request, outcome *server.LoginOutcome) {
	instrumentation.SetSpanAttributes(trace.SpanFromContext(r.Context()),
		attribute.String(instrumentation.AttrLoginState, string(outcome.State)),
		attribute.Bool(instrumentation.AttrNativeClient, outcome.UseLoadingPage))

	switch outcome.State {
	case server.LoginStateGranted:
		if outcome.Session != nil {
			h.setSessionCookie(w, outcome.Session)
		}
		h.redirectOrLoad(w, r, outcome.RedirectURL, outcome.UseLoadingPage)
	case server.LoginStateExternalOnly, server.LoginStateCancelled:
		h.redirectOrLoad(w, r, outcome.RedirectURL, outcome.UseLoadingPage)
	default:
		if outcome.View == nil {
			h.renderError(w, r, errors.New("login outcome without view"))
			return
		}
		h.renderLogin(w, outcome.View)
	}
}

// ServeLogout shows the logout prompt, or logs out at once when no
// confirmation is needed.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	logoutID := r.URL.Query().Get("logoutId")

	session, err := h.currentSession(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	outcome, err := h.server.BeginLogout(r.Context(), logoutID, session)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if outcome.ShowLogoutPrompt {
		h.renderLogoutPrompt(w, outcome.LogoutID)
		return
	}

	h.clearSessionCookie(w)
	h.finishLogout(w, r, outcome.LoggedOut)
}

// ServeLogoutSubmit handles the confirmed logout prompt.
func (h *Handler) ServeLogoutSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, server.ErrInvalidRequest("failed to parse form"))
		return
	}

	session, err := h.currentSession(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	view, err := h.server.CompleteLogout(r.Context(), r.PostForm.Get("logoutId"), session)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	h.clearSessionCookie(w)
	h.finishLogout(w, r, view)
}

// ServeLogoutCallback is where an external provider returns after federated
// sign-out. The local session is already gone; only the page is rendered.
func (h *Handler) ServeLogoutCallback(w http.ResponseWriter, r *http.Request) {
	view, err := h.server.CompleteLogout(r.Context(), r.URL.Query().Get("logoutId"), nil)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.finishLogout(w, r, view)
}

// finishLogout sends the browser to the external provider first when the
// session came from one, otherwise renders the logged-out page.
func (h *Handler) finishLogout(w http.ResponseWriter, r *http.Request, view *server.LoggedOutView) {
	instrumentation.SetSpanAttributes(trace.SpanFromContext(r.Context()),
		attribute.String(instrumentation.AttrLogoutID, view.LogoutID),
		attribute.Bool(instrumentation.AttrFederated, view.TriggerExternalSignOut()))

	if view.TriggerExternalSignOut() {
		h.redirect(w, r, view.ExternalSignOutURL)
		return
	}
	h.renderLoggedOut(w, view)
}

// ServeRegister creates a local user from a form post when registration is enabled.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	user, err := h.server.RegisterUser(r.Context(),
		r.PostForm.Get("username"),
		r.PostForm.Get("password"),
		r.PostForm.Get("displayName"))
	if err != nil {
		oe := toOAuthError(err)
		h.logOAuthError(r, "Registration failed", oe, err)
		h.writeError(w, oe.Code, oe.Description, oe.Status)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(RegisterResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	})
}

// ServeHealth reports liveness
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// currentSession loads the session named by the cookie. A missing, unknown
// or expired session is nil without error.
func (h *Handler) currentSession(r *http.Request) (*storage.Session, error) {
	id := h.sessionCookieValue(r)
	if id == "" {
		return nil, nil
	}
	return h.server.CurrentSession(r.Context(), id)
}

// sessionCookieValue returns the session id the request carries, or "".
func (h *Handler) sessionCookieValue(r *http.Request) string {
	cookie, err := r.Cookie(h.config.SessionCookie.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setSessionCookie persists the session id. Only remembered sessions get an
// expiry; everything else is a browser-session cookie.
func (h *Handler) setSessionCookie(w http.ResponseWriter, session *storage.Session) {
	cookie := h.sessionCookie(session.ID)
	if session.Persistent {
		cookie.Expires = session.ExpiresAt
		cookie.MaxAge = int(time.Until(session.ExpiresAt).Seconds())
	}
	http.SetCookie(w, cookie)
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	cookie := h.sessionCookie("")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}

func (h *Handler) sessionCookie(value string) *http.Cookie {
	c := h.config.SessionCookie
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   *c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	}
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, target string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, target, http.StatusFound)
}

// redirectOrLoad redirects, or serves the loading page for native clients.
func (h *Handler) redirectOrLoad(w http.ResponseWriter, r *http.Request, target string, useLoadingPage bool) {
	if useLoadingPage {
		h.renderLoading(w, target)
		return
	}
	h.redirect(w, r, target)
}

// renderError renders a failure as an error page. Browser-facing failures are
// never redirected: the target could not be trusted.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	oe := toOAuthError(err)
	h.logOAuthError(r, "Request rejected", oe, err)
	instrumentation.RecordError(trace.SpanFromContext(r.Context()), err)
	h.renderErrorPage(w, r, oe)
}

func (h *Handler) logOAuthError(r *http.Request, msg string, oe *OAuthError, err error) {
	attrs := []any{
		"path", r.URL.Path,
		"error", oe.Code,
		"request_id", security.GetRequestID(r.Context()),
	}
	if oe.Status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(attrs, "cause", err)...)
		return
	}
	h.logger.Debug(msg, append(attrs, "reason", err)...)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, resp *server.TokenResponse) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if resp.TokenType == "" {
		resp.TokenType = tokenTypeBearer
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.RateLimit.TrustProxy, h.config.RateLimit.TrustedProxyCount)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if !h.rateLimited(r, clientIP) {
		return false
	}
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// rateLimited applies the per-IP limiter and records a rejection.
func (h *Handler) rateLimited(r *http.Request, clientIP string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)
	h.recordRateLimitExceeded(r.Context(), clientIP, r.URL.Path)
	return true
}

// recordRateLimitExceeded records rate limit metrics and audit events.
func (h *Handler) recordRateLimitExceeded(ctx context.Context, clientIP, endpoint string) {
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, endpoint)
	}
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
}

func isChecked(v string) bool {
	return v == "true" || v == "on"
}
