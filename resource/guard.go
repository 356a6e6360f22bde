package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/giantswarm/idp/security"
	"github.com/giantswarm/idp/token"
)

const (
	// ErrorCodeUnauthorized is the only error code a rejected bearer token yields
	ErrorCodeUnauthorized = "unauthorized"

	// ErrorCodeInsufficientScope is returned when a valid token lacks a required scope
	ErrorCodeInsufficientScope = "insufficient_scope"

	tokenTypeBearer = "Bearer"
)

// Authenticator validates bearer tokens. *token.Verifier implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*token.Principal, error)
}

// GuardConfig configures the bearer guard.
type GuardConfig struct {
	// Realm is advertised in the WWW-Authenticate challenge (default "api")
	Realm string

	// RequiredScopes must all be present in the token. Empty admits any valid token.
	RequiredScopes []string

	// ServerURL decides whether HSTS is sent with error responses
	ServerURL string

	// TrustProxy takes the client IP from X-Forwarded-For
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the API
	TrustedProxyCount int

	// RateLimiter optionally limits requests per client IP
	RateLimiter *security.RateLimiter

	// Auditor records rejected tokens (optional)
	Auditor *security.Auditor

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Guard admits requests carrying a valid bearer token.
type Guard struct {
	auth   Authenticator
	config GuardConfig
	logger *slog.Logger
}

// NewGuard creates a bearer guard.
func NewGuard(auth Authenticator, config GuardConfig) *Guard {
	if config.Realm == "" {
		config.Realm = "api"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{auth: auth, config: config, logger: logger}
}

// RequireBearer is middleware that validates the bearer token and stores the
// principal in the request context. Every authentication failure is answered
// with the same 401 body, whatever check failed.
func (g *Guard) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := security.GetClientIP(r, g.config.TrustProxy, g.config.TrustedProxyCount)

		if g.config.RateLimiter != nil && !g.config.RateLimiter.Allow(clientIP) {
			g.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)
			g.config.Auditor.LogRateLimitExceeded(clientIP, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			g.writeJSONError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
			return
		}

		bearer, ok := extractBearerToken(r)
		if !ok {
			g.writeUnauthorized(w)
			return
		}

		principal, err := g.auth.Authenticate(r.Context(), bearer)
		if err != nil {
			g.config.Auditor.LogEvent(security.Event{
				Type:      security.EventTokenValidationFailed,
				IPAddress: clientIP,
				Details:   map[string]any{"endpoint": r.URL.Path},
			})
			g.writeUnauthorized(w)
			return
		}

		if missing := missingScopes(principal, g.config.RequiredScopes); len(missing) > 0 {
			g.logger.Warn("Insufficient scope for endpoint",
				"client_id", principal.ClientID,
				"endpoint", r.URL.Path,
				"token_scopes", principal.Scopes,
				"required_scopes", g.config.RequiredScopes,
				"ip", clientIP)
			g.writeInsufficientScope(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// extractBearerToken returns the token of an "Authorization: Bearer <token>" header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) {
		return "", false
	}

	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

func missingScopes(p *token.Principal, required []string) []string {
	var missing []string
	for _, s := range required {
		if !slices.Contains(p.Scopes, s) {
			missing = append(missing, s)
		}
	}
	return missing
}

func (g *Guard) writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", g.formatWWWAuthenticate("", "invalid_token"))
	g.writeJSONError(w, http.StatusUnauthorized, ErrorCodeUnauthorized)
}

func (g *Guard) writeInsufficientScope(w http.ResponseWriter) {
	scope := strings.Join(g.config.RequiredScopes, " ")
	w.Header().Set("WWW-Authenticate", g.formatWWWAuthenticate(scope, ErrorCodeInsufficientScope))
	g.writeJSONError(w, http.StatusForbidden, ErrorCodeInsufficientScope)
}

// formatWWWAuthenticate builds an RFC 6750 challenge.
func (g *Guard) formatWWWAuthenticate(scope, errCode string) string {
	params := []string{fmt.Sprintf(`realm="%s"`, quoteEscape(g.config.Realm))}
	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, quoteEscape(scope)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// quoteEscape escapes a value for an HTTP quoted-string (backslashes first)
func quoteEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func (g *Guard) writeJSONError(w http.ResponseWriter, status int, code string) {
	security.SetSecurityHeaders(w, g.config.ServerURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFromContext returns the principal stored by RequireBearer.
func PrincipalFromContext(ctx context.Context) (*token.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*token.Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal stores a principal in the context.
//
// WARNING: outside of tests the principal must only be set by RequireBearer.
func ContextWithPrincipal(ctx context.Context, p *token.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}
