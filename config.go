package idp

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultSessionCookieName is the cookie carrying the session id
const DefaultSessionCookieName = "idp.session"

// Config holds the HTTP adapter configuration.
// Protocol policy (TTLs, login options, PKCE) lives in server.Config.
type Config struct {
	// SessionCookie controls the cookie that carries the session id
	SessionCookie SessionCookieConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// SessionCookieConfig holds the session cookie attributes
type SessionCookieConfig struct {
	// Name is the cookie name.
	// Default: "idp.session"
	Name string

	// Domain optionally widens the cookie to a parent domain
	Domain string

	// Path scopes the cookie.
	// Default: "/"
	Path string

	// Secure marks the cookie HTTPS only.
	// Default: true when the issuer is https
	Secure *bool

	// SameSite is the cookie SameSite mode.
	// Default: Lax, so the cookie survives top-level redirects from clients
	SameSite http.SameSite
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP on the token and login
	// endpoints. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// CleanupInterval is how often to cleanup inactive rate limiters.
	CleanupInterval time.Duration

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies between clients and the server
	TrustedProxyCount int
}

// applyDefaults fills zero values. issuer decides the Secure default.
func (c *Config) applyDefaults(issuer string) {
	if c.SessionCookie.Name == "" {
		c.SessionCookie.Name = DefaultSessionCookieName
	}
	if c.SessionCookie.Path == "" {
		c.SessionCookie.Path = "/"
	}
	if c.SessionCookie.SameSite == 0 {
		c.SessionCookie.SameSite = http.SameSiteLaxMode
	}
	if c.SessionCookie.Secure == nil {
		secure := false
		if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
			secure = true
		}
		c.SessionCookie.Secure = &secure
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = c.RateLimit.Rate * 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
