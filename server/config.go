package server

import (
	"log/slog"
	"time"
)

// Config holds the identity provider's core configuration.
type Config struct {
	// Issuer is the identity provider's issuer identifier (base URL)
	Issuer string

	// Audience is the "aud" claim placed in access tokens (e.g., "api1")
	Audience string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 300 (5 minutes)

	// AuthorizationContextTTL is how long a pending authorization request waits for a login
	AuthorizationContextTTL int64 // seconds, default: 900 (15 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// IDTokenTTL is how long identity tokens are valid
	IDTokenTTL int64 // seconds, default: 300 (5 minutes)

	// SessionTTL is the lifetime of a transient (not remembered) session
	SessionTTL int64 // seconds, default: 28800 (8 hours)

	// LogoutContextTTL is how long a logout context survives the redirect round-trip
	LogoutContextTTL int64 // seconds, default: 600 (10 minutes)

	// ExternalLoginTTL is how long a redirect to an external provider may take
	ExternalLoginTTL int64 // seconds, default: 600 (10 minutes)

	// AllowLocalLogin enables the username/password form globally.
	// Clients can disable it for themselves but never enable it when this is off.
	// Default: true
	AllowLocalLogin bool

	// AllowRememberLogin lets users opt in to a persistent session
	// Default: true
	AllowRememberLogin bool

	// RememberMeLoginDuration is the lifetime of a remembered session
	RememberMeLoginDuration int64 // seconds, default: 2592000 (30 days)

	// ShowLogoutPrompt asks authenticated users to confirm sign-out.
	// Requests from a validated client skip the prompt regardless.
	// Default: true
	ShowLogoutPrompt bool

	// AutomaticRedirectAfterSignOut sends the browser to the client's
	// post-logout redirect URI without showing the logged-out page
	// Default: false
	AutomaticRedirectAfterSignOut bool

	// AllowRegistration enables self-service local user registration
	// Default: false
	AllowRegistration bool

	// RequirePKCE enforces PKCE for every authorization request, in addition to
	// clients that require it themselves
	// Default: true
	RequirePKCE bool

	// AllowPKCEPlain allows the 'plain' code_challenge_method for every client
	// WARNING: The 'plain' method offers no protection if the request is observed
	// Default: false
	AllowPKCEPlain bool

	// AllowInsecureHTTP allows a non-localhost http:// issuer
	// WARNING: Only for test environments behind a TLS-terminating proxy you control
	// Default: false
	AllowInsecureHTTP bool

	// DefaultRedirect is where a login without return URL lands
	// Default: "/"
	DefaultRedirect string

	// LockoutMaxFailures is the number of consecutive failures that lock a username.
	// Negative disables lockout.
	LockoutMaxFailures int // default: 5

	// LockoutWindow is the window in which failures are counted
	LockoutWindow int64 // seconds, default: 900 (15 minutes)

	// LockoutDuration is how long a username stays locked
	LockoutDuration int64 // seconds, default: 900 (15 minutes)

	// ClockSkewGracePeriod is the leeway applied to expiry checks
	ClockSkewGracePeriod int64 // seconds, default: 5
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	config := &Config{}
	applyTimeDefaults(config)
	applyPolicyDefaults(config)
	return config
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)

	// Heuristic: if every policy flag is false the config is fresh, not explicit
	isDefaultConfig := !config.AllowLocalLogin &&
		!config.AllowRememberLogin &&
		!config.ShowLogoutPrompt &&
		!config.AutomaticRedirectAfterSignOut &&
		!config.AllowRegistration &&
		!config.RequirePKCE &&
		!config.AllowPKCEPlain

	if isDefaultConfig {
		applyPolicyDefaults(config)
		return config
	}

	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 300
	}
	if config.AuthorizationContextTTL == 0 {
		config.AuthorizationContextTTL = 900
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600
	}
	if config.IDTokenTTL == 0 {
		config.IDTokenTTL = 300
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = 28800
	}
	if config.RememberMeLoginDuration == 0 {
		config.RememberMeLoginDuration = 2592000
	}
	if config.LogoutContextTTL == 0 {
		config.LogoutContextTTL = 600
	}
	if config.ExternalLoginTTL == 0 {
		config.ExternalLoginTTL = 600
	}
	if config.LockoutMaxFailures == 0 {
		config.LockoutMaxFailures = 5
	}
	if config.LockoutWindow == 0 {
		config.LockoutWindow = 900
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = 900
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.DefaultRedirect == "" {
		config.DefaultRedirect = "/"
	}
}

func applyPolicyDefaults(config *Config) {
	config.AllowLocalLogin = true
	config.AllowRememberLogin = true
	config.ShowLogoutPrompt = true
	config.RequirePKCE = true
	config.AutomaticRedirectAfterSignOut = false
	config.AllowRegistration = false
	config.AllowPKCEPlain = false
}

// logSecurityWarnings logs warnings for weakened settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is only enforced for clients that require it",
			"risk", "Authorization code interception attacks",
			"recommendation", "Set RequirePKCE=true")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if config.AllowRegistration {
		logger.Warn("SECURITY NOTICE: Self-service registration is ENABLED",
			"risk", "Anyone who can reach the login page can create a local account")
	}
	if config.LockoutMaxFailures < 0 {
		logger.Warn("SECURITY WARNING: Account lockout is DISABLED",
			"risk", "Online password guessing",
			"recommendation", "Set LockoutMaxFailures to a positive value")
	}
	if config.RememberMeLoginDuration > 90*24*3600 {
		logger.Warn("SECURITY NOTICE: Remembered sessions last longer than 90 days",
			"remember_me_login_duration", (time.Duration(config.RememberMeLoginDuration) * time.Second).String())
	}
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
