package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// DangerousSchemes lists URI schemes that must never be allowed for security
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	rfc3986Scheme = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)
)

// validateHTTPSEnforcement refuses a plain-HTTP issuer outside localhost
// unless AllowInsecureHTTP is set.
func (s *Server) validateHTTPSEnforcement() error {
	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
		hostname := issuerURL.Hostname()
		if isLocalhostHostname(hostname) {
			if !s.Config.AllowInsecureHTTP {
				s.Logger.Warn("DEVELOPMENT WARNING: Running the identity provider over HTTP on localhost",
					"issuer", s.Config.Issuer,
					"to_suppress", "Set AllowInsecureHTTP=true in Config")
			}
			return nil
		}
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf("issuer must use HTTPS (got %s://%s); set AllowInsecureHTTP=true only for local testing",
				issuerURL.Scheme, hostname)
		}
		s.Logger.Error("CRITICAL SECURITY WARNING: Running the identity provider over HTTP",
			"issuer", s.Config.Issuer,
			"risk", "Credentials, codes and tokens exposed to network sniffing")
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// isLocalhostHostname checks if a hostname refers to the local machine,
// including the whole 127.0.0.0/8 range and ::1.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	if ip := net.ParseIP(strings.Trim(hostname, "[]")); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// IsLocalURL reports whether u is a same-origin path that may be followed
// after login: it starts with a single "/" and carries no scheme, host or
// backslash trick that browsers would resolve to another origin.
func IsLocalURL(u string) bool {
	if u == "" || u[0] != '/' {
		return false
	}
	if len(u) > 1 && (u[1] == '/' || u[1] == '\\') {
		return false
	}
	for _, r := range u {
		if r == '\\' || r < 0x20 || r == 0x7f {
			return false
		}
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme == "" && parsed.Host == ""
}

// IsNativeRedirectURI reports whether a redirect URI belongs to a native
// client: anything that is not an http(s) URL.
func IsNativeRedirectURI(redirectURI string) bool {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return scheme != SchemeHTTP && scheme != SchemeHTTPS
}

// validateRedirectURISecurity validates a redirect URI at client registration
// per OAuth 2.0 Security BCP.
func validateRedirectURISecurity(redirectURI, serverIssuer string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
		if isLocalhostHostname(parsed.Hostname()) {
			return nil
		}
		if issuer, err := url.Parse(serverIssuer); err == nil && issuer.Scheme == SchemeHTTPS {
			return fmt.Errorf("redirect_uri must use HTTPS (got %s://)", scheme)
		}
		return nil
	case "":
		return fmt.Errorf("redirect_uri must be absolute")
	default:
		if slices.Contains(DangerousSchemes, scheme) {
			return fmt.Errorf("redirect_uri scheme '%s' is not allowed for security reasons", scheme)
		}
		if !rfc3986Scheme.MatchString(scheme) {
			return fmt.Errorf("redirect_uri scheme '%s' is not a valid URI scheme", scheme)
		}
		return nil
	}
}

// pkceRequired reports whether an authorization request by client must carry a challenge.
func (s *Server) pkceRequired(requireForClient bool) bool {
	return s.Config.RequirePKCE || requireForClient
}

// validateChallengeMethod validates the code_challenge_method of an
// authorization request. An absent method means "plain" (RFC 7636 4.3).
func (s *Server) validateChallengeMethod(method string, allowPlainForClient bool) (string, error) {
	if method == "" {
		method = PKCEMethodPlain
	}
	switch method {
	case PKCEMethodS256:
		return method, nil
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain && !allowPlainForClient {
			return "", fmt.Errorf("'plain' code_challenge_method is not allowed")
		}
		return method, nil
	default:
		return "", fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters", MaxCodeVerifierLength)
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain, "":
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
