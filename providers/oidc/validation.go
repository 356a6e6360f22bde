package oidc

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
)

var schemePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateIssuerURL validates an OIDC issuer URL with SSRF protection.
// It enforces HTTPS and blocks loopback, private and link-local IP literals.
func ValidateIssuerURL(issuerURL string) error {
	u, err := url.Parse(issuerURL)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	if u.Scheme != "https" {
		return fmt.Errorf("issuer URL must use HTTPS, got %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("issuer URL must have a hostname")
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() {
			return fmt.Errorf("issuer URL must not point to loopback addresses")
		}
		if ip.IsPrivate() {
			return fmt.Errorf("issuer URL must not point to private IP ranges")
		}
		if ip.IsLinkLocalUnicast() {
			return fmt.Errorf("issuer URL must not point to link-local addresses")
		}
	}

	return nil
}

// ValidateScheme validates a provider scheme name. Scheme names appear in
// URLs and in the "idp:" authorization hint.
func ValidateScheme(scheme string) error {
	if scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if !schemePattern.MatchString(scheme) {
		return fmt.Errorf("scheme contains invalid characters (allowed: a-z, A-Z, 0-9, _, -)")
	}
	if len(scheme) > 64 {
		return fmt.Errorf("scheme exceeds maximum length of 64 characters")
	}
	return nil
}

// ValidateScopes validates the scopes requested from the upstream provider.
func ValidateScopes(scopes []string) error {
	if len(scopes) > 50 {
		return fmt.Errorf("too many scopes (max 50, got %d)", len(scopes))
	}

	for i, scope := range scopes {
		if scope == "" {
			return fmt.Errorf("scope at index %d is empty", i)
		}
		if len(scope) > 256 {
			return fmt.Errorf("scope at index %d exceeds maximum length of 256 characters", i)
		}
	}

	return nil
}
