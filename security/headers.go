package security

import (
	"net/http"
	"net/url"
	"strings"
)

// SetSecurityHeaders sets security headers for JSON and redirect responses.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	setCommonHeaders(w, serverURL)
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
}

// SetPageSecurityHeaders sets security headers for the HTML pages served to browsers.
// frameSources lists origins the page may embed (front-channel sign-out iframes).
func SetPageSecurityHeaders(w http.ResponseWriter, serverURL string, frameSources ...string) {
	setCommonHeaders(w, serverURL)
	w.Header().Set("X-Frame-Options", "DENY")

	csp := "default-src 'none'; style-src 'unsafe-inline'; form-action 'self' *; frame-ancestors 'none'"
	if len(frameSources) > 0 {
		csp += "; frame-src " + strings.Join(frameSources, " ")
	}
	w.Header().Set("Content-Security-Policy", csp)
}

func setCommonHeaders(w http.ResponseWriter, serverURL string) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
