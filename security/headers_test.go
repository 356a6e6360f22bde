package security

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		wantHSTS  bool
	}{
		{name: "https sets HSTS", serverURL: "https://idp.example.com", wantHSTS: true},
		{name: "http omits HSTS", serverURL: "http://localhost:7000", wantHSTS: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.serverURL)

			if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
				t.Errorf("X-Frame-Options = %q", got)
			}
			if got := w.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
				t.Errorf("Cache-Control = %q", got)
			}
			if got := w.Header().Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS set = %v, want %v", got, tt.wantHSTS)
			}
		})
	}
}

func TestSetPageSecurityHeaders_FrameSources(t *testing.T) {
	w := httptest.NewRecorder()
	SetPageSecurityHeaders(w, "https://idp.example.com", "https://app.example.com")

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-src https://app.example.com") {
		t.Errorf("CSP = %q, want frame-src for sign-out iframe", csp)
	}
}
