package server

import (
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestIsLocalURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{url: "/", want: true},
		{url: "/home", want: true},
		{url: "/connect/authorize/callback?request_id=abc", want: true},
		{url: "/path?next=https://example.com", want: true},

		{url: "", want: false},
		{url: "home", want: false},
		{url: "https://evil.example.com", want: false},
		{url: "//evil.example.com", want: false},
		{url: "/\\evil.example.com", want: false},
		{url: "/foo\\bar", want: false},
		{url: "javascript:alert(1)", want: false},
		{url: "/path\r\nLocation: https://evil.example.com", want: false},
		{url: " /home", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := IsLocalURL(tt.url); got != tt.want {
				t.Errorf("IsLocalURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestIsNativeRedirectURI(t *testing.T) {
	tests := []struct {
		uri  string
		want bool
	}{
		{uri: "https://app.example.com/cb", want: false},
		{uri: "http://127.0.0.1:7890/cb", want: false},
		{uri: "HTTPS://app.example.com/cb", want: false},
		{uri: "com.example.app:/oauth2redirect", want: true},
		{uri: "myapp://callback", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			if got := IsNativeRedirectURI(tt.uri); got != tt.want {
				t.Errorf("IsNativeRedirectURI(%q) = %v, want %v", tt.uri, got, tt.want)
			}
		})
	}
}

func TestValidateRedirectURISecurity(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		issuer  string
		wantErr bool
	}{
		{name: "https", uri: "https://app.example.com/cb", issuer: testIssuer},
		{name: "http loopback", uri: "http://127.0.0.1:8080/cb", issuer: testIssuer},
		{name: "http localhost", uri: "http://localhost/cb", issuer: testIssuer},
		{name: "http behind http issuer", uri: "http://app.internal/cb", issuer: "http://localhost:5001"},
		{name: "private-use scheme", uri: "com.example.app:/cb", issuer: testIssuer},
		{name: "http behind https issuer", uri: "http://app.example.com/cb", issuer: testIssuer, wantErr: true},
		{name: "fragment", uri: "https://app.example.com/cb#frag", issuer: testIssuer, wantErr: true},
		{name: "relative", uri: "/cb", issuer: testIssuer, wantErr: true},
		{name: "data scheme", uri: "data:text/html,hi", issuer: testIssuer, wantErr: true},
		{name: "file scheme", uri: "file:///etc/passwd", issuer: testIssuer, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateRedirectURISecurity(tt.uri, tt.issuer); (err != nil) != tt.wantErr {
				t.Errorf("validateRedirectURISecurity(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePKCE(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	plain := strings.Repeat("p", MinCodeVerifierLength)

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		wantErr   bool
	}{
		{name: "S256", challenge: challenge, method: PKCEMethodS256, verifier: verifier},
		{name: "plain", challenge: plain, method: PKCEMethodPlain, verifier: plain},
		{name: "absent method means plain", challenge: plain, method: "", verifier: plain},
		{name: "no challenge", challenge: "", method: "", verifier: ""},
		{name: "wrong verifier", challenge: challenge, method: PKCEMethodS256, verifier: oauth2.GenerateVerifier(), wantErr: true},
		{name: "missing verifier", challenge: challenge, method: PKCEMethodS256, verifier: "", wantErr: true},
		{name: "short verifier", challenge: challenge, method: PKCEMethodS256, verifier: "short", wantErr: true},
		{name: "long verifier", challenge: challenge, method: PKCEMethodS256, verifier: strings.Repeat("a", 129), wantErr: true},
		{name: "invalid characters", challenge: challenge, method: PKCEMethodS256, verifier: strings.Repeat("a", 42) + "!", wantErr: true},
		{name: "unknown method", challenge: challenge, method: "S512", verifier: verifier, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validatePKCE(tt.challenge, tt.method, tt.verifier); (err != nil) != tt.wantErr {
				t.Errorf("validatePKCE() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChallengeMethod(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		method     string
		allowPlain bool
		want       string
		wantErr    bool
	}{
		{name: "S256", method: PKCEMethodS256, want: PKCEMethodS256},
		{name: "plain refused", method: PKCEMethodPlain, wantErr: true},
		{name: "absent refused as plain", method: "", wantErr: true},
		{name: "plain allowed for client", method: PKCEMethodPlain, allowPlain: true, want: PKCEMethodPlain},
		{name: "absent allowed for client", method: "", allowPlain: true, want: PKCEMethodPlain},
		{name: "unknown", method: "S512", allowPlain: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.srv.validateChallengeMethod(tt.method, tt.allowPlain)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateChallengeMethod() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("validateChallengeMethod() = %q, want %q", got, tt.want)
			}
		})
	}
}
