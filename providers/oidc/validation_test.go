package oidc

import (
	"strings"
	"testing"
)

func TestValidateIssuerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
		errMsg  string
	}{
		{name: "valid HTTPS URL", url: "https://sso.example.com"},
		{name: "valid HTTPS URL with port", url: "https://sso.example.com:8443"},
		{name: "valid HTTPS URL with path", url: "https://login.example.com/tenant/v2.0"},
		{name: "localhost hostname is not an IP literal", url: "https://localhost"},

		{name: "reject HTTP", url: "http://sso.example.com", wantErr: true, errMsg: "must use HTTPS"},
		{name: "reject IPv4 loopback", url: "https://127.0.0.1", wantErr: true, errMsg: "loopback"},
		{name: "reject IPv6 loopback", url: "https://[::1]", wantErr: true, errMsg: "loopback"},
		{name: "reject private 10.0.0.0/8", url: "https://10.0.0.1", wantErr: true, errMsg: "private IP"},
		{name: "reject private 192.168.0.0/16", url: "https://192.168.1.1", wantErr: true, errMsg: "private IP"},
		{name: "reject metadata service", url: "https://169.254.169.254", wantErr: true, errMsg: "link-local"},
		{name: "reject malformed URL", url: "not a url", wantErr: true, errMsg: "must use HTTPS"},
		{name: "reject empty hostname", url: "https://", wantErr: true, errMsg: "must have a hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIssuerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateIssuerURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidateIssuerURL() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestValidateScheme(t *testing.T) {
	tests := []struct {
		name    string
		scheme  string
		wantErr bool
	}{
		{name: "lowercase", scheme: "oidc"},
		{name: "hyphen and underscore", scheme: "corp-sso_2"},
		{name: "max length", scheme: strings.Repeat("a", 64)},
		{name: "empty", scheme: "", wantErr: true},
		{name: "colon", scheme: "idp:oidc", wantErr: true},
		{name: "dot", scheme: "sso.example", wantErr: true},
		{name: "space", scheme: "corp sso", wantErr: true},
		{name: "too long", scheme: strings.Repeat("a", 65), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateScheme(tt.scheme); (err != nil) != tt.wantErr {
				t.Errorf("ValidateScheme(%q) error = %v, wantErr %v", tt.scheme, err, tt.wantErr)
			}
		})
	}
}

func TestValidateScopes(t *testing.T) {
	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = "scope"
	}

	tests := []struct {
		name    string
		scopes  []string
		wantErr bool
	}{
		{name: "default scopes", scopes: []string{"openid", "profile", "email"}},
		{name: "empty", scopes: nil},
		{name: "max length scope", scopes: []string{strings.Repeat("a", 256)}},
		{name: "empty scope", scopes: []string{"openid", ""}, wantErr: true},
		{name: "too many", scopes: tooMany, wantErr: true},
		{name: "scope too long", scopes: []string{strings.Repeat("a", 257)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateScopes(tt.scopes); (err != nil) != tt.wantErr {
				t.Errorf("ValidateScopes() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
