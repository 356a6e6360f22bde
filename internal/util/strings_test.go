package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "longer than max", input: "very-long-token-abc123", maxLen: 8, want: "very-lon"},
		{name: "shorter than max", input: "short", maxLen: 10, want: "short"},
		{name: "exact length", input: "exact", maxLen: 5, want: "exact"},
		{name: "negative max", input: "test", maxLen: -1, want: ""},
		{name: "empty input", input: "", maxLen: 4, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	if got := NormalizeURL("https://localhost:7000///"); got != "https://localhost:7000" {
		t.Errorf("NormalizeURL() = %q", got)
	}
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "whitespace only", input: "   ", want: nil},
		{name: "single", input: "api1", want: []string{"api1"}},
		{name: "multiple with extra spaces", input: " openid  profile api1 ", want: []string{"openid", "profile", "api1"}},
		{name: "duplicates removed", input: "api1 openid api1", want: []string{"api1", "openid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseScopes(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScopes(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestJoinScopes(t *testing.T) {
	if got := JoinScopes([]string{"openid", "api1"}); got != "openid api1" {
		t.Errorf("JoinScopes() = %q", got)
	}
}
