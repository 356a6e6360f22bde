package storage

import (
	"fmt"
	"strings"
)

const externalSourcePrefix = "external:"

// AuthenticationSource records how a session was authenticated: either
// locally with credentials or through a named external identity provider scheme.
// The zero value is the local source.
type AuthenticationSource struct {
	scheme string
}

// LocalSource is the source for sessions established with local credentials.
func LocalSource() AuthenticationSource {
	return AuthenticationSource{}
}

// ExternalSource is the source for sessions established through scheme.
func ExternalSource(scheme string) AuthenticationSource {
	return AuthenticationSource{scheme: scheme}
}

// IsLocal reports whether the source is local credentials.
func (s AuthenticationSource) IsLocal() bool {
	return s.scheme == ""
}

// ExternalScheme returns the external scheme name and true for external sources.
func (s AuthenticationSource) ExternalScheme() (string, bool) {
	return s.scheme, s.scheme != ""
}

// String returns "local" or "external:<scheme>".
func (s AuthenticationSource) String() string {
	if s.IsLocal() {
		return "local"
	}
	return externalSourcePrefix + s.scheme
}

// MarshalText implements encoding.TextMarshaler.
func (s AuthenticationSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *AuthenticationSource) UnmarshalText(text []byte) error {
	v := string(text)
	switch {
	case v == "" || v == "local":
		*s = LocalSource()
	case strings.HasPrefix(v, externalSourcePrefix) && len(v) > len(externalSourcePrefix):
		*s = ExternalSource(strings.TrimPrefix(v, externalSourcePrefix))
	default:
		return fmt.Errorf("invalid authentication source %q", v)
	}
	return nil
}
