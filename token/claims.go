package token

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenType is the JOSE "typ" header of access tokens (RFC 9068).
const AccessTokenType = "at+jwt"

// AccessClaims are the claims of an access token. Subject is empty for
// client-credentials tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scope    []string `json:"scope,omitempty"`
	AuthTime int64    `json:"auth_time,omitempty"`
	IdP      string   `json:"idp,omitempty"`
	AMR      []string `json:"amr,omitempty"`
}

// IDClaims are the claims of an identity token.
type IDClaims struct {
	jwt.RegisteredClaims
	Nonce    string   `json:"nonce,omitempty"`
	AuthTime int64    `json:"auth_time,omitempty"`
	IdP      string   `json:"idp,omitempty"`
	AMR      []string `json:"amr,omitempty"`
	Name     string   `json:"name,omitempty"`
}

// Principal is the authenticated caller of a resource API request.
type Principal struct {
	Subject  string
	ClientID string
	Scopes   []string
	Claims   *AccessClaims
}

// HasScope reports whether the token was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// IsClient reports whether the token was issued to a client with no user.
func (p *Principal) IsClient() bool {
	return p.Subject == ""
}
