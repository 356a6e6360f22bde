// Package token mints and verifies the identity provider's JWTs.
//
// Access tokens are RS256-signed, carry the "at+jwt" type header and are fully
// self-describing: nothing is persisted and a token expires by its "exp" claim alone.
// Identity tokens are minted for authorization-code exchanges that request "openid".
//
// The Verifier is the resource guard's view of a token. Every failure is reported as
// ErrUnauthorized so callers cannot tell a bad signature from an expired token; the
// failing check is logged at debug level.
package token
