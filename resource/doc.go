// Package resource implements the resource API that trusts bearer tokens
// issued by the identity provider.
//
// The [Guard] validates "Authorization: Bearer <token>" with an [Authenticator]
// (normally a *token.Verifier). Any failure, whether a bad signature, an
// expired token or a missing header, yields the same response:
//
//	HTTP/1.1 401 Unauthorized
//	WWW-Authenticate: Bearer realm="api", error="invalid_token"
//
//	{"error":"unauthorized"}
//
// A valid token lacking a configured scope gets 403 insufficient_scope.
//
// Routes:
//
//	GET /api/users     -> {"data":[{"userName":"...","address":"...","contact":"..."}]}
//	GET /api/identity  -> [{"type":"sub","value":"..."}, ...]
package resource
