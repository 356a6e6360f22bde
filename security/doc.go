// Package security provides the security building blocks of the identity provider:
// audit events, per-client rate limiting, the login lockout gate, security headers,
// request ids, client IP extraction, encryption at rest and clock-skew helpers.
//
// # Audit Events
//
// The Auditor writes one structured "security_audit" record per event. User
// identifiers are hashed before logging; usernames submitted to the login form
// are logged only as hashes as well.
//
// # Rate Limiting
//
// The RateLimiter keeps one token bucket per identifier (usually the client IP)
// and evicts buckets that have been idle for longer than the idle timeout.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    return http.StatusTooManyRequests
//	}
//
// # Lockout
//
// The LockoutTracker counts consecutive credential failures per username inside a
// sliding window and locks the username for a fixed duration once the threshold is hit.
// It is consulted as a boolean gate before any password hash is compared.
package security
