package security

import "time"

// DefaultClockSkewGracePeriod is the tolerance applied to expiry checks of
// records exchanged between parties whose clocks may drift.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks if a record is expired with the default clock skew grace period.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks if a record is expired with a custom grace period.
// A zero expiry never expires.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

// IsStrictlyExpired checks expiry without any grace period. Used for sessions,
// which must never outlive their declared expiry.
func IsStrictlyExpired(expiresAt time.Time) bool {
	return !time.Now().Before(expiresAt)
}
