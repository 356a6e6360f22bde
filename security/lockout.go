package security

import (
	"sync"
	"time"
)

// LockoutConfig configures the login lockout gate.
type LockoutConfig struct {
	// MaxFailures is the number of consecutive failures that lock a username (default: 5)
	MaxFailures int

	// FailureWindow is the window in which failures are counted (default: 15m)
	FailureWindow time.Duration

	// LockoutDuration is how long a username stays locked (default: 15m)
	LockoutDuration time.Duration
}

// DefaultLockoutConfig returns the default lockout configuration.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxFailures:     5,
		FailureWindow:   15 * time.Minute,
		LockoutDuration: 15 * time.Minute,
	}
}

type lockoutEntry struct {
	failures    int
	firstFailed time.Time
	lockedUntil time.Time
}

// LockoutTracker counts credential failures per username in memory.
type LockoutTracker struct {
	mu      sync.Mutex
	config  LockoutConfig
	entries map[string]*lockoutEntry
	now     func() time.Time
}

// NewLockoutTracker creates a tracker. Zero config values take defaults.
func NewLockoutTracker(config LockoutConfig) *LockoutTracker {
	defaults := DefaultLockoutConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = defaults.MaxFailures
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = defaults.FailureWindow
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = defaults.LockoutDuration
	}
	return &LockoutTracker{
		config:  config,
		entries: make(map[string]*lockoutEntry),
		now:     time.Now,
	}
}

// IsLocked reports whether the username is currently locked.
func (t *LockoutTracker) IsLocked(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[username]
	if !ok {
		return false
	}
	return t.now().Before(e.lockedUntil)
}

// RecordFailure counts a failure and returns the lock expiry when this failure
// locked the username, or the zero time otherwise.
func (t *LockoutTracker) RecordFailure(username string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.entries[username]
	if !ok || now.Sub(e.firstFailed) > t.config.FailureWindow {
		e = &lockoutEntry{firstFailed: now}
		t.entries[username] = e
	}
	e.failures++
	if e.failures >= t.config.MaxFailures {
		e.lockedUntil = now.Add(t.config.LockoutDuration)
		e.failures = 0
		e.firstFailed = now
		return e.lockedUntil
	}
	return time.Time{}
}

// Reset clears the failure count after a successful login.
func (t *LockoutTracker) Reset(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, username)
}
