package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimitCleanupInterval = 5 * time.Minute
	defaultRateLimitIdleTimeout     = 30 * time.Minute
	defaultRateLimitMaxEntries      = 10000
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier rate limiting using a token bucket per identifier.
type RateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	rate        rate.Limit
	burst       int
	maxEntries  int
	idleTimeout time.Duration
	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// RateLimiterStats reports the limiter's current footprint
type RateLimiterStats struct {
	CurrentEntries int
	MaxEntries     int
}

// NewRateLimiter creates a new rate limiter with automatic cleanup of idle identifiers.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		limiters:    make(map[string]*limiterEntry),
		rate:        rate.Limit(requestsPerSecond),
		burst:       burst,
		maxEntries:  defaultRateLimitMaxEntries,
		idleTimeout: defaultRateLimitIdleTimeout,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop(defaultRateLimitCleanupInterval)
	return rl
}

// Allow checks if a request from the given identifier is allowed.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	entry, ok := rl.limiters[identifier]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			rl.evictOldestLocked()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[identifier] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// evictOldestLocked drops the least recently used identifier. Caller holds mu.
func (rl *RateLimiter) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range rl.limiters {
		if oldestID == "" || e.lastAccess.Before(oldest) {
			oldestID, oldest = id, e.lastAccess
		}
	}
	delete(rl.limiters, oldestID)
}

// Cleanup removes identifiers idle for longer than the idle timeout.
func (rl *RateLimiter) Cleanup() {
	cutoff := time.Now().Add(-rl.idleTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, e := range rl.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(rl.limiters, id)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("Cleaned up idle rate limiters", "removed", removed, "remaining", len(rl.limiters))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Stats returns the number of tracked identifiers.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateLimiterStats{CurrentEntries: len(rl.limiters), MaxEntries: rl.maxEntries}
}

// Stop stops the background cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
