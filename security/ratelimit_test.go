package security

import (
	"log/slog"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 3, slog.Default())
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("Allow() request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Allow() should reject once the burst is exhausted")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Allow() should track identifiers independently")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	defer rl.Stop()

	rl.Allow("stale")
	rl.Allow("fresh")

	rl.mu.Lock()
	rl.limiters["stale"].lastAccess = time.Now().Add(-2 * rl.idleTimeout)
	rl.mu.Unlock()

	rl.Cleanup()

	if got := rl.Stats().CurrentEntries; got != 1 {
		t.Errorf("CurrentEntries = %d, want 1", got)
	}
}

func TestRateLimiter_EvictsWhenFull(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	defer rl.Stop()
	rl.maxEntries = 2

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("c")

	if got := rl.Stats().CurrentEntries; got != 2 {
		t.Errorf("CurrentEntries = %d, want 2", got)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
