package security

import (
	"testing"
	"time"
)

func TestLockoutTracker(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewLockoutTracker(LockoutConfig{MaxFailures: 3, FailureWindow: time.Minute, LockoutDuration: 10 * time.Minute})
	tracker.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if until := tracker.RecordFailure("alice"); !until.IsZero() {
			t.Fatalf("failure %d should not lock", i+1)
		}
	}
	if tracker.IsLocked("alice") {
		t.Fatal("alice should not be locked after 2 failures")
	}

	until := tracker.RecordFailure("alice")
	if !until.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("locked until = %v, want %v", until, now.Add(10*time.Minute))
	}
	if !tracker.IsLocked("alice") {
		t.Error("alice should be locked after 3 failures")
	}
	if tracker.IsLocked("bob") {
		t.Error("bob should not be locked")
	}

	now = now.Add(11 * time.Minute)
	if tracker.IsLocked("alice") {
		t.Error("lock should expire after the lockout duration")
	}
}

func TestLockoutTracker_WindowResets(t *testing.T) {
	now := time.Now()
	tracker := NewLockoutTracker(LockoutConfig{MaxFailures: 2, FailureWindow: time.Minute})
	tracker.now = func() time.Time { return now }

	tracker.RecordFailure("alice")
	now = now.Add(2 * time.Minute)
	if until := tracker.RecordFailure("alice"); !until.IsZero() {
		t.Error("failures outside the window must not accumulate")
	}
}

func TestLockoutTracker_Reset(t *testing.T) {
	tracker := NewLockoutTracker(LockoutConfig{MaxFailures: 2})
	tracker.RecordFailure("alice")
	tracker.Reset("alice")
	if until := tracker.RecordFailure("alice"); !until.IsZero() {
		t.Error("Reset should clear the failure count")
	}
}
