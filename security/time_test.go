package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "zero never expires", expiresAt: time.Time{}, want: false},
		{name: "future", expiresAt: time.Now().Add(time.Minute), want: false},
		{name: "within grace period", expiresAt: time.Now().Add(-2 * time.Second), want: false},
		{name: "past grace period", expiresAt: time.Now().Add(-time.Minute), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsStrictlyExpired(t *testing.T) {
	if !IsStrictlyExpired(time.Now().Add(-time.Millisecond)) {
		t.Error("a past expiry must be expired without grace")
	}
	if IsStrictlyExpired(time.Now().Add(time.Minute)) {
		t.Error("a future expiry must not be expired")
	}
}
