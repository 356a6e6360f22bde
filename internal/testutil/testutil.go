package testutil

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// GenerateRandomString generates a URL-safe random string of n bytes of entropy
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateRSAKey returns a 2048-bit RSA key for signing test tokens
func GenerateRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	return key
}

// LogCapture is a JSON slog logger whose records can be inspected by tests.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogCapture returns a capture and a debug-level logger writing to it
func NewLogCapture() (*LogCapture, *slog.Logger) {
	c := &LogCapture{}
	return c, slog.New(slog.NewJSONHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Write implements io.Writer
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Records returns every captured record decoded as a map
func (c *LogCapture) Records() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(c.buf.Bytes()))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

// AuditEvents returns the captured security_audit records of the given event type
func (c *LogCapture) AuditEvents(eventType string) []map[string]any {
	var out []map[string]any
	for _, rec := range c.Records() {
		if rec["msg"] == "security_audit" && rec["event_type"] == eventType {
			out = append(out, rec)
		}
	}
	return out
}
