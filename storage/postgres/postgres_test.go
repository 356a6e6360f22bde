package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/giantswarm/idp/storage"
)

// testStore connects to POSTGRES_TEST_DSN and skips otherwise.
// Tables are truncated before and after each test.
func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping test: POSTGRES_TEST_DSN not set")
	}

	store, err := New(Config{DSN: dsn})
	if err != nil {
		t.Skipf("Skipping test: could not connect to PostgreSQL: %v", err)
	}

	truncate := func() {
		if _, err := store.db.Exec(`TRUNCATE idp_users, idp_profiles`); err != nil {
			t.Logf("Warning: failed to truncate tables: %v", err)
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		_ = store.Close()
	})
	return store
}

func TestNew_MissingDSN(t *testing.T) {
	_, err := New(Config{})
	if err == nil || !strings.Contains(err.Error(), "dsn is required") {
		t.Errorf("New() error = %v, want dsn is required", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pq.Error{Code: uniqueViolation}, true},
		{"wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: uniqueViolation}), true},
		{"other sqlstate", &pq.Error{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserStore(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	alice := &storage.User{
		ID:           uuid.NewString(),
		Username:     "alice",
		DisplayName:  "Alice Smith",
		PasswordHash: "$2a$10$hash",
		Enabled:      true,
	}
	if err := store.CreateUser(ctx, alice); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := store.FindUserByUsername(ctx, "ALICE")
	if err != nil {
		t.Fatalf("FindUserByUsername: %v", err)
	}
	if got.ID != alice.ID || got.DisplayName != "Alice Smith" || !got.Enabled {
		t.Errorf("user not preserved: %+v", got)
	}

	byID, err := store.GetUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if byID.Username != "alice" {
		t.Errorf("Username = %q", byID.Username)
	}

	dup := &storage.User{ID: uuid.NewString(), Username: "Alice", Enabled: true}
	if err := store.CreateUser(ctx, dup); !errors.Is(err, storage.ErrUserExists) {
		t.Errorf("duplicate username error = %v, want ErrUserExists", err)
	}

	if _, err := store.FindUserByUsername(ctx, "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}

func TestProfileStore(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, p := range []*storage.Profile{
		{ID: "2", UserName: "bob", Address: "2 Side St", Contact: "bob@example.com"},
		{ID: "1", UserName: "alice", Address: "1 Main St", Contact: "alice@example.com"},
	} {
		if err := store.SaveProfile(ctx, p); err != nil {
			t.Fatalf("SaveProfile: %v", err)
		}
	}

	// replace
	if err := store.SaveProfile(ctx, &storage.Profile{ID: "2", UserName: "bob", Address: "3 New St"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	profiles, err := store.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("len(profiles) = %d, want 2", len(profiles))
	}
	if profiles[0].UserName != "alice" || profiles[1].Address != "3 New St" {
		t.Errorf("profiles = %+v, %+v", profiles[0], profiles[1])
	}
}
