package chatlog

import (
	"context"
	"os"
	"testing"
	"time"
)

// openTestPostgres returns a migrated, empty store or skips when no database
// is configured.
func openTestPostgres(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	t.Cleanup(func() {
		s.Clear(context.Background())
		s.Close()
	})
	return s
}

func TestPostgresStore(t *testing.T) {
	runStoreTests(t, openTestPostgres)
}

func TestPostgresStore_MigrateIdempotent(t *testing.T) {
	openTestPostgres(t)
	if err := Migrate(os.Getenv("DATABASE_URL")); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
