package store

import (
	"context"
	"os"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()

	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create badger store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// newTestPostgresStore connects to GIGCHAT_TEST_POSTGRES_URL and skips the
// test when it is unset.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("GIGCHAT_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("GIGCHAT_TEST_POSTGRES_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("failed to create postgres store: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE messages RESTART IDENTITY`); err != nil {
		t.Fatalf("failed to truncate messages: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
