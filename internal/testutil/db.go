package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/xxxsen/convorag/internal/config"
	"github.com/xxxsen/convorag/internal/db"
)

// OpenTestDB connects to the Postgres named by TEST_DB_HOST and applies the
// migrations. Tests are skipped when it is unset.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     envOr("TEST_DB_USER", "convorag"),
		Password: envOr("TEST_DB_PASSWORD", "convorag_pass"),
		DBName:   envOr("TEST_DB_NAME", "convorag_test"),
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(ctx, conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
