// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/kick-chat-monitor/db"
)

// SetupTestDB opens TEST_PG_DSN, applies the schema and clears stored configuration.
// It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.Exec(`DELETE FROM kv WHERE key IN ($1,$2)`, db.KeyTriggers, db.KeyEnabled); err != nil {
		database.Close()
		t.Fatalf("failed to clear kv: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database, dsn
}
