package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping migration test")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cleanDatabase(t, context.Background(), db)
	return db
}

func cleanDatabase(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	for _, stmt := range []string{`DROP TABLE IF EXISTS kv`, `DROP TABLE IF EXISTS schema_migrations`} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("clean: %v", err)
		}
	}
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_name = $1
	)`, table).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return exists
}

func TestRunMigrations(t *testing.T) {
	db := openTestDB(t)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if !tableExists(t, db, "kv") {
		t.Fatal("kv does not exist after migration")
	}

	version, dirty, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Errorf("version = %d dirty = %v, want >= 1 clean", version, dirty)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("first RunMigrations() error = %v", err)
	}
	v1, _, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	v2, _, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Errorf("version changed: %d -> %d", v1, v2)
	}
}

func TestMigrationUpDown(t *testing.T) {
	db := openTestDB(t)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := MigrateDown(db); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "kv") {
		t.Fatal("kv still exists after rolling back")
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() after rollback error = %v", err)
	}
	if !tableExists(t, db, "kv") {
		t.Fatal("kv missing after re-apply")
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("found %d migration files, want an up/down pair", len(entries))
	}
}
