package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("LINKDECK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LINKDECK_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()
	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("first up: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("a fresh schema should apply every migration")
	}
	if again, err := ApplyMigrations(ctx, db, migrationsDir); err != nil || len(again) != 0 {
		t.Fatalf("second up should be a no-op, got %v %v", again, err)
	}
	assertTable(ctx, t, db, "collection_items", true)

	if err := rollbackAll(ctx, db); err != nil {
		t.Fatalf("down: %v", err)
	}
	assertTable(ctx, t, db, "collection_items", false)

	if _, err := db.ExecContext(ctx, `TRUNCATE schema_migrations`); err != nil {
		t.Fatalf("forget applied versions: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("up after down: %v", err)
	}
	assertTable(ctx, t, db, "collection_items", true)
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func assertTable(ctx context.Context, t *testing.T, db *sql.DB, name string, want bool) {
	t.Helper()
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+name).Scan(&exists); err != nil {
		t.Fatalf("look up %s: %v", name, err)
	}
	if exists != want {
		t.Fatalf("table %s exists=%v, want %v", name, exists, want)
	}
}

// rollbackAll runs the down file of every up migration, newest first.
func rollbackAll(ctx context.Context, db *sql.DB) error {
	ups, err := upMigrations(migrationsDir)
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ups)))
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		contents, err := os.ReadFile(filepath.Join(migrationsDir, down))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("%s: %w", down, err)
		}
	}
	return nil
}
