package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("LINKDECK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LINKDECK_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresItemLifecycle(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	user, err := s.EnsureUserByName(ctx, "usr_pg", "ada")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	for _, id := range []string{"cat1", "cat2", "cat3"} {
		if _, err := s.InsertItem(ctx, Item{ID: id, Kind: "faq_category", ScopeKey: user.ID, OwnerID: user.ID, Fields: map[string]string{"name": id}}, 0); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	parent := "cat2"
	if _, err := s.InsertItem(ctx, Item{ID: "q1", Kind: "faq_question", ScopeKey: parent, OwnerID: user.ID, ParentID: &parent, Fields: map[string]string{"question": "why"}}, 0); err != nil {
		t.Fatalf("insert child: %v", err)
	}

	if err := s.ReorderItems(ctx, "faq_category", user.ID, []string{"cat3", "cat1"}); !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("expected ErrOrderMismatch, got %v", err)
	}
	if err := s.ReorderItems(ctx, "faq_category", user.ID, []string{"cat3", "cat2", "cat1"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := s.DeleteItem(ctx, "faq_category", user.ID, "cat2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	items, err := s.ListItems(ctx, "faq_category", user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != "cat3" || items[1].ID != "cat1" || items[1].SortOrder != 1 {
		t.Fatalf("unexpected items after delete: %+v", items)
	}
	if _, err := s.GetItem(ctx, "q1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected child cascaded, got %v", err)
	}

	updated, err := s.UpdateItemFields(ctx, "faq_category", user.ID, "cat1", map[string]string{"name": "General"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Fields["name"] != "General" {
		t.Fatalf("unexpected fields %v", updated.Fields)
	}
}
