package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, id, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE display_name = $1`, name).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, created_at
	`, id, name).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const itemColumns = `id, kind, scope_key, owner_id, parent_id, sort_order, fields, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		item     Item
		parentID sql.NullString
		fields   []byte
	)
	if err := row.Scan(&item.ID, &item.Kind, &item.ScopeKey, &item.OwnerID, &parentID, &item.SortOrder, &fields, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	if parentID.Valid {
		item.ParentID = &parentID.String
	}
	item.Fields = map[string]string{}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &item.Fields); err != nil {
			return Item{}, fmt.Errorf("decode fields of %s: %w", item.ID, err)
		}
	}
	return item, nil
}

func (s *PostgresStore) ListItems(ctx context.Context, kind, scopeKey string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM collection_items
		WHERE kind = $1 AND scope_key = $2
		ORDER BY sort_order ASC, created_at ASC
	`, kind, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListAll returns every item, used for search reindexing.
func (s *PostgresStore) ListAll(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM collection_items
		ORDER BY kind, scope_key, sort_order
	`)
	if err != nil {
		return nil, fmt.Errorf("list all items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM collection_items WHERE id = $1`, id)
	return scanItem(row)
}

func (s *PostgresStore) CountItems(ctx context.Context, kind, scopeKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collection_items WHERE kind = $1 AND scope_key = $2`, kind, scopeKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// lockScope serializes writers of one scope for the rest of tx.
func lockScope(ctx context.Context, tx *sql.Tx, kind, scopeKey string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, kind+":"+scopeKey); err != nil {
		return fmt.Errorf("lock scope: %w", err)
	}
	return nil
}

// InsertItem appends item to its scope: sort_order is the scope length at
// insert time, whatever item.SortOrder says. A positive maxItems caps the
// scope length and yields ErrScopeFull.
func (s *PostgresStore) InsertItem(ctx context.Context, item Item, maxItems int) (Item, error) {
	encoded, err := json.Marshal(item.Fields)
	if err != nil {
		return Item{}, fmt.Errorf("encode fields: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockScope(ctx, tx, item.Kind, item.ScopeKey); err != nil {
		return Item{}, err
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM collection_items WHERE kind = $1 AND scope_key = $2`, item.Kind, item.ScopeKey).Scan(&count); err != nil {
		return Item{}, fmt.Errorf("count scope: %w", err)
	}
	if maxItems > 0 && count >= maxItems {
		return Item{}, ErrScopeFull
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO collection_items (id, kind, scope_key, owner_id, parent_id, sort_order, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING `+itemColumns,
		item.ID, item.Kind, item.ScopeKey, item.OwnerID, item.ParentID, count, string(encoded))
	created, err := scanItem(row)
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Item{}, fmt.Errorf("commit insert: %w", err)
	}
	return created, nil
}

// UpdateItemFields replaces the fields of one item of the scope. A missing
// item yields sql.ErrNoRows.
func (s *PostgresStore) UpdateItemFields(ctx context.Context, kind, scopeKey, id string, fields map[string]string) (Item, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return Item{}, fmt.Errorf("encode fields: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE collection_items
		SET fields = $4::jsonb, updated_at = NOW()
		WHERE kind = $1 AND scope_key = $2 AND id = $3
		RETURNING `+itemColumns,
		kind, scopeKey, id, string(encoded))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, err
	}
	if err != nil {
		return Item{}, fmt.Errorf("update item: %w", err)
	}
	return item, nil
}

// DeleteItem removes one item, its children through the parent_id cascade,
// and closes the gap it leaves in the scope's sort_order.
func (s *PostgresStore) DeleteItem(ctx context.Context, kind, scopeKey, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockScope(ctx, tx, kind, scopeKey); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM collection_items WHERE kind = $1 AND scope_key = $2 AND id = $3`, kind, scopeKey, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete item rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE collection_items c
		SET sort_order = r.position
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY sort_order, created_at) - 1 AS position
			FROM collection_items
			WHERE kind = $1 AND scope_key = $2
		) r
		WHERE c.id = r.id AND c.sort_order <> r.position
	`, kind, scopeKey); err != nil {
		return fmt.Errorf("compact sort order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// ReorderItems assigns sort_order = position in ids. ids must be exactly the
// scope's ids, otherwise ErrOrderMismatch.
func (s *PostgresStore) ReorderItems(ctx context.Context, kind, scopeKey string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockScope(ctx, tx, kind, scopeKey); err != nil {
		return err
	}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM collection_items WHERE kind = $1 AND scope_key = $2`, kind, scopeKey)
	if err != nil {
		return fmt.Errorf("list scope ids: %w", err)
	}
	current := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan scope id: %w", err)
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate scope ids: %w", err)
	}
	if !sameIDSet(current, ids) {
		return fmt.Errorf("%w: got [%s]", ErrOrderMismatch, strings.Join(ids, ","))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE collection_items c
		SET sort_order = o.position - 1, updated_at = NOW()
		FROM unnest($3::text[]) WITH ORDINALITY AS o(id, position)
		WHERE c.id = o.id AND c.kind = $1 AND c.scope_key = $2
	`, kind, scopeKey, ids); err != nil {
		return fmt.Errorf("reorder items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}
