package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps items in process with the semantics of PostgresStore. It
// backs tests and the local demo mode of the CLI.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]User
	items map[string]Item
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		items: make(map[string]Item),
		now:   time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) EnsureUserByName(_ context.Context, id, name string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.DisplayName == name {
			return u, nil
		}
	}
	u := User{ID: id, DisplayName: name, CreatedAt: s.now()}
	s.users[id] = u
	return u, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *MemoryStore) scopeLocked(kind, scopeKey string) []Item {
	var out []Item
	for _, it := range s.items {
		if it.Kind == kind && it.ScopeKey == scopeKey {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListItems(_ context.Context, kind, scopeKey string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope := s.scopeLocked(kind, scopeKey)
	out := make([]Item, len(scope))
	for i, it := range scope {
		out[i] = it.clone()
	}
	return out, nil
}

func (s *MemoryStore) ListAll(context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.ScopeKey != b.ScopeKey {
			return a.ScopeKey < b.ScopeKey
		}
		return a.SortOrder < b.SortOrder
	})
	return out, nil
}

func (s *MemoryStore) GetItem(_ context.Context, id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, sql.ErrNoRows
	}
	return it.clone(), nil
}

func (s *MemoryStore) CountItems(_ context.Context, kind, scopeKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopeLocked(kind, scopeKey)), nil
}

func (s *MemoryStore) InsertItem(_ context.Context, item Item, maxItems int) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.scopeLocked(item.Kind, item.ScopeKey))
	if maxItems > 0 && count >= maxItems {
		return Item{}, ErrScopeFull
	}
	if _, exists := s.items[item.ID]; exists {
		return Item{}, fmt.Errorf("insert item: duplicate id %s", item.ID)
	}
	if item.ParentID != nil {
		if _, ok := s.items[*item.ParentID]; !ok {
			return Item{}, fmt.Errorf("insert item: parent %s does not exist", *item.ParentID)
		}
	}
	created := item.clone()
	if created.Fields == nil {
		created.Fields = map[string]string{}
	}
	created.SortOrder = count
	created.CreatedAt = s.now()
	created.UpdatedAt = created.CreatedAt
	s.items[created.ID] = created
	return created.clone(), nil
}

func (s *MemoryStore) UpdateItemFields(_ context.Context, kind, scopeKey, id string, fields map[string]string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.Kind != kind || it.ScopeKey != scopeKey {
		return Item{}, sql.ErrNoRows
	}
	it.Fields = make(map[string]string, len(fields))
	for k, v := range fields {
		it.Fields[k] = v
	}
	it.UpdatedAt = s.now()
	s.items[id] = it
	return it.clone(), nil
}

func (s *MemoryStore) DeleteItem(_ context.Context, kind, scopeKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.Kind != kind || it.ScopeKey != scopeKey {
		return sql.ErrNoRows
	}
	s.deleteTreeLocked(id)
	for i, rest := range s.scopeLocked(kind, scopeKey) {
		rest.SortOrder = i
		s.items[rest.ID] = rest
	}
	return nil
}

func (s *MemoryStore) deleteTreeLocked(id string) {
	delete(s.items, id)
	for childID, child := range s.items {
		if child.ParentID != nil && *child.ParentID == id {
			s.deleteTreeLocked(childID)
		}
	}
}

func (s *MemoryStore) ReorderItems(_ context.Context, kind, scopeKey string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope := s.scopeLocked(kind, scopeKey)
	current := make([]string, len(scope))
	for i, it := range scope {
		current[i] = it.ID
	}
	if !sameIDSet(current, ids) {
		return fmt.Errorf("%w: got [%s]", ErrOrderMismatch, strings.Join(ids, ","))
	}
	now := s.now()
	for i, id := range ids {
		it := s.items[id]
		it.SortOrder = i
		it.UpdatedAt = now
		s.items[id] = it
	}
	return nil
}
