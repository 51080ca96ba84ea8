package store

import (
	"errors"
	"time"
)

// ErrOrderMismatch is returned by ReorderItems when the submitted ids are not
// exactly the ids of the scope.
var ErrOrderMismatch = errors.New("order does not match scope items")

// ErrScopeFull is returned by InsertItem when the scope already holds the
// maximum number of items.
var ErrScopeFull = errors.New("scope is full")

type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Item is one row of collection_items.
type Item struct {
	ID        string
	Kind      string
	ScopeKey  string
	OwnerID   string
	ParentID  *string
	SortOrder int
	Fields    map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (it Item) clone() Item {
	out := it
	if it.ParentID != nil {
		parent := *it.ParentID
		out.ParentID = &parent
	}
	if it.Fields != nil {
		out.Fields = make(map[string]string, len(it.Fields))
		for k, v := range it.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

func sameIDSet(current, submitted []string) bool {
	if len(current) != len(submitted) {
		return false
	}
	seen := make(map[string]bool, len(current))
	for _, id := range current {
		seen[id] = true
	}
	for _, id := range submitted {
		if !seen[id] {
			return false
		}
		delete(seen, id)
	}
	return len(seen) == 0
}
