// Package collection manages ordered lists of editable items for a single
// scope: add, inline edit, delete and reorder against a remote persistence
// contract. Reorders are applied optimistically and rolled back wholesale
// when the remote call fails; every other mutation waits for confirmation.
package collection

import (
	"context"
	"strings"

	"linkdeck/internal/field"
)

// Item is one sortable entity of a scope.
type Item struct {
	ID        string            `json:"id"`
	SortOrder int               `json:"sortOrder"`
	Values    map[string]string `json:"values"`
}

func (it Item) Value(key string) string {
	return it.Values[key]
}

func (it Item) Clone() Item {
	out := it
	out.Values = cloneValues(it.Values)
	return out
}

// Scope is one ordering namespace, e.g. the links of a user or the questions
// of a FAQ category.
type Scope struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

func (s Scope) String() string {
	return s.Kind + ":" + s.Key
}

// Persistence is the remote contract for one or more entity kinds. Create
// and Update return the canonical stored item.
type Persistence interface {
	List(ctx context.Context, scope Scope) ([]Item, error)
	Create(ctx context.Context, scope Scope, fields map[string]string) (Item, error)
	Update(ctx context.Context, scope Scope, id string, fields map[string]string) (Item, error)
	Delete(ctx context.Context, scope Scope, id string) error
	Reorder(ctx context.Context, scope Scope, ids []string) error
}

// Kind configures the controller for one entity kind.
type Kind struct {
	Name   string
	Fields []field.Descriptor
	// MaxItems caps the scope length; zero means unlimited.
	MaxItems int
	// Defaults fill fields missing from an Add call.
	Defaults map[string]string
	// Label renders an item for display. Nil falls back to the first field.
	Label func(Item) string
	// Child names the kind whose scopes hang off each item of this kind.
	Child string
}

// DisplayLabel renders it with the kind's label callback.
func (k Kind) DisplayLabel(it Item) string {
	if k.Label != nil {
		if label := strings.TrimSpace(k.Label(it)); label != "" {
			return label
		}
	}
	for _, d := range k.Fields {
		if v := strings.TrimSpace(it.Values[d.Key]); v != "" {
			return v
		}
	}
	return it.ID
}

func cloneValues(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
