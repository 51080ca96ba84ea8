// Package hierarchy composes a parent collection with one child collection
// per parent item, e.g. FAQ categories and their questions.
package hierarchy

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"linkdeck/internal/collection"
)

// Controller owns a parent controller and lazily created child controllers
// keyed by parent id. A child scope lives exactly as long as its parent item.
type Controller struct {
	parent    *collection.Controller
	childKind collection.Kind
	store     collection.Persistence
	log       zerolog.Logger

	mu          sync.Mutex
	children    map[string]*collection.Controller
	closed      bool
	unsubscribe func()
}

// New wires parent to childKind. Child scopes are keyed by parent item id and
// use the same persistence as the parent.
func New(parent *collection.Controller, childKind collection.Kind, store collection.Persistence, log zerolog.Logger) *Controller {
	h := &Controller{
		parent:    parent,
		childKind: childKind,
		store:     store,
		log:       log,
		children:  make(map[string]*collection.Controller),
	}
	h.unsubscribe = parent.Subscribe(h.prune)
	return h
}

// prune closes the child scopes of parent items that left the parent list,
// however they left it.
func (h *Controller) prune(items []collection.Item) {
	present := make(map[string]bool, len(items))
	for _, it := range items {
		present[it.ID] = true
	}
	h.mu.Lock()
	var gone []*collection.Controller
	for id, c := range h.children {
		if !present[id] {
			gone = append(gone, c)
			delete(h.children, id)
			h.log.Debug().Str("parent", id).Msg("child scope discarded")
		}
	}
	h.mu.Unlock()
	for _, c := range gone {
		c.Close()
	}
}

func (h *Controller) Parent() *collection.Controller {
	return h.parent
}

// Child returns the child controller of parentID, creating and seeding it the
// first time the parent is observed. Later calls ignore seed.
func (h *Controller) Child(parentID string, seed []collection.Item) (*collection.Controller, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, collection.ErrClosed
	}
	if h.parent.IndexOf(parentID) < 0 {
		return nil, collection.ErrNotFound
	}
	if c, ok := h.children[parentID]; ok {
		return c, nil
	}
	c := collection.New(h.childKind, h.childScope(parentID), h.store, collection.WithLogger(h.log))
	if err := c.Seed(seed); err != nil {
		return nil, err
	}
	h.children[parentID] = c
	return c, nil
}

// LoadChild is Child seeded from persistence.
func (h *Controller) LoadChild(ctx context.Context, parentID string) (*collection.Controller, error) {
	if h.parent.IndexOf(parentID) < 0 {
		return nil, collection.ErrNotFound
	}
	h.mu.Lock()
	c, ok := h.children[parentID]
	h.mu.Unlock()
	if ok {
		return c, nil
	}
	items, err := h.store.List(ctx, h.childScope(parentID))
	if err != nil {
		return nil, &collection.PersistenceError{Op: "list", Scope: h.childScope(parentID), Err: err}
	}
	return h.Child(parentID, items)
}

// DeleteParent deletes the parent item and, once confirmed, closes and
// discards its child scope. Children are removed by persistence, not here.
func (h *Controller) DeleteParent(ctx context.Context, id string) error {
	if err := h.parent.Delete(ctx, id); err != nil {
		return err
	}
	h.mu.Lock()
	c, ok := h.children[id]
	delete(h.children, id)
	h.mu.Unlock()
	if ok {
		c.Close()
		h.log.Debug().Str("parent", id).Msg("child scope discarded")
	}
	return nil
}

// Children lists the parent ids whose child scope currently exists.
func (h *Controller) Children() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.children))
	for id := range h.children {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close closes the parent and every child.
func (h *Controller) Close() {
	h.mu.Lock()
	children := h.children
	h.children = map[string]*collection.Controller{}
	h.closed = true
	h.mu.Unlock()
	h.unsubscribe()
	for _, c := range children {
		c.Close()
	}
	h.parent.Close()
}

func (h *Controller) childScope(parentID string) collection.Scope {
	return collection.Scope{Kind: h.childKind.Name, Key: parentID}
}
