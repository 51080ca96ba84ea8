package collection

import (
	"context"

	"linkdeck/internal/field"
)

// EditState is the per-item edit session. Temp holds uncommitted values and
// is discarded on cancel.
type EditState struct {
	Editing  bool
	Saving   bool
	Deleting bool
	Moving   bool
	Temp     map[string]string
}

// Busy reports whether a mutation for the item is in flight.
func (s EditState) Busy() bool {
	return s.Saving || s.Deleting || s.Moving
}

func (s EditState) clone() EditState {
	out := s
	out.Temp = cloneValues(s.Temp)
	return out
}

// State returns a copy of the edit state of id.
func (c *Controller) State(id string) (EditState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[id]
	if !ok {
		return EditState{}, false
	}
	return st.clone(), true
}

func (c *Controller) Busy(id string) bool {
	st, ok := c.State(id)
	return ok && st.Busy()
}

// BeginEdit opens the edit session of id with Temp seeded from the committed
// values. Calling it on an item already being edited keeps the pending values.
func (c *Controller) BeginEdit(id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	st, ok := c.states[id]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	if st.Deleting {
		c.mu.Unlock()
		return ErrItemBusy
	}
	if !st.Editing {
		st.Editing = true
		if i := indexOf(c.items, id); i >= 0 {
			st.Temp = c.tempFor(c.items[i])
		}
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// UpdateTemp changes one pending value. Nothing is validated until Save.
func (c *Controller) UpdateTemp(id, key, value string) error {
	if _, ok := field.Lookup(c.kind.Fields, key); !ok {
		return ErrUnknownField
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	st, ok := c.states[id]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	if st.Saving || st.Deleting {
		c.mu.Unlock()
		return ErrItemBusy
	}
	if st.Temp == nil {
		st.Temp = map[string]string{}
	}
	st.Temp[key] = value
	c.mu.Unlock()
	c.notify()
	return nil
}

// Save validates the pending values and commits them through Update. A
// validation failure changes nothing and makes no remote call. A remote
// failure keeps the session open with its pending values.
func (c *Controller) Save(ctx context.Context, id string) (Item, error) {
	c.mu.Lock()
	st, err := c.acquireLocked(id)
	if err != nil {
		c.mu.Unlock()
		return Item{}, err
	}
	sanitized, err := field.ValidateAll(c.kind.Fields, st.Temp)
	if err != nil {
		c.mu.Unlock()
		return Item{}, err
	}
	st.Saving = true
	c.mu.Unlock()
	c.notify()

	updated, err := c.store.Update(ctx, c.scope, id, sanitized)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err != nil {
			return Item{}, &PersistenceError{Op: "update", Scope: c.scope, ItemID: id, Err: err}
		}
		return updated, nil
	}
	st.Saving = false
	if err != nil {
		c.mu.Unlock()
		c.notify()
		c.log.Warn().Err(err).Str("op", "update").Str("item", id).Msg("save failed")
		return Item{}, &PersistenceError{Op: "update", Scope: c.scope, ItemID: id, Err: err}
	}
	if updated.Values == nil {
		updated.Values = sanitized
	}
	var out Item
	if i := indexOf(c.items, id); i >= 0 {
		c.items[i].Values = cloneValues(updated.Values)
		out = c.items[i].Clone()
	}
	st.Editing = false
	st.Temp = c.tempFor(out)
	c.mu.Unlock()
	c.notify()
	return out, nil
}

// CancelEdit discards pending values.
func (c *Controller) CancelEdit(id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	st, ok := c.states[id]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	if st.Saving {
		c.mu.Unlock()
		return ErrItemBusy
	}
	st.Editing = false
	if i := indexOf(c.items, id); i >= 0 {
		st.Temp = c.tempFor(c.items[i])
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Move reorders by id: the active item takes the position of over.
func (c *Controller) Move(ctx context.Context, activeID, overID string) error {
	if activeID == "" || overID == "" || activeID == overID {
		return ErrInvalidMove
	}
	c.mu.Lock()
	from, to := indexOf(c.items, activeID), indexOf(c.items, overID)
	c.mu.Unlock()
	if from < 0 || to < 0 {
		return ErrNotFound
	}
	return c.Reorder(ctx, from, to)
}
