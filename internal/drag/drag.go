// Package drag translates pointer gestures over a rendered list into
// collection reorders.
package drag

import (
	"context"
	"errors"
	"sync"

	"linkdeck/internal/collection"
)

var ErrNotDragging = errors.New("no drag in progress")

// Target is the part of a collection controller a drag needs.
type Target interface {
	IndexOf(id string) int
	Busy(id string) bool
	Reorder(ctx context.Context, from, to int) error
}

// Adapter is a two-state machine: idle, or dragging one item.
type Adapter struct {
	target Target

	mu     sync.Mutex
	active string
}

func New(target Target) *Adapter {
	return &Adapter{target: target}
}

// Start picks up id. Busy and unknown items cannot be dragged.
func (a *Adapter) Start(id string) error {
	if a.target.IndexOf(id) < 0 {
		return collection.ErrNotFound
	}
	if a.target.Busy(id) {
		return collection.ErrItemBusy
	}
	a.mu.Lock()
	a.active = id
	a.mu.Unlock()
	return nil
}

// Active returns the dragged id, if any.
func (a *Adapter) Active() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active, a.active != ""
}

func (a *Adapter) Cancel() {
	a.mu.Lock()
	a.active = ""
	a.mu.Unlock()
}

// Drop releases the active item over overID. Dropping on nothing or on the
// item itself is a no-op. The adapter is idle again before Reorder runs.
func (a *Adapter) Drop(ctx context.Context, overID string) error {
	a.mu.Lock()
	active := a.active
	a.active = ""
	a.mu.Unlock()

	if active == "" {
		return ErrNotDragging
	}
	if overID == "" || overID == active {
		return nil
	}
	from, to := a.target.IndexOf(active), a.target.IndexOf(overID)
	if from < 0 || to < 0 {
		return collection.ErrNotFound
	}
	return a.target.Reorder(ctx, from, to)
}
