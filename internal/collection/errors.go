package collection

import (
	"errors"
	"fmt"
)

var (
	ErrItemBusy     = errors.New("item has a mutation in flight")
	ErrNotFound     = errors.New("item not found")
	ErrInvalidMove  = errors.New("invalid move")
	ErrUnknownField = errors.New("unknown field")
	ErrClosed       = errors.New("collection closed")
)

// LimitExceededError is returned by Add when the scope is full. It never
// reaches the network.
type LimitExceededError struct {
	Kind string
	Max  int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit reached: at most %d items", e.Kind, e.Max)
}

// PersistenceError wraps a failed remote call.
type PersistenceError struct {
	Op     string
	Scope  Scope
	ItemID string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Scope, e.ItemID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Scope, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
