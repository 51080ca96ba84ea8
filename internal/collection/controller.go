package collection

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"linkdeck/internal/field"
)

// Controller owns the canonical ordered list of one scope and the edit state
// of each of its items. It is the only writer of SortOrder. Methods are safe
// for concurrent use; persistence calls run without holding the lock.
type Controller struct {
	kind  Kind
	scope Scope
	store Persistence
	log   zerolog.Logger

	notifyMu    sync.Mutex
	mu          sync.Mutex
	items       []Item
	states      map[string]*EditState
	pendingAdds int
	closed      bool
	subs        map[int]func([]Item)
	nextSub     int
}

type Option func(*Controller)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

func New(kind Kind, scope Scope, store Persistence, opts ...Option) *Controller {
	c := &Controller{
		kind:   kind,
		scope:  scope,
		store:  store,
		log:    zerolog.Nop(),
		states: make(map[string]*EditState),
		subs:   make(map[int]func([]Item)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("kind", kind.Name).Str("scope", scope.Key).Logger()
	return c
}

func (c *Controller) Kind() Kind {
	return c.kind
}

func (c *Controller) Scope() Scope {
	return c.scope
}

// Load replaces the list with the scope's persisted items.
func (c *Controller) Load(ctx context.Context) error {
	items, err := c.store.List(ctx, c.scope)
	if err != nil {
		c.log.Warn().Err(err).Str("op", "list").Msg("load failed")
		return &PersistenceError{Op: "list", Scope: c.scope, Err: err}
	}
	return c.Seed(items)
}

// Seed replaces the list with items from the surrounding data source. The
// persisted SortOrder is only a hint: items are sorted by it and renumbered.
// Edit state survives for ids still present and is dropped for the rest.
func (c *Controller) Seed(items []Item) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.items = normalize(items)
	states := make(map[string]*EditState, len(c.items))
	for _, it := range c.items {
		if st, ok := c.states[it.ID]; ok {
			if !st.Editing {
				st.Temp = c.tempFor(it)
			}
			states[it.ID] = st
			continue
		}
		states[it.ID] = &EditState{Temp: c.tempFor(it)}
	}
	c.states = states
	c.mu.Unlock()
	c.notify()
	return nil
}

// Items returns a snapshot of the list.
func (c *Controller) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Get returns a copy of the item with id.
func (c *Controller) Get(id string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexOf(c.items, id)
	if i < 0 {
		return Item{}, false
	}
	return c.items[i].Clone(), true
}

// IndexOf returns the current position of id, or -1.
func (c *Controller) IndexOf(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return indexOf(c.items, id)
}

// Label renders the item with id through the kind's label callback.
func (c *Controller) Label(id string) string {
	it, ok := c.Get(id)
	if !ok {
		return ""
	}
	return c.kind.DisplayLabel(it)
}

// Subscribe registers fn to receive a snapshot after every change of the
// list or of an item's edit state. fn runs synchronously after the change and
// must not start another mutation on the same controller. The returned func
// unregisters it.
func (c *Controller) Subscribe(fn func([]Item)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Close tears the controller down. Calls completing afterwards leave the
// state untouched.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.subs = map[int]func([]Item){}
}

func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Add creates an item and appends the stored result. Creation is not
// optimistic: the list changes only after the remote call returns.
func (c *Controller) Add(ctx context.Context, fields map[string]string) (Item, error) {
	values := make(map[string]string, len(c.kind.Fields))
	for k, v := range c.kind.Defaults {
		values[k] = v
	}
	for k, v := range fields {
		values[k] = v
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Item{}, ErrClosed
	}
	if c.kind.MaxItems > 0 && len(c.items)+c.pendingAdds >= c.kind.MaxItems {
		c.mu.Unlock()
		return Item{}, &LimitExceededError{Kind: c.kind.Name, Max: c.kind.MaxItems}
	}
	sanitized, err := field.ValidateAll(c.kind.Fields, values)
	if err != nil {
		c.mu.Unlock()
		return Item{}, err
	}
	c.pendingAdds++
	c.mu.Unlock()

	created, err := c.store.Create(ctx, c.scope, sanitized)

	c.mu.Lock()
	c.pendingAdds--
	if err != nil {
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("op", "create").Msg("add failed")
		return Item{}, &PersistenceError{Op: "create", Scope: c.scope, Err: err}
	}
	if created.Values == nil {
		created.Values = sanitized
	}
	if c.closed {
		c.mu.Unlock()
		return created.Clone(), nil
	}
	created.SortOrder = len(c.items)
	c.items = append(c.items, created.Clone())
	c.states[created.ID] = &EditState{Temp: c.tempFor(created)}
	c.mu.Unlock()
	c.notify()
	return created.Clone(), nil
}

// Delete removes the item after the remote call confirms it.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	st, err := c.acquireLocked(id)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	st.Deleting = true
	c.mu.Unlock()
	c.notify()

	err = c.store.Delete(ctx, c.scope, id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err != nil {
			return &PersistenceError{Op: "delete", Scope: c.scope, ItemID: id, Err: err}
		}
		return nil
	}
	if err != nil {
		st.Deleting = false
		c.mu.Unlock()
		c.notify()
		c.log.Warn().Err(err).Str("op", "delete").Str("item", id).Msg("delete failed")
		return &PersistenceError{Op: "delete", Scope: c.scope, ItemID: id, Err: err}
	}
	if i := indexOf(c.items, id); i >= 0 {
		c.items = append(c.items[:i:i], c.items[i+1:]...)
		renumber(c.items)
	}
	delete(c.states, id)
	c.mu.Unlock()
	c.notify()
	return nil
}

// Reorder moves the item at from to position to. The new order is applied
// before the remote call; on failure the list captured beforehand is
// restored.
func (c *Controller) Reorder(ctx context.Context, from, to int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if from == to || from < 0 || to < 0 || from >= len(c.items) || to >= len(c.items) {
		c.mu.Unlock()
		return ErrInvalidMove
	}
	movedID := c.items[from].ID
	st, err := c.acquireLocked(movedID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	snapshot := cloneItems(c.items)
	next := moveItem(c.items, from, to)
	renumber(next)
	c.items = next
	st.Moving = true
	ids := itemIDs(next)
	c.mu.Unlock()
	c.notify()

	err = c.store.Reorder(ctx, c.scope, ids)

	c.mu.Lock()
	st.Moving = false
	if c.closed {
		c.mu.Unlock()
		if err != nil {
			return &PersistenceError{Op: "reorder", Scope: c.scope, ItemID: movedID, Err: err}
		}
		return nil
	}
	if err != nil {
		c.items = restore(snapshot, c.items)
		c.mu.Unlock()
		c.notify()
		c.log.Warn().Err(err).Str("op", "reorder").Str("item", movedID).
			Int("from", from).Int("to", to).Msg("reorder failed, rolled back")
		return &PersistenceError{Op: "reorder", Scope: c.scope, ItemID: movedID, Err: err}
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// acquireLocked returns the state of id if no mutation is in flight for it.
func (c *Controller) acquireLocked(id string) (*EditState, error) {
	if c.closed {
		return nil, ErrClosed
	}
	st, ok := c.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	if st.Busy() {
		return nil, ErrItemBusy
	}
	return st, nil
}

// tempFor seeds edit values from the committed item.
func (c *Controller) tempFor(it Item) map[string]string {
	temp := make(map[string]string, len(c.kind.Fields))
	for _, d := range c.kind.Fields {
		temp[d.Key] = it.Values[d.Key]
	}
	return temp
}

// notify delivers the current snapshot to subscribers. It must be called
// without holding mu; notifyMu keeps deliveries in order.
func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.closed || len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	snapshot := cloneItems(c.items)
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]Item), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(cloneItems(snapshot))
	}
}
