// Package publish renders a user's collections into the public profile
// document and uploads it to object storage.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"linkdeck/internal/collection"
	"linkdeck/internal/kinds"
	"linkdeck/internal/store"
)

// Source reads the persisted items of a scope.
type Source interface {
	ListItems(ctx context.Context, kind, scopeKey string) ([]store.Item, error)
}

// ObjectStore is where profile documents are written.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

type Entry struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Values   map[string]string `json:"values"`
	Children []Entry           `json:"children,omitempty"`
}

type Profile struct {
	UserID      string             `json:"userId"`
	PublishedAt time.Time          `json:"publishedAt"`
	Sections    map[string][]Entry `json:"sections"`
}

type Publisher struct {
	source   Source
	objects  ObjectStore
	registry *kinds.Registry
	now      func() time.Time
}

func NewPublisher(source Source, objects ObjectStore, registry *kinds.Registry) *Publisher {
	return &Publisher{source: source, objects: objects, registry: registry, now: time.Now}
}

// Key is the object key of a user's profile document.
func Key(userID string) string {
	return "profiles/" + userID + ".json"
}

// Build assembles the profile of userID. Top-level kinds are read
// concurrently; child kinds are nested under their parent entries.
func (p *Publisher) Build(ctx context.Context, userID string) (Profile, error) {
	var top []collection.Kind
	for _, name := range p.registry.Names() {
		if _, isChild := p.registry.ParentOf(name); isChild {
			continue
		}
		kind, _ := p.registry.Lookup(name)
		top = append(top, kind)
	}

	sections := make([][]Entry, len(top))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, kind := range top {
		g.Go(func() error {
			entries, err := p.entries(gctx, kind, userID)
			if err != nil {
				return err
			}
			sections[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Profile{}, err
	}

	profile := Profile{UserID: userID, PublishedAt: p.now().UTC(), Sections: map[string][]Entry{}}
	for i, kind := range top {
		profile.Sections[kind.Name] = sections[i]
	}
	return profile, nil
}

func (p *Publisher) entries(ctx context.Context, kind collection.Kind, scopeKey string) ([]Entry, error) {
	items, err := p.source.ListItems(ctx, kind.Name, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("list %s %s: %w", kind.Name, scopeKey, err)
	}
	out := make([]Entry, len(items))
	for i, it := range items {
		ci := collection.Item{ID: it.ID, SortOrder: it.SortOrder, Values: it.Fields}
		out[i] = Entry{ID: it.ID, Label: kind.DisplayLabel(ci), Values: it.Fields}
	}
	if kind.Child == "" {
		return out, nil
	}
	child, ok := p.registry.Lookup(kind.Child)
	if !ok {
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range out {
		g.Go(func() error {
			children, err := p.entries(gctx, child, out[i].ID)
			if err != nil {
				return err
			}
			out[i].Children = children
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Publish builds the profile of userID and uploads it. It returns the object
// key written.
func (p *Publisher) Publish(ctx context.Context, userID string) (Profile, string, error) {
	profile, err := p.Build(ctx, userID)
	if err != nil {
		return Profile{}, "", err
	}
	body, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return Profile{}, "", fmt.Errorf("encode profile: %w", err)
	}
	key := Key(userID)
	if err := p.objects.Put(ctx, key, bytes.TrimSpace(body), "application/json"); err != nil {
		return Profile{}, "", fmt.Errorf("upload profile: %w", err)
	}
	return profile, key, nil
}
