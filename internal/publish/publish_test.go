package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"linkdeck/internal/kinds"
	"linkdeck/internal/store"
)

type fakeObjects struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (f *fakeObjects) Put(_ context.Context, key string, body []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	if contentType != "application/json" {
		return errors.New("unexpected content type " + contentType)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = body
	return nil
}

func seedProfile(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	insert := func(item store.Item) {
		if _, err := s.InsertItem(ctx, item, 0); err != nil {
			t.Fatalf("insert %s: %v", item.ID, err)
		}
	}
	insert(store.Item{ID: "lnk_1", Kind: kinds.Link, ScopeKey: "usr_1", OwnerID: "usr_1", Fields: map[string]string{"title": "Blog", "url": "https://blog.dev"}})
	insert(store.Item{ID: "lnk_2", Kind: kinds.Link, ScopeKey: "usr_1", OwnerID: "usr_1", Fields: map[string]string{"title": "Shop", "url": "https://shop.dev"}})
	insert(store.Item{ID: "cat_1", Kind: kinds.FAQCategory, ScopeKey: "usr_1", OwnerID: "usr_1", Fields: map[string]string{"name": "Shipping"}})
	parent := "cat_1"
	insert(store.Item{ID: "q_1", Kind: kinds.FAQQuestion, ScopeKey: parent, OwnerID: "usr_1", ParentID: &parent, Fields: map[string]string{"question": "How long?", "answer": "Two days"}})
	insert(store.Item{ID: "lnk_x", Kind: kinds.Link, ScopeKey: "usr_2", OwnerID: "usr_2", Fields: map[string]string{"title": "Other"}})
	return s
}

func TestBuildNestsChildrenAndKeepsOrder(t *testing.T) {
	p := NewPublisher(seedProfile(t), &fakeObjects{}, kinds.NewRegistry())
	profile, err := p.Build(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	links := profile.Sections[kinds.Link]
	if len(links) != 2 || links[0].Label != "Blog" || links[1].Label != "Shop" {
		t.Fatalf("unexpected links %+v", links)
	}
	faq := profile.Sections[kinds.FAQCategory]
	if len(faq) != 1 || len(faq[0].Children) != 1 || faq[0].Children[0].Label != "How long?" {
		t.Fatalf("unexpected faq %+v", faq)
	}
	if _, ok := profile.Sections[kinds.FAQQuestion]; ok {
		t.Fatal("child kinds must not appear as top-level sections")
	}
	if got := profile.Sections[kinds.Device]; len(got) != 0 {
		t.Fatalf("expected no devices, got %v", got)
	}
}

func TestPublishUploadsJSON(t *testing.T) {
	objects := &fakeObjects{}
	p := NewPublisher(seedProfile(t), objects, kinds.NewRegistry())
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	_, key, err := p.Publish(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if key != "profiles/usr_1.json" {
		t.Fatalf("unexpected key %q", key)
	}
	var decoded Profile
	if err := json.Unmarshal(objects.puts[key], &decoded); err != nil {
		t.Fatalf("decode uploaded profile: %v", err)
	}
	if decoded.UserID != "usr_1" || !decoded.PublishedAt.Equal(p.now()) {
		t.Fatalf("unexpected profile header %+v", decoded)
	}
}

func TestPublishSurfacesUploadFailure(t *testing.T) {
	p := NewPublisher(seedProfile(t), &fakeObjects{err: errors.New("denied")}, kinds.NewRegistry())
	if _, _, err := p.Publish(context.Background(), "usr_1"); err == nil {
		t.Fatal("expected upload error")
	}
}

type failingSource struct{}

func (failingSource) ListItems(context.Context, string, string) ([]store.Item, error) {
	return nil, errors.New("db down")
}

func TestBuildSurfacesSourceFailure(t *testing.T) {
	p := NewPublisher(failingSource{}, &fakeObjects{}, kinds.NewRegistry())
	if _, err := p.Build(context.Background(), "usr_1"); err == nil {
		t.Fatal("expected source error")
	}
}
