package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

type fakeIndex struct {
	mu       sync.Mutex
	healthy  bool
	searchFn func(context.Context, Query) ([]Result, int, error)
	indexed  chan []Record
	removed  chan []string
}

func (f *fakeIndex) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeIndex) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return nil, 0, nil
}

func (f *fakeIndex) IndexItems(records []Record) error {
	f.indexed <- records
	return nil
}

func (f *fakeIndex) DeleteItems(ids []string) error {
	f.removed <- ids
	return nil
}

func TestSearchPrefersHealthyPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: true, searchFn: func(context.Context, Query) ([]Result, int, error) {
		return []Result{{ID: "lnk_1"}}, 1, nil
	}}
	fallback := &fakeIndex{searchFn: func(context.Context, Query) ([]Result, int, error) {
		t.Error("fallback must not be called")
		return nil, 0, nil
	}}
	resp := NewService(primary, fallback, zerolog.Nop()).Search(context.Background(), Query{Text: "blog"})
	if resp.Total != 1 || resp.Results[0].ID != "lnk_1" || resp.Query != "blog" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSearchFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeIndex{healthy: true, searchFn: func(context.Context, Query) ([]Result, int, error) {
		return nil, 0, errors.New("down")
	}}
	fallback := &fakeIndex{searchFn: func(context.Context, Query) ([]Result, int, error) {
		return []Result{{ID: "dat_1"}}, 1, nil
	}}
	resp := NewService(primary, fallback, zerolog.Nop()).Search(context.Background(), Query{Text: "x"})
	if len(resp.Results) != 1 || resp.Results[0].ID != "dat_1" {
		t.Fatalf("expected fallback results, got %+v", resp)
	}
}

func TestSearchNeverReturnsNilResults(t *testing.T) {
	fallback := &fakeIndex{searchFn: func(context.Context, Query) ([]Result, int, error) {
		return nil, 0, errors.New("broken")
	}}
	resp := NewService(nil, fallback, zerolog.Nop()).Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil {
		t.Fatal("expected empty slice")
	}
}

func TestIndexAndRemoveReachPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: true, indexed: make(chan []Record, 1), removed: make(chan []string, 1)}
	svc := NewService(primary, nil, zerolog.Nop())

	svc.Index(Record{ID: "lnk_1", Kind: "link"})
	if got := <-primary.indexed; got[0].ID != "lnk_1" {
		t.Fatalf("unexpected indexed records %v", got)
	}
	svc.Remove("lnk_1")
	if got := <-primary.removed; got[0] != "lnk_1" {
		t.Fatalf("unexpected removed ids %v", got)
	}
}

func TestIndexSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeIndex{indexed: make(chan []Record, 1)}
	NewService(primary, nil, zerolog.Nop()).Index(Record{ID: "lnk_1"})
	select {
	case <-primary.indexed:
		t.Fatal("unhealthy primary must not be written")
	default:
	}
}

func TestPgftsWhereNumbersArguments(t *testing.T) {
	where, args := pgftsWhere(Query{Text: "blog", Kind: "link", OwnerID: "usr_1"})
	want := "search_vector @@ plainto_tsquery('simple', $1) AND kind = $2 AND owner_id = $3"
	if where != want {
		t.Fatalf("unexpected where %q", where)
	}
	if len(args) != 3 || args[2] != "usr_1" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestMeiliFilters(t *testing.T) {
	got := meiliFilters(Query{Kind: "faq_question", ScopeKey: "cat1"})
	if len(got) != 2 || got[0] != `kind = "faq_question"` || got[1] != `scopeKey = "cat1"` {
		t.Fatalf("unexpected filters %v", got)
	}
}

func TestHitToResultPrefersFormattedText(t *testing.T) {
	raw := `{"id":"lnk_1","kind":"link","scopeKey":"usr_1","label":"Blog","text":"my blog","_formatted":{"text":"my <mark>blog</mark>"}}`
	var hit meili.Hit
	if err := json.Unmarshal([]byte(raw), &hit); err != nil {
		t.Fatalf("decode hit: %v", err)
	}
	r := hitToResult(hit)
	if r.ID != "lnk_1" || r.Label != "Blog" || r.Snippet != "my <mark>blog</mark>" {
		t.Fatalf("unexpected result %+v", r)
	}
}
