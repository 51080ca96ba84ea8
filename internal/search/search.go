// Package search finds collection items by text, through Meilisearch when it
// is reachable and Postgres full-text search otherwise.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	ScopeKey string `json:"scopeKey"`
	Label    string `json:"label"`
	Snippet  string `json:"snippet"`
}

// Query describes a search request. OwnerID restricts hits to one user's
// items; empty means all owners.
type Query struct {
	Text     string
	Kind     string
	ScopeKey string
	OwnerID  string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Record is the data we index for an item.
type Record struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	ScopeKey string `json:"scopeKey"`
	OwnerID  string `json:"ownerId"`
	Label    string `json:"label"`
	Text     string `json:"text"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a searcher that can also be written to.
type Index interface {
	Searcher
	IndexItems(records []Record) error
	DeleteItems(ids []string) error
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
