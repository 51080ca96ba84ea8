package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries the primary index first and falls back to
// Postgres full-text search.
type Service struct {
	primary  Index
	fallback Searcher
	log      zerolog.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Index, fallback Searcher, log zerolog.Logger) *Service {
	return &Service{primary: primary, fallback: fallback, log: log}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("primary search failed, falling back to pgfts")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index pushes records to the primary index without waiting.
func (s *Service) Index(records ...Record) {
	if s.primary == nil || !s.primary.Healthy() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.primary.IndexItems(records); err != nil {
			s.log.Warn().Err(err).Str("item", records[0].ID).Msg("index items")
		}
	}()
}

// Remove drops ids from the primary index without waiting.
func (s *Service) Remove(ids ...string) {
	if s.primary == nil || !s.primary.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.primary.DeleteItems(ids); err != nil {
			s.log.Warn().Err(err).Strs("items", ids).Msg("remove items")
		}
	}()
}

// Reindex replaces the primary index contents with records, synchronously.
func (s *Service) Reindex(records []Record) error {
	if s.primary == nil || !s.primary.Healthy() {
		return nil
	}
	return s.primary.IndexItems(records)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
