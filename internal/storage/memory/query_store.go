// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/geoinforme/parcelreport/internal/report"
)

// QueryStore keeps query records in a map.
type QueryStore struct {
	mu      sync.RWMutex
	queries map[string]report.Query
}

// NewQueryStore constructs a QueryStore.
func NewQueryStore() *QueryStore {
	return &QueryStore{
		queries: make(map[string]report.Query),
	}
}

// CreateQuery stores a new query record.
func (s *QueryStore) CreateQuery(_ context.Context, q report.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queries[q.ID]; exists {
		return errors.New("query already exists")
	}
	s.queries[q.ID] = cloneQuery(q)
	return nil
}

// UpdateQuery overwrites an existing query record.
func (s *QueryStore) UpdateQuery(_ context.Context, q report.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[q.ID]; !ok {
		return report.ErrNotFound
	}
	s.queries[q.ID] = cloneQuery(q)
	return nil
}

// GetQuery fetches a query by ID.
func (s *QueryStore) GetQuery(_ context.Context, id string) (report.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[id]
	if !ok {
		return report.Query{}, report.ErrNotFound
	}
	return cloneQuery(q), nil
}

func cloneQuery(q report.Query) report.Query {
	out := q
	if q.FetchResults != nil {
		out.FetchResults = make(map[string]report.FetchResult, len(q.FetchResults))
		for k, v := range q.FetchResults {
			out.FetchResults[k] = v
		}
	}
	if q.Artifacts != nil {
		out.Artifacts = make(map[report.ArtifactFormat]report.Artifact, len(q.Artifacts))
		for k, v := range q.Artifacts {
			out.Artifacts[k] = v
		}
	}
	if q.MissingArtifacts != nil {
		out.MissingArtifacts = make(map[report.ArtifactFormat]string, len(q.MissingArtifacts))
		for k, v := range q.MissingArtifacts {
			out.MissingArtifacts[k] = v
		}
	}
	out.Transitions = append([]report.Transition(nil), q.Transitions...)
	return out
}
