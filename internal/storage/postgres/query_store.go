package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/geoinforme/parcelreport/internal/report"
)

// QueryStore persists query records in Postgres. The structured parts of
// the record (fetch results, artifacts, transitions) live in jsonb
// columns; the fields the API filters on are first-class columns.
type QueryStore struct {
	pool querier
}

// NewQueryStore creates a Postgres-backed QueryStore using the provided config.
func NewQueryStore(ctx context.Context, cfg Config) (*QueryStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &QueryStore{pool: pool}, nil
}

// NewQueryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewQueryStoreWithPool(pool querier) (*QueryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &QueryStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *QueryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const insertQuerySQL = `
INSERT INTO queries (
	id,
	user_id,
	reference,
	status,
	created_at,
	completed_at,
	degraded,
	fetch_results,
	artifacts,
	missing_artifacts,
	archive_uri,
	failure,
	transitions
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`

const updateQuerySQL = `
UPDATE queries SET
	status = $2,
	completed_at = $3,
	degraded = $4,
	fetch_results = $5,
	artifacts = $6,
	missing_artifacts = $7,
	archive_uri = $8,
	failure = $9,
	transitions = $10
WHERE id = $1`

const selectQuerySQL = `
SELECT
	id,
	user_id,
	reference,
	status,
	created_at,
	completed_at,
	degraded,
	fetch_results,
	artifacts,
	missing_artifacts,
	archive_uri,
	failure,
	transitions
FROM queries
WHERE id = $1`

// CreateQuery inserts a new query row.
func (s *QueryStore) CreateQuery(ctx context.Context, q report.Query) error {
	if q.ID == "" {
		return fmt.Errorf("query id is required")
	}
	enc, err := encodeQueryJSON(q)
	if err != nil {
		return err
	}
	args := []any{
		q.ID,
		q.UserID,
		q.Reference,
		string(q.Status),
		q.CreatedAt,
		q.CompletedAt,
		q.Degraded,
		enc.fetchResults,
		enc.artifacts,
		enc.missingArtifacts,
		q.ArchiveURI,
		enc.failure,
		enc.transitions,
	}
	if _, err := s.pool.Exec(ctx, insertQuerySQL, args...); err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// UpdateQuery rewrites the mutable columns of an existing row.
func (s *QueryStore) UpdateQuery(ctx context.Context, q report.Query) error {
	enc, err := encodeQueryJSON(q)
	if err != nil {
		return err
	}
	args := []any{
		q.ID,
		string(q.Status),
		q.CompletedAt,
		q.Degraded,
		enc.fetchResults,
		enc.artifacts,
		enc.missingArtifacts,
		q.ArchiveURI,
		enc.failure,
		enc.transitions,
	}
	tag, err := s.pool.Exec(ctx, updateQuerySQL, args...)
	if err != nil {
		return fmt.Errorf("update query: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update query %s: %w", q.ID, report.ErrNotFound)
	}
	return nil
}

// GetQuery loads one query row.
func (s *QueryStore) GetQuery(ctx context.Context, id string) (report.Query, error) {
	var (
		q                report.Query
		status           string
		fetchResults     []byte
		artifacts        []byte
		missingArtifacts []byte
		failure          []byte
		transitions      []byte
	)
	row := s.pool.QueryRow(ctx, selectQuerySQL, id)
	err := row.Scan(
		&q.ID,
		&q.UserID,
		&q.Reference,
		&status,
		&q.CreatedAt,
		&q.CompletedAt,
		&q.Degraded,
		&fetchResults,
		&artifacts,
		&missingArtifacts,
		&q.ArchiveURI,
		&failure,
		&transitions,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return report.Query{}, fmt.Errorf("query %s: %w", id, report.ErrNotFound)
	}
	if err != nil {
		return report.Query{}, fmt.Errorf("select query: %w", err)
	}
	q.Status = report.QueryStatus(status)
	if err := decodeQueryJSON(&q, fetchResults, artifacts, missingArtifacts, failure, transitions); err != nil {
		return report.Query{}, err
	}
	return q, nil
}

type encodedQuery struct {
	fetchResults     []byte
	artifacts        []byte
	missingArtifacts []byte
	failure          []byte
	transitions      []byte
}

func encodeQueryJSON(q report.Query) (encodedQuery, error) {
	var enc encodedQuery
	var err error
	if enc.fetchResults, err = json.Marshal(q.FetchResults); err != nil {
		return enc, fmt.Errorf("marshal fetch results: %w", err)
	}
	if enc.artifacts, err = json.Marshal(q.Artifacts); err != nil {
		return enc, fmt.Errorf("marshal artifacts: %w", err)
	}
	if enc.missingArtifacts, err = json.Marshal(q.MissingArtifacts); err != nil {
		return enc, fmt.Errorf("marshal missing artifacts: %w", err)
	}
	if enc.failure, err = json.Marshal(q.Failure); err != nil {
		return enc, fmt.Errorf("marshal failure: %w", err)
	}
	if enc.transitions, err = json.Marshal(q.Transitions); err != nil {
		return enc, fmt.Errorf("marshal transitions: %w", err)
	}
	return enc, nil
}

func decodeQueryJSON(q *report.Query, fetchResults, artifacts, missingArtifacts, failure, transitions []byte) error {
	if len(fetchResults) > 0 {
		if err := json.Unmarshal(fetchResults, &q.FetchResults); err != nil {
			return fmt.Errorf("unmarshal fetch results: %w", err)
		}
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &q.Artifacts); err != nil {
			return fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	if len(missingArtifacts) > 0 {
		if err := json.Unmarshal(missingArtifacts, &q.MissingArtifacts); err != nil {
			return fmt.Errorf("unmarshal missing artifacts: %w", err)
		}
	}
	if len(failure) > 0 {
		if err := json.Unmarshal(failure, &q.Failure); err != nil {
			return fmt.Errorf("unmarshal failure: %w", err)
		}
	}
	if len(transitions) > 0 {
		if err := json.Unmarshal(transitions, &q.Transitions); err != nil {
			return fmt.Errorf("unmarshal transitions: %w", err)
		}
	}
	return nil
}
