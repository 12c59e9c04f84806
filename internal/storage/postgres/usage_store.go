package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/geoinforme/parcelreport/internal/report"
)

// UsageStore keeps per-user usage counters in Postgres. The quota check
// and the increment run as a single conditional upsert, so two
// concurrent reservations at one remaining unit yield exactly one
// success regardless of which instance they land on.
type UsageStore struct {
	pool  querier
	clock report.Clock
}

// NewUsageStore creates a Postgres-backed UsageStore using the provided config.
func NewUsageStore(ctx context.Context, cfg Config, clock report.Clock) (*UsageStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &UsageStore{pool: pool, clock: clock}, nil
}

// NewUsageStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewUsageStoreWithPool(pool querier, clock report.Clock) (*UsageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &UsageStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *UsageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const reserveSQL = `
INSERT INTO usage_counters (user_id, consumed, period_start)
VALUES ($1, 1, $3)
ON CONFLICT (user_id) DO UPDATE
SET consumed = usage_counters.consumed + 1
WHERE usage_counters.consumed < $2
RETURNING consumed, period_start`

const releaseSQL = `
UPDATE usage_counters
SET consumed = GREATEST(consumed - 1, 0)
WHERE user_id = $1`

const usageSQL = `
SELECT consumed, period_start
FROM usage_counters
WHERE user_id = $1`

// Reserve conditionally increments the user's counter. When the guard in
// the upsert fails no row comes back, which maps to ErrQuotaExceeded.
func (s *UsageStore) Reserve(ctx context.Context, userID string, quota int) (report.UsageCounter, error) {
	// The upsert's insert arm is unconditional, so a zero quota has to be
	// rejected before touching the table.
	if quota <= 0 {
		return report.UsageCounter{}, report.ErrQuotaExceeded
	}
	counter := report.UsageCounter{UserID: userID}
	row := s.pool.QueryRow(ctx, reserveSQL, userID, quota, s.now())
	err := row.Scan(&counter.Consumed, &counter.PeriodStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return report.UsageCounter{}, report.ErrQuotaExceeded
	}
	if err != nil {
		return report.UsageCounter{}, fmt.Errorf("reserve usage unit: %w", err)
	}
	return counter, nil
}

// Release returns one reserved unit, flooring at zero.
func (s *UsageStore) Release(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, releaseSQL, userID); err != nil {
		return fmt.Errorf("release usage unit: %w", err)
	}
	return nil
}

// Usage reads the current counter. Users without a row report zero
// consumption for a period starting now.
func (s *UsageStore) Usage(ctx context.Context, userID string) (report.UsageCounter, error) {
	counter := report.UsageCounter{UserID: userID}
	row := s.pool.QueryRow(ctx, usageSQL, userID)
	err := row.Scan(&counter.Consumed, &counter.PeriodStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return report.UsageCounter{UserID: userID, PeriodStart: s.now()}, nil
	}
	if err != nil {
		return report.UsageCounter{}, fmt.Errorf("read usage counter: %w", err)
	}
	return counter, nil
}

func (s *UsageStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
