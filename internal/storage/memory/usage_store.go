package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geoinforme/parcelreport/internal/report"
)

// UsageStore keeps per-user usage counters guarded by one mutex, so the
// quota check and the increment happen as one indivisible step.
type UsageStore struct {
	mu       sync.Mutex
	counters map[string]report.UsageCounter
	clock    report.Clock
}

// NewUsageStore constructs a UsageStore.
func NewUsageStore(clock report.Clock) *UsageStore {
	return &UsageStore{
		counters: make(map[string]report.UsageCounter),
		clock:    clock,
	}
}

// Reserve conditionally increments the user's counter. Two concurrent
// reservations at one remaining unit yield exactly one success.
func (s *UsageStore) Reserve(_ context.Context, userID string, quota int) (report.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(userID)
	if quota != report.UnlimitedQuota && c.Consumed >= quota {
		return report.UsageCounter{}, report.ErrQuotaExceeded
	}
	c.Consumed++
	s.counters[userID] = c
	return c, nil
}

// Release returns one reserved unit.
func (s *UsageStore) Release(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(userID)
	if c.Consumed > 0 {
		c.Consumed--
	}
	s.counters[userID] = c
	return nil
}

// Usage reads the current counter.
func (s *UsageStore) Usage(_ context.Context, userID string) (report.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID), nil
}

func (s *UsageStore) get(userID string) report.UsageCounter {
	c, ok := s.counters[userID]
	if !ok {
		c = report.UsageCounter{
			UserID:      userID,
			PeriodStart: s.now(),
		}
	}
	return c
}

func (s *UsageStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
