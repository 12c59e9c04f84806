// Package quota implements the admission controller for query quotas.
package quota

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/report"
)

// Reservation is a provisional quota unit held for one query. It stays
// refundable until Commit marks the consumption final.
type Reservation struct {
	UserID    string
	Plan      report.Plan
	Remaining int
	committed bool
	released  bool
	bypass    bool
}

// Controller is the single gateway to usage-counter mutation. Reserve
// performs the quota check and the increment as one step through the
// usage store's conditional update.
type Controller struct {
	usage  report.UsageStore
	logger *zap.Logger
}

// New constructs a Controller.
func New(usage report.UsageStore, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{usage: usage, logger: logger}
}

// Reserve atomically takes one quota unit for the user, or returns
// report.ErrQuotaExceeded. Enterprise-tier plans bypass the counter.
func (c *Controller) Reserve(ctx context.Context, userID string, plan report.Plan) (*Reservation, error) {
	if plan.Unlimited() {
		return &Reservation{UserID: userID, Plan: plan, Remaining: report.UnlimitedQuota, bypass: true}, nil
	}

	counter, err := c.usage.Reserve(ctx, userID, plan.Quota)
	if err != nil {
		return nil, fmt.Errorf("reserve quota unit: %w", err)
	}
	c.logger.Debug("quota unit reserved",
		zap.String("user_id", userID),
		zap.Int("consumed", counter.Consumed),
		zap.Int("quota", plan.Quota),
	)
	return &Reservation{
		UserID:    userID,
		Plan:      plan,
		Remaining: plan.Quota - counter.Consumed,
	}, nil
}

// Release refunds the reserved unit. It is a no-op for enterprise
// reservations and for reservations already committed or released.
func (c *Controller) Release(ctx context.Context, r *Reservation) error {
	if r == nil || r.bypass || r.committed || r.released {
		return nil
	}
	if err := c.usage.Release(ctx, r.UserID); err != nil {
		return fmt.Errorf("release quota unit: %w", err)
	}
	r.released = true
	r.Remaining++
	c.logger.Debug("quota unit released", zap.String("user_id", r.UserID))
	return nil
}

// Commit finalizes the consumption. The increment already happened at
// Reserve time; committing only makes the unit non-refundable.
func (c *Controller) Commit(r *Reservation) {
	if r == nil || r.bypass || r.released {
		return
	}
	r.committed = true
}

// Remaining reports the user's remaining quota without mutating anything.
func (c *Controller) Remaining(ctx context.Context, userID string, plan report.Plan) (int, error) {
	if plan.Unlimited() {
		return report.UnlimitedQuota, nil
	}
	counter, err := c.usage.Usage(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	remaining := plan.Quota - counter.Consumed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ResetAt derives the instant the user's counter resets, for the
// QuotaExceeded response.
func (c *Controller) ResetAt(ctx context.Context, userID string, plan report.Plan) (string, error) {
	counter, err := c.usage.Usage(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("read usage counter: %w", err)
	}
	if plan.Period <= 0 || counter.PeriodStart.IsZero() {
		return "", nil
	}
	return counter.PeriodStart.Add(plan.Period).Format("2006-01-02T15:04:05Z07:00"), nil
}
