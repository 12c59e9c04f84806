package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geoinforme/parcelreport/internal/clock/system"
	"github.com/geoinforme/parcelreport/internal/report"
	"github.com/geoinforme/parcelreport/internal/storage/memory"
)

func newController(t *testing.T) (*Controller, *memory.UsageStore) {
	t.Helper()
	store := memory.NewUsageStore(system.New())
	return New(store, nil), store
}

func TestReserveCommitConsumesOneUnit(t *testing.T) {
	t.Parallel()

	c, store := newController(t)
	ctx := context.Background()
	plan := report.Plan{Tier: report.PlanFree, Quota: 3, Period: 30 * 24 * time.Hour}

	res, err := c.Reserve(ctx, "user-1", plan)
	require.NoError(t, err)
	require.Equal(t, 2, res.Remaining)

	c.Commit(res)
	// Committed units are non-refundable.
	require.NoError(t, c.Release(ctx, res))

	counter, err := store.Usage(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, counter.Consumed)
}

func TestReleaseRefundsUncommittedUnit(t *testing.T) {
	t.Parallel()

	c, store := newController(t)
	ctx := context.Background()
	plan := report.Plan{Tier: report.PlanFree, Quota: 1}

	res, err := c.Reserve(ctx, "user-1", plan)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, res))
	// Double release is a no-op.
	require.NoError(t, c.Release(ctx, res))

	counter, err := store.Usage(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, counter.Consumed)

	// The refunded unit is reservable again.
	_, err = c.Reserve(ctx, "user-1", plan)
	require.NoError(t, err)
}

func TestReserveAtLimitFails(t *testing.T) {
	t.Parallel()

	c, _ := newController(t)
	ctx := context.Background()
	plan := report.Plan{Tier: report.PlanFree, Quota: 1}

	res, err := c.Reserve(ctx, "user-1", plan)
	require.NoError(t, err)
	c.Commit(res)

	_, err = c.Reserve(ctx, "user-1", plan)
	require.ErrorIs(t, err, report.ErrQuotaExceeded)

	remaining, err := c.Remaining(ctx, "user-1", plan)
	require.NoError(t, err)
	require.Zero(t, remaining)
}

func TestEnterpriseBypassesCounter(t *testing.T) {
	t.Parallel()

	c, store := newController(t)
	ctx := context.Background()
	plan := report.Plan{Tier: report.PlanEnterprise, Quota: report.UnlimitedQuota}

	for i := 0; i < 5; i++ {
		res, err := c.Reserve(ctx, "ent-user", plan)
		require.NoError(t, err)
		c.Commit(res)
		require.NoError(t, c.Release(ctx, res))
	}

	counter, err := store.Usage(ctx, "ent-user")
	require.NoError(t, err)
	require.Zero(t, counter.Consumed)
}

func TestResetAtDerivesFromPeriodStart(t *testing.T) {
	t.Parallel()

	c, store := newController(t)
	ctx := context.Background()
	plan := report.Plan{Tier: report.PlanFree, Quota: 3, Period: 24 * time.Hour}

	_, err := c.Reserve(ctx, "user-1", plan)
	require.NoError(t, err)

	counter, err := store.Usage(ctx, "user-1")
	require.NoError(t, err)

	resetAt, err := c.ResetAt(ctx, "user-1", plan)
	require.NoError(t, err)
	require.Equal(t, counter.PeriodStart.Add(24*time.Hour).Format(time.RFC3339), resetAt)
}
