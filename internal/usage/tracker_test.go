package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
	"autoreply/internal/store"
)

type fakeStore struct {
	plans map[string]domain.Plan
	usage map[[3]any]domain.MonthlyUsage
	incs  []store.UsageIncrement
}

func (f *fakeStore) GetUserPlan(_ context.Context, userID string) (domain.Plan, error) {
	p, ok := f.plans[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetMonthlyUsage(_ context.Context, userID string, year, month int) (domain.MonthlyUsage, error) {
	return f.usage[[3]any{userID, year, month}], nil
}

func (f *fakeStore) IncrementUsage(_ context.Context, in store.UsageIncrement) error {
	f.incs = append(f.incs, in)
	return nil
}

func newTracker(used int64, plan domain.Plan) (*Tracker, *fakeStore) {
	fs := &fakeStore{
		plans: map[string]domain.Plan{"u1": plan},
		usage: map[[3]any]domain.MonthlyUsage{{"u1", 2024, 3}: {RepliesSent: used}},
	}
	tr := NewTracker(fs, DefaultLimits)
	tr.Now = func() time.Time { return time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC) }
	return tr, fs
}

func TestQuotaBoundary(t *testing.T) {
	cases := []struct {
		used    int64
		plan    domain.Plan
		allowed bool
	}{
		{0, domain.PlanFree, true},
		{99, domain.PlanFree, true},
		{100, domain.PlanFree, false},
		{250, domain.PlanFree, false},
		{4999, domain.PlanPro, true},
		{5000, domain.PlanPro, false},
		{1_000_000, domain.PlanBusiness, true},
		{100, domain.Plan("legacy"), false},
	}
	for _, tc := range cases {
		tr, _ := newTracker(tc.used, tc.plan)
		d, err := tr.CheckReplyQuota(context.Background(), "u1")
		require.NoError(t, err)
		require.Equal(t, tc.allowed, d.Allowed, "plan=%s used=%d", tc.plan, tc.used)
		require.Equal(t, tc.used, d.Used)
	}
}

func TestQuotaUsesCurrentUTCMonth(t *testing.T) {
	tr, _ := newTracker(100, domain.PlanFree)
	// 2024-04-01 01:00 in UTC+3 is still March in UTC
	tr.Now = func() time.Time { return time.Date(2024, 4, 1, 1, 0, 0, 0, time.FixedZone("x", 3*3600)) }
	d, err := tr.CheckReplyQuota(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 3, d.Month)
	require.False(t, d.Allowed)

	tr.Now = func() time.Time { return time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC) }
	d, err = tr.CheckReplyQuota(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestQuotaUnknownUser(t *testing.T) {
	tr, _ := newTracker(0, domain.PlanFree)
	_, err := tr.CheckReplyQuota(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCounters(t *testing.T) {
	tr, fs := newTracker(0, domain.PlanFree)
	ctx := context.Background()
	require.NoError(t, tr.RecordPageView(ctx, "u1"))
	require.NoError(t, tr.RecordButtonClick(ctx, "u1"))
	require.ErrorIs(t, tr.RecordPageView(ctx, ""), domain.ErrMissingFields)

	require.Len(t, fs.incs, 2)
	require.Equal(t, int64(1), fs.incs[0].PageViews)
	require.Equal(t, int64(1), fs.incs[1].ButtonClicks)
	require.Equal(t, 2024, fs.incs[0].Year)
	require.Equal(t, 3, fs.incs[0].Month)
}

func TestParseLimits(t *testing.T) {
	require.Equal(t, DefaultLimits, ParseLimits(nil))
	l := ParseLimits(map[string]int64{"free": 10, "business": -1})
	require.Equal(t, int64(10), l.Limit(domain.PlanFree))
	require.Equal(t, Unlimited, l.Limit(domain.PlanBusiness))
	require.Equal(t, int64(10), l.Limit(domain.PlanPro))
}
