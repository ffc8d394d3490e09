// Package usage gates replies on the owner's monthly plan quota and records
// page and button counters.
package usage

import (
	"context"
	"fmt"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/store"
)

// Unlimited as a plan limit disables the reply quota.
const Unlimited int64 = -1

type Store interface {
	GetUserPlan(ctx context.Context, userID string) (domain.Plan, error)
	GetMonthlyUsage(ctx context.Context, userID string, year, month int) (domain.MonthlyUsage, error)
	IncrementUsage(ctx context.Context, in store.UsageIncrement) error
}

type Limits map[domain.Plan]int64

// DefaultLimits apply when PLAN_REPLY_LIMITS is not set.
var DefaultLimits = Limits{
	domain.PlanFree:     100,
	domain.PlanPro:      5000,
	domain.PlanBusiness: Unlimited,
}

// ParseLimits converts the env map ("free" -> 100) into Limits.
func ParseLimits(m map[string]int64) Limits {
	if len(m) == 0 {
		return DefaultLimits
	}
	out := make(Limits, len(m))
	for k, v := range m {
		out[domain.Plan(k)] = v
	}
	return out
}

// Limit returns the reply limit for plan. Unknown plans get the free limit.
func (l Limits) Limit(plan domain.Plan) int64 {
	if v, ok := l[plan]; ok {
		return v
	}
	if v, ok := l[domain.PlanFree]; ok {
		return v
	}
	return 0
}

type Decision struct {
	Plan    domain.Plan
	Year    int
	Month   int
	Used    int64
	Limit   int64
	Allowed bool
}

type Tracker struct {
	Store  Store
	Limits Limits
	Now    func() time.Time
}

func NewTracker(s Store, limits Limits) *Tracker {
	return &Tracker{Store: s, Limits: limits, Now: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// CheckReplyQuota reads the current month's repliesSent for userID. A user
// at or over the limit is not allowed another reply.
func (t *Tracker) CheckReplyQuota(ctx context.Context, userID string) (Decision, error) {
	plan, err := t.Store.GetUserPlan(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load plan: %w", err)
	}
	year, month := domain.UsagePeriod(t.now())
	u, err := t.Store.GetMonthlyUsage(ctx, userID, year, month)
	if err != nil {
		return Decision{}, fmt.Errorf("load usage: %w", err)
	}
	limit := t.Limits.Limit(plan)
	return Decision{
		Plan:    plan,
		Year:    year,
		Month:   month,
		Used:    u.RepliesSent,
		Limit:   limit,
		Allowed: limit == Unlimited || (limit >= 0 && u.RepliesSent < limit),
	}, nil
}

func (t *Tracker) RecordPageView(ctx context.Context, userID string) error {
	return t.increment(ctx, store.UsageIncrement{UserID: userID, PageViews: 1})
}

func (t *Tracker) RecordButtonClick(ctx context.Context, userID string) error {
	return t.increment(ctx, store.UsageIncrement{UserID: userID, ButtonClicks: 1})
}

func (t *Tracker) increment(ctx context.Context, in store.UsageIncrement) error {
	if in.UserID == "" {
		return domain.ErrMissingFields
	}
	now := t.now()
	in.Year, in.Month = domain.UsagePeriod(now)
	in.Now = now.UTC()
	return t.Store.IncrementUsage(ctx, in)
}
