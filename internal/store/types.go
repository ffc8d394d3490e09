package store

import (
	"time"

	"autoreply/internal/domain"
)

type AccountUpsert struct {
	ID          string
	UserID      string
	Platform    domain.Platform
	ExternalID  string
	Name        string
	AccessToken string
	Now         time.Time
}

// UsageIncrement adds the deltas to one (user, year, month) row, creating it
// if needed.
type UsageIncrement struct {
	UserID       string
	Year         int
	Month        int
	PageViews    int64
	ButtonClicks int64
	RepliesSent  int64
	Now          time.Time
}

// SuccessRecord is everything written when a reply went out.
type SuccessRecord struct {
	Log    domain.RuleExecutionLog
	UserID string
	Year   int
	Month  int
}
