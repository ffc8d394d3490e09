package domain

import (
	"encoding/json"
	"time"
)

type MonthlyUsage struct {
	UserID       string
	Year         int
	Month        int
	PageViews    int64
	ButtonClicks int64
	RepliesSent  int64
}

// UsagePeriod returns the calendar (year, month) key for t in UTC.
func UsagePeriod(t time.Time) (int, int) {
	u := t.UTC()
	return u.Year(), int(u.Month())
}

// RuleExecutionLog is one dispatch attempt. Rows are append-only.
type RuleExecutionLog struct {
	ID           string
	RuleID       string
	AccountID    string
	TriggerData  NormalizedEvent
	ActionTaken  string
	Success      bool
	ResponseData json.RawMessage
	ErrorMessage string
	CreatedAt    time.Time
}

// Failure reasons recorded in RuleExecutionLog.ErrorMessage.
const (
	ReasonQuotaExceeded       = "QUOTA_EXCEEDED"
	ReasonRuleNotFound        = "RULE_NOT_FOUND"
	ReasonAccountNotFound     = "ACCOUNT_NOT_FOUND"
	ReasonUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
	ReasonProviderRejected    = "PROVIDER_REJECTED"
	ReasonRetryExhausted      = "PROVIDER_RETRY_EXHAUSTED"
)
