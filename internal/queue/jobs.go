// Package queue defines the job lanes of the pipeline and the payloads that
// travel on them. Backends (SQS in production, memory in tests) move opaque
// JSON bodies; the typed Producer and Decode helpers sit on top.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autoreply/internal/domain"
)

type Lane string

const (
	LaneWebhook      Lane = "webhook-processing"
	LaneReply        Lane = "reply-dispatch"
	LaneAnalytics    Lane = "analytics"
	LaneNotification Lane = "notifications"
)

var Lanes = []Lane{LaneWebhook, LaneReply, LaneAnalytics, LaneNotification}

type WebhookJobData struct {
	Event domain.NormalizedEvent `json:"event"`
}

type ReplyJobData struct {
	RuleID       string                 `json:"ruleId"`
	AccountID    string                 `json:"accountId"`
	TriggerData  domain.NormalizedEvent `json:"triggerData"`
	ActionConfig domain.ActionConfig    `json:"actionConfig"`
}

type AnalyticsType string

const (
	AnalyticsPageView    AnalyticsType = "page_view"
	AnalyticsButtonClick AnalyticsType = "button_click"
	AnalyticsReplySent   AnalyticsType = "reply_sent"
)

type AnalyticsJobData struct {
	Type AnalyticsType     `json:"type"`
	Data map[string]string `json:"data"`
}

type NotificationType string

const (
	NotifyEmail NotificationType = "email"
	NotifyPush  NotificationType = "push"
	NotifyInApp NotificationType = "in_app"
)

type NotificationJobData struct {
	UserID  string            `json:"userId"`
	Type    NotificationType  `json:"type"`
	Subject string            `json:"subject"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

// Message is what a backend stores: a lane, a dedup key and a JSON body.
// GroupKey keeps related jobs ordered on FIFO backends.
type Message struct {
	Lane     Lane
	DedupID  string
	GroupKey string
	Body     []byte
}

type Backend interface {
	Send(ctx context.Context, m Message) error
}

// Delivery describes one receipt of a message by a consumer.
type Delivery struct {
	ID      string
	Lane    Lane
	Attempt int
	// Final is set on the last attempt the backend will make; handlers that
	// must record a terminal outcome do it when Final is true.
	Final bool
}

type Handler func(ctx context.Context, d Delivery, body []byte) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Consumers dead-letter and delete
// the message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// Decode adapts a typed handler to the raw Handler. A body that does not
// decode is a permanent error.
func Decode[T any](fn func(ctx context.Context, d Delivery, job T) error) Handler {
	return func(ctx context.Context, d Delivery, body []byte) error {
		var job T
		if err := json.Unmarshal(body, &job); err != nil {
			return Permanent(fmt.Errorf("decode %s job: %w", d.Lane, err))
		}
		return fn(ctx, d, job)
	}
}

// Backoff is the redelivery delay after the given (1-based) attempt.
func Backoff(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return 5 * time.Second
	case attempt == 2:
		return 30 * time.Second
	case attempt == 3:
		return 2 * time.Minute
	case attempt == 4:
		return 10 * time.Minute
	default:
		return 30 * time.Minute
	}
}
