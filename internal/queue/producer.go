package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"autoreply/internal/observability"
)

// Producer publishes typed jobs to their lanes.
type Producer struct {
	Backend Backend
}

func NewProducer(b Backend) *Producer { return &Producer{Backend: b} }

func (p *Producer) publish(ctx context.Context, lane Lane, dedupID, groupKey string, job any) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode %s job: %w", lane, err)
	}
	err = p.Backend.Send(ctx, Message{Lane: lane, DedupID: dedupID, GroupKey: groupKey, Body: body})
	if err != nil {
		observability.Enqueues.WithLabelValues(string(lane), "error").Inc()
		return fmt.Errorf("enqueue %s: %w", lane, err)
	}
	observability.Enqueues.WithLabelValues(string(lane), "ok").Inc()
	return nil
}

// EnqueueWebhook dedups on platform + external id so a redelivered webhook
// inside the broker's dedup window collapses to one job.
func (p *Producer) EnqueueWebhook(ctx context.Context, job WebhookJobData) error {
	ev := job.Event
	return p.publish(ctx, LaneWebhook, string(ev.Platform)+":"+ev.ExternalID, ev.Metadata.AccountID, job)
}

func (p *Producer) EnqueueReply(ctx context.Context, job ReplyJobData) error {
	return p.publish(ctx, LaneReply, job.RuleID+":"+job.TriggerData.ExternalID, job.AccountID, job)
}

// EnqueueAnalytics and EnqueueNotification have no natural key; the backend
// falls back to content dedup.
func (p *Producer) EnqueueAnalytics(ctx context.Context, job AnalyticsJobData) error {
	return p.publish(ctx, LaneAnalytics, "", job.Data["userId"], job)
}

func (p *Producer) EnqueueNotification(ctx context.Context, job NotificationJobData) error {
	return p.publish(ctx, LaneNotification, "", job.UserID, job)
}
