package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"autoreply/internal/domain"
	"autoreply/internal/observability"
	"autoreply/internal/queue"
)

type UsageRecorder interface {
	RecordPageView(ctx context.Context, userID string) error
	RecordButtonClick(ctx context.Context, userID string) error
}

// AnalyticsProcessor turns analytics jobs into monthly usage counters.
// reply_sent only feeds the analytics counter: the dispatcher already counted
// the reply against the plan.
type AnalyticsProcessor struct {
	Usage UsageRecorder
}

func (p *AnalyticsProcessor) Process(ctx context.Context, _ queue.Delivery, job queue.AnalyticsJobData) error {
	userID := job.Data["userId"]
	var err error
	switch job.Type {
	case queue.AnalyticsPageView:
		err = p.Usage.RecordPageView(ctx, userID)
	case queue.AnalyticsButtonClick:
		err = p.Usage.RecordButtonClick(ctx, userID)
	case queue.AnalyticsReplySent:
		slog.Debug("reply sent", "user_id", userID, "rule_id", job.Data["ruleId"], "platform", job.Data["platform"])
	default:
		return queue.Permanent(fmt.Errorf("unknown analytics type %q", job.Type))
	}
	if errors.Is(err, domain.ErrMissingFields) {
		return queue.Permanent(fmt.Errorf("%s: %w", job.Type, err))
	}
	if err != nil {
		return err
	}
	observability.AnalyticsEvents.WithLabelValues(string(job.Type), job.Data["platform"]).Inc()
	return nil
}
