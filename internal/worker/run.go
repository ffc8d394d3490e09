package worker

import (
	"context"
	"log/slog"
	"time"

	"autoreply/internal/observability"
	"autoreply/internal/queue"
)

// Instrument wraps a lane handler with the job start/finish log lines and
// job metrics.
func Instrument(lane queue.Lane, next queue.Handler) queue.Handler {
	return func(ctx context.Context, d queue.Delivery, body []byte) (err error) {
		start := time.Now()
		slog.Debug("job start", "lane", lane, "message_id", d.ID, "attempt", d.Attempt)
		defer func() {
			status := "ok"
			switch {
			case err == nil:
			case queue.IsPermanent(err):
				status = "failed"
			default:
				status = "retry"
			}
			observability.Jobs.WithLabelValues(string(lane), status).Inc()
			observability.JobDuration.WithLabelValues(string(lane)).Observe(time.Since(start).Seconds())
			if err != nil {
				slog.Info("job finish", "lane", lane, "message_id", d.ID, "status", status, "duration", time.Since(start), "err", err)
				return
			}
			slog.Info("job finish", "lane", lane, "message_id", d.ID, "status", status, "duration", time.Since(start))
		}()
		return next(ctx, d, body)
	}
}
