package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autoreply/internal/notify"
	"autoreply/internal/queue"
)

// Sender delivers an out-of-band notification (email, push).
type Sender interface {
	Send(ctx context.Context, job queue.NotificationJobData) error
}

// LogSender records the notification instead of delivering it.
type LogSender struct{}

func (LogSender) Send(_ context.Context, job queue.NotificationJobData) error {
	slog.Info("notification", "user_id", job.UserID, "type", job.Type, "subject", job.Subject)
	return nil
}

type NotificationProcessor struct {
	Realtime RealtimePublisher
	Email    Sender
	Push     Sender
}

func (p *NotificationProcessor) Process(ctx context.Context, _ queue.Delivery, job queue.NotificationJobData) error {
	if job.UserID == "" {
		return queue.Permanent(fmt.Errorf("notification without user"))
	}
	switch job.Type {
	case queue.NotifyInApp:
		return p.Realtime.Publish(ctx, job.UserID, notify.Event{
			Type:    notify.EventNotification,
			Subject: job.Subject,
			Message: job.Message,
			Data:    job.Data,
			At:      time.Now().UTC(),
		})
	case queue.NotifyEmail:
		return sendWith(ctx, p.Email, job)
	case queue.NotifyPush:
		return sendWith(ctx, p.Push, job)
	default:
		return queue.Permanent(fmt.Errorf("unknown notification type %q", job.Type))
	}
}

func sendWith(ctx context.Context, s Sender, job queue.NotificationJobData) error {
	if s == nil {
		s = LogSender{}
	}
	return s.Send(ctx, job)
}
