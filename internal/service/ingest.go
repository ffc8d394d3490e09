package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/observability"
	"autoreply/internal/providers"
	"autoreply/internal/queue"
)

type AdapterRegistry interface {
	Resolve(platform string) (providers.Adapter, bool)
}

type AccountLookup interface {
	FindAccountByExternalID(ctx context.Context, platform domain.Platform, externalID string) (domain.SocialAccount, error)
}

type WebhookQueue interface {
	EnqueueWebhook(ctx context.Context, job queue.WebhookJobData) error
}

type IngestResult struct {
	Ignored  bool
	Events   int
	Queued   int
	Unlinked int
}

// IngestService turns one verified webhook body into webhook jobs. It never
// blocks on rule matching or dispatch.
type IngestService struct {
	Adapters AdapterRegistry
	Accounts AccountLookup
	Queue    WebhookQueue

	// PublishAttempts bounds in-process publish retries per event (default 3).
	PublishAttempts int
	PublishBackoff  time.Duration
}

// Ingest parses body with the platform adapter, stamps each event with the
// owning account and publishes one job per event. Per-event failures do not
// stop the rest of the batch; they are joined into the returned error.
func (s *IngestService) Ingest(ctx context.Context, platform string, body []byte) (IngestResult, error) {
	adapter, ok := s.Adapters.Resolve(platform)
	if !ok {
		observability.WebhookEvents.WithLabelValues("unknown", "ignored").Inc()
		return IngestResult{Ignored: true}, nil
	}
	label := string(adapter.Platform())

	events := adapter.ParseIncomingEvent(body)
	res := IngestResult{Events: len(events)}
	var errs []error

	for _, ev := range events {
		acc, err := s.Accounts.FindAccountByExternalID(ctx, ev.Platform, ev.Metadata.PageID)
		if errors.Is(err, domain.ErrNotFound) {
			res.Unlinked++
			observability.WebhookEvents.WithLabelValues(label, "unlinked").Inc()
			slog.Debug("event for unconnected account", "platform", label, "page_id", ev.Metadata.PageID)
			continue
		}
		if err != nil {
			observability.WebhookEvents.WithLabelValues(label, "lookup_failed").Inc()
			errs = append(errs, fmt.Errorf("lookup account %s: %w", ev.Metadata.PageID, err))
			continue
		}
		if ev.SenderID != "" && ev.SenderID == acc.ExternalID {
			observability.WebhookEvents.WithLabelValues(label, "self").Inc()
			continue
		}
		ev.Metadata.AccountID = acc.ID

		if err := s.publish(ctx, queue.WebhookJobData{Event: ev}); err != nil {
			observability.WebhookEvents.WithLabelValues(label, "publish_failed").Inc()
			errs = append(errs, fmt.Errorf("publish %s: %w", ev.ExternalID, err))
			continue
		}
		res.Queued++
		observability.WebhookEvents.WithLabelValues(label, "queued").Inc()
	}
	return res, errors.Join(errs...)
}

func (s *IngestService) publish(ctx context.Context, job queue.WebhookJobData) error {
	attempts := s.PublishAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := s.PublishBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = s.Queue.EnqueueWebhook(ctx, job); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff << i):
		}
	}
	return err
}
