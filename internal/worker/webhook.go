package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/observability"
	"autoreply/internal/queue"
	"autoreply/internal/rules"
)

type RuleSource interface {
	ListActiveRules(ctx context.Context, accountID string) ([]domain.Rule, error)
}

type AccountSource interface {
	GetSocialAccount(ctx context.Context, id string) (domain.SocialAccount, error)
}

type ReplyQueue interface {
	EnqueueReply(ctx context.Context, job queue.ReplyJobData) error
}

// WebhookProcessor matches one normalized event against the account's rules
// and enqueues at most one reply job.
type WebhookProcessor struct {
	Rules    RuleSource
	Accounts AccountSource
	Queue    ReplyQueue
	Now      func() time.Time
}

func (p *WebhookProcessor) Process(ctx context.Context, _ queue.Delivery, job queue.WebhookJobData) error {
	ev := job.Event
	platform := string(ev.Platform)
	accountID := ev.Metadata.AccountID
	if accountID == "" {
		observability.RuleMatches.WithLabelValues(platform, "no_account").Inc()
		slog.Debug("event has no account, nothing to match", "platform", platform, "external_id", ev.ExternalID)
		return nil
	}

	ruleSet, err := p.Rules.ListActiveRules(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if _, ok := rules.Select(ev, ruleSet); !ok {
		observability.RuleMatches.WithLabelValues(platform, "no_match").Inc()
		slog.Debug("no rule matched", "account_id", accountID, "platform", platform, "external_id", ev.ExternalID)
		return nil
	}

	acc, err := p.Accounts.GetSocialAccount(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		observability.RuleMatches.WithLabelValues(platform, "no_account").Inc()
		slog.Warn("account disconnected before matching", "account_id", accountID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	m, _ := rules.Evaluate(ev, ruleSet, rules.NewRenderContext(ev, acc.LinkPageURL, now))

	observability.RuleMatches.WithLabelValues(platform, "matched").Inc()
	slog.Info("rule matched", "rule_id", m.Rule.ID, "account_id", accountID, "platform", platform, "external_id", ev.ExternalID)

	return p.Queue.EnqueueReply(ctx, queue.ReplyJobData{
		RuleID:       m.Rule.ID,
		AccountID:    accountID,
		TriggerData:  ev,
		ActionConfig: m.Action,
	})
}
