package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"autoreply/internal/domain"
	"autoreply/internal/notify"
	"autoreply/internal/observability"
	"autoreply/internal/providers"
	"autoreply/internal/queue"
	"autoreply/internal/store"
	"autoreply/internal/usage"
	"autoreply/internal/util"
)

type DispatchStore interface {
	GetRule(ctx context.Context, id string) (domain.Rule, error)
	GetSocialAccount(ctx context.Context, id string) (domain.SocialAccount, error)
	HasSuccessfulExecution(ctx context.Context, ruleID, externalID string) (bool, error)
	InsertExecutionLog(ctx context.Context, l domain.RuleExecutionLog) error
	RecordSuccess(ctx context.Context, in store.SuccessRecord) (bool, error)
}

type QuotaChecker interface {
	CheckReplyQuota(ctx context.Context, userID string) (usage.Decision, error)
}

type AdapterResolver interface {
	Get(p domain.Platform) (providers.Adapter, bool)
}

type RealtimePublisher interface {
	Publish(ctx context.Context, userID string, ev notify.Event) error
}

// FollowUpQueue receives the analytics and notification jobs a dispatch emits.
type FollowUpQueue interface {
	EnqueueAnalytics(ctx context.Context, job queue.AnalyticsJobData) error
	EnqueueNotification(ctx context.Context, job queue.NotificationJobData) error
}

// Dispatcher executes reply jobs: load rule and account, check the quota,
// skip events already answered, send through the platform adapter and record
// the outcome. Every terminal outcome writes an execution log row.
type Dispatcher struct {
	Store    DispatchStore
	Quota    QuotaChecker
	Adapters AdapterResolver
	Realtime RealtimePublisher
	FollowUp FollowUpQueue

	// Limiters and Breakers are per platform; a missing entry disables the guard.
	Limiters    map[domain.Platform]*rate.Limiter
	Breakers    map[domain.Platform]*gobreaker.CircuitBreaker
	SendTimeout time.Duration

	Now   func() time.Time
	NewID func() string
}

func (p *Dispatcher) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *Dispatcher) newID() string {
	if p.NewID == nil {
		return util.NewLogID()
	}
	return p.NewID()
}

func (p *Dispatcher) Process(ctx context.Context, d queue.Delivery, job queue.ReplyJobData) error {
	ev := job.TriggerData
	platform := string(ev.Platform)
	log := slog.With("rule_id", job.RuleID, "account_id", job.AccountID, "external_id", ev.ExternalID, "platform", platform, "attempt", d.Attempt)

	// Loaded
	rule, err := p.Store.GetRule(ctx, job.RuleID)
	if errors.Is(err, domain.ErrNotFound) {
		observability.Dispatches.WithLabelValues(platform, "fatal").Inc()
		log.Warn("reply rule no longer exists")
		return p.fail(ctx, job, domain.ReasonRuleNotFound, nil, "", err)
	}
	if err != nil {
		return p.transient(ctx, d, job, "", fmt.Errorf("load rule: %w", err))
	}
	acc, err := p.Store.GetSocialAccount(ctx, job.AccountID)
	if errors.Is(err, domain.ErrNotFound) {
		observability.Dispatches.WithLabelValues(platform, "fatal").Inc()
		log.Warn("reply account no longer exists")
		return p.fail(ctx, job, domain.ReasonAccountNotFound, nil, "", err)
	}
	if err != nil {
		return p.transient(ctx, d, job, "", fmt.Errorf("load account: %w", err))
	}

	done, err := p.Store.HasSuccessfulExecution(ctx, rule.ID, ev.ExternalID)
	if err != nil {
		return p.transient(ctx, d, job, acc.UserID, fmt.Errorf("idempotency check: %w", err))
	}
	if done {
		observability.Dispatches.WithLabelValues(platform, "duplicate").Inc()
		log.Info("reply already recorded, skipping")
		return nil
	}

	// QuotaChecked
	decision, err := p.Quota.CheckReplyQuota(ctx, acc.UserID)
	if err != nil {
		return p.transient(ctx, d, job, acc.UserID, fmt.Errorf("quota check: %w", err))
	}
	if !decision.Allowed {
		observability.Dispatches.WithLabelValues(platform, "quota_exceeded").Inc()
		observability.QuotaRejections.WithLabelValues(string(decision.Plan)).Inc()
		log.Info("reply blocked by quota", "plan", decision.Plan, "used", decision.Used, "limit", decision.Limit)
		if err := p.fail(ctx, job, domain.ReasonQuotaExceeded, nil, acc.UserID, domain.ErrQuotaExceeded); !queue.IsPermanent(err) {
			return err
		}
		p.notifyQuota(ctx, job, acc.UserID, decision)
		// an expected business outcome, not a dead letter
		return nil
	}

	// Dispatched
	adapter, ok := p.Adapters.Get(ev.Platform)
	if !ok {
		observability.Dispatches.WithLabelValues(platform, "fatal").Inc()
		return p.fail(ctx, job, domain.ReasonUnsupportedPlatform, nil, acc.UserID, fmt.Errorf("no adapter for %s", platform))
	}

	res, err := p.send(ctx, adapter, BuildSendRequest(ev, job.ActionConfig, acc.AccessToken))
	if err != nil {
		// limiter or breaker refused; the provider was not called
		return p.transient(ctx, d, job, acc.UserID, err)
	}
	if !res.Success {
		resp := marshalResult(res)
		if !res.Retryable {
			observability.Dispatches.WithLabelValues(platform, "rejected").Inc()
			log.Warn("provider rejected reply", "http_status", res.HTTPStatus, "err", res.Error)
			return p.fail(ctx, job, domain.ReasonProviderRejected+": "+res.Error, resp, acc.UserID, errors.New(res.Error))
		}
		if d.Final {
			observability.Dispatches.WithLabelValues(platform, "exhausted").Inc()
			log.Warn("provider retries exhausted", "http_status", res.HTTPStatus, "err", res.Error)
			return p.fail(ctx, job, domain.ReasonRetryExhausted+": "+res.Error, resp, acc.UserID, errors.New(res.Error))
		}
		observability.Dispatches.WithLabelValues(platform, "retry").Inc()
		return fmt.Errorf("provider send failed (status %d): %s", res.HTTPStatus, res.Error)
	}

	// Recorded
	now := p.now()
	year, month := domain.UsagePeriod(now)
	recorded, err := p.Store.RecordSuccess(ctx, store.SuccessRecord{
		Log: domain.RuleExecutionLog{
			ID:           p.newID(),
			RuleID:       rule.ID,
			AccountID:    job.AccountID,
			TriggerData:  ev,
			ActionTaken:  string(job.ActionConfig.Type),
			Success:      true,
			ResponseData: marshalResult(res),
			CreatedAt:    now,
		},
		UserID: acc.UserID,
		Year:   year,
		Month:  month,
	})
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	if !recorded {
		observability.Dispatches.WithLabelValues(platform, "duplicate").Inc()
		log.Info("concurrent dispatch already recorded this reply")
		return nil
	}

	observability.Dispatches.WithLabelValues(platform, "sent").Inc()
	log.Info("reply sent", "provider_id", res.ID)
	p.publish(ctx, acc.UserID, notify.Event{
		Type: notify.EventReplySent, RuleID: rule.ID, AccountID: job.AccountID,
		Platform: platform, ExternalID: ev.ExternalID, At: now,
	})
	if p.FollowUp != nil {
		err := p.FollowUp.EnqueueAnalytics(ctx, queue.AnalyticsJobData{
			Type: queue.AnalyticsReplySent,
			Data: map[string]string{"userId": acc.UserID, "accountId": job.AccountID, "ruleId": rule.ID, "platform": platform},
		})
		if err != nil {
			log.Warn("analytics enqueue failed", "err", err)
		}
	}
	return nil
}

// send applies the platform limiter and breaker around one SendReply call.
// Retryable provider failures count against the breaker; rejections do not.
func (p *Dispatcher) send(ctx context.Context, a providers.Adapter, req providers.SendRequest) (providers.SendResult, error) {
	platform := a.Platform()
	label := string(platform)

	if lim := p.Limiters[platform]; lim != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := lim.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.ProviderSend.WithLabelValues(label, "rate_limited_local", "0").Inc()
			return providers.SendResult{}, fmt.Errorf("local rate limit: %w", err)
		}
	}

	call := func() (any, error) {
		sendCtx := ctx
		if p.SendTimeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, p.SendTimeout)
			defer cancel()
		}
		start := time.Now()
		res := a.SendReply(sendCtx, req)
		observability.ProviderLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())

		result := "ok"
		if !res.Success {
			result = "error"
		}
		observability.ProviderSend.WithLabelValues(label, result, strconv.Itoa(res.HTTPStatus)).Inc()

		if !res.Success && res.Retryable {
			return res, transientSendError{res: res}
		}
		return res, nil
	}

	cb := p.Breakers[platform]
	if cb == nil {
		v, _ := call()
		return v.(providers.SendResult), nil
	}
	v, err := cb.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ProviderSend.WithLabelValues(label, "cb_open", "0").Inc()
		return providers.SendResult{}, fmt.Errorf("%s circuit open: %w", label, err)
	}
	return v.(providers.SendResult), nil
}

type transientSendError struct{ res providers.SendResult }

func (e transientSendError) Error() string { return e.res.Error }

// transient returns err for redelivery, or records the terminal failure when
// this was the last attempt.
func (p *Dispatcher) transient(ctx context.Context, d queue.Delivery, job queue.ReplyJobData, userID string, err error) error {
	if !d.Final {
		return err
	}
	observability.Dispatches.WithLabelValues(string(job.TriggerData.Platform), "exhausted").Inc()
	return p.fail(ctx, job, domain.ReasonRetryExhausted+": "+err.Error(), nil, userID, err)
}

// terminalWriteTimeout bounds the failure log write and its realtime event.
// They run detached from the job context, which may already be expired when
// the last attempt timed out.
const terminalWriteTimeout = 5 * time.Second

// fail writes the failure log and returns a permanent error wrapping cause.
// If the log itself cannot be written the plain error is returned so the job
// is retried and the log attempted again.
func (p *Dispatcher) fail(ctx context.Context, job queue.ReplyJobData, reason string, resp json.RawMessage, userID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	now := p.now()
	err := p.Store.InsertExecutionLog(ctx, domain.RuleExecutionLog{
		ID:           p.newID(),
		RuleID:       job.RuleID,
		AccountID:    job.AccountID,
		TriggerData:  job.TriggerData,
		ActionTaken:  string(job.ActionConfig.Type),
		Success:      false,
		ResponseData: resp,
		ErrorMessage: reason,
		CreatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("write failure log: %w", err)
	}
	if userID != "" {
		p.publish(ctx, userID, notify.Event{
			Type: notify.EventReplyFailed, RuleID: job.RuleID, AccountID: job.AccountID,
			Platform: string(job.TriggerData.Platform), ExternalID: job.TriggerData.ExternalID,
			Error: reason, At: now,
		})
	}
	if cause == nil {
		cause = errors.New(reason)
	}
	return queue.Permanent(fmt.Errorf("%s: %w", reason, cause))
}

func (p *Dispatcher) publish(ctx context.Context, userID string, ev notify.Event) {
	if p.Realtime == nil {
		return
	}
	if err := p.Realtime.Publish(ctx, userID, ev); err != nil {
		slog.Warn("realtime publish failed", "user_id", userID, "type", ev.Type, "err", err)
	}
}

func (p *Dispatcher) notifyQuota(ctx context.Context, job queue.ReplyJobData, userID string, dec usage.Decision) {
	if p.FollowUp == nil {
		return
	}
	err := p.FollowUp.EnqueueNotification(ctx, queue.NotificationJobData{
		UserID:  userID,
		Type:    queue.NotifyInApp,
		Subject: "Monthly reply limit reached",
		Message: fmt.Sprintf("Your %s plan includes %d automatic replies per month. Upgrade to keep replying.", dec.Plan, dec.Limit),
		Data:    map[string]string{"ruleId": job.RuleID, "accountId": job.AccountID},
	})
	if err != nil {
		slog.Warn("quota notification enqueue failed", "user_id", userID, "err", err)
	}
}

// BuildSendRequest addresses the reply. Comments and mentions are answered in
// place; messages go back to the sender. A DIRECT_MESSAGE action on a comment
// becomes a private reply to that comment.
func BuildSendRequest(ev domain.NormalizedEvent, action domain.ActionConfig, token string) providers.SendRequest {
	req := providers.SendRequest{
		ToID:        ev.ExternalID,
		Content:     action.Message,
		AccessToken: token,
		Metadata:    ev.Metadata,
		EventType:   ev.Type,
	}
	switch {
	case ev.Type == domain.EventMessage || ev.Metadata.IsDirectMessage:
		req.ToID = ev.SenderID
		req.Metadata.IsDirectMessage = true
	case action.Type == domain.ActionDirectMessage:
		req.ToID = ev.SenderID
		req.PrivateReplyTo = ev.ExternalID
		req.Metadata.IsDirectMessage = true
	}
	return req
}

func marshalResult(res providers.SendResult) json.RawMessage {
	b, err := json.Marshal(res)
	if err != nil {
		return nil
	}
	return b
}
