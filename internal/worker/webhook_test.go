package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
	"autoreply/internal/queue"
	"autoreply/internal/queue/memory"
)

func newWebhookFixture() (*WebhookProcessor, *fakeStore, *memory.Queue) {
	fs := newFakeStore()
	q := memory.New()
	p := &WebhookProcessor{
		Rules:    fs,
		Accounts: fs,
		Queue:    queue.NewProducer(q),
		Now:      func() time.Time { return testNow },
	}
	return p, fs, q
}

// Scenario A: the keyword rule outranks the catch-all comment rule.
func TestWebhookEnqueuesHighestPriorityMatch(t *testing.T) {
	p, fs, q := newWebhookFixture()
	fs.accounts["acc-1"] = domain.SocialAccount{ID: "acc-1", UserID: "u1", LinkPageURL: "https://l.example/ana"}
	fs.rules["any"] = domain.Rule{ID: "any", AccountID: "acc-1", Platform: domain.PlatformInstagram, IsActive: true, Priority: 3,
		Trigger: domain.EventTrigger{Event: domain.EventComment},
		Action:  domain.ActionConfig{Type: domain.ActionReply, Message: "Thanks!"}}
	fs.rules["kw"] = domain.Rule{ID: "kw", AccountID: "acc-1", Platform: domain.PlatformInstagram, IsActive: true, Priority: 8,
		Trigger: domain.KeywordTrigger{Keywords: []string{"love"}},
		Action:  domain.ActionConfig{Type: domain.ActionReply, Message: "Glad you love it {userName}!", IncludeLink: true}}

	ev := domain.NormalizedEvent{
		Platform: domain.PlatformInstagram, Type: domain.EventComment, ExternalID: "c-1",
		SenderName: "ana", Content: "love this!", Metadata: domain.EventMetadata{AccountID: "acc-1"},
	}
	require.NoError(t, p.Process(context.Background(), queue.Delivery{}, queue.WebhookJobData{Event: ev}))

	pending := q.Pending(queue.LaneReply)
	require.Len(t, pending, 1)
	var job queue.ReplyJobData
	require.NoError(t, json.Unmarshal(pending[0].Body, &job))
	require.Equal(t, "kw", job.RuleID)
	require.Equal(t, "acc-1", job.AccountID)
	require.Equal(t, "c-1", job.TriggerData.ExternalID)
	require.Equal(t, "Glad you love it ana!\nhttps://l.example/ana", job.ActionConfig.Message)
}

// Scenario B: no active rules means no reply job.
func TestWebhookNoRulesNoJob(t *testing.T) {
	p, fs, q := newWebhookFixture()
	fs.accounts["wa-1"] = domain.SocialAccount{ID: "wa-1", UserID: "u2"}
	fs.rules["off"] = domain.Rule{ID: "off", AccountID: "wa-1", Platform: domain.PlatformWhatsApp, IsActive: false, Priority: 10,
		Trigger: domain.EventTrigger{Event: domain.EventMessage}, Action: domain.ActionConfig{Type: domain.ActionReply, Message: "x"}}

	ev := domain.NormalizedEvent{
		Platform: domain.PlatformWhatsApp, Type: domain.EventMessage, ExternalID: "wamid.1",
		Content: "hi", Metadata: domain.EventMetadata{AccountID: "wa-1"},
	}
	require.NoError(t, p.Process(context.Background(), queue.Delivery{}, queue.WebhookJobData{Event: ev}))
	require.Empty(t, q.Pending(queue.LaneReply))
}

func TestWebhookWithoutAccountCompletes(t *testing.T) {
	p, _, q := newWebhookFixture()
	ev := domain.NormalizedEvent{Platform: domain.PlatformFacebook, Type: domain.EventComment, ExternalID: "c"}
	require.NoError(t, p.Process(context.Background(), queue.Delivery{}, queue.WebhookJobData{Event: ev}))
	require.Empty(t, q.Pending(queue.LaneReply))
}

func TestWebhookEnqueueFailureIsRetryable(t *testing.T) {
	p, fs, q := newWebhookFixture()
	fs.accounts["acc-1"] = domain.SocialAccount{ID: "acc-1", UserID: "u1"}
	fs.rules["any"] = domain.Rule{ID: "any", AccountID: "acc-1", Platform: domain.PlatformFacebook, IsActive: true, Priority: 5,
		Trigger: domain.EventTrigger{Event: domain.EventComment}, Action: domain.ActionConfig{Type: domain.ActionReply, Message: "hi"}}
	q.FailSends(func(queue.Message) error { return context.DeadlineExceeded })

	ev := domain.NormalizedEvent{Platform: domain.PlatformFacebook, Type: domain.EventComment, ExternalID: "c", Metadata: domain.EventMetadata{AccountID: "acc-1"}}
	err := p.Process(context.Background(), queue.Delivery{}, queue.WebhookJobData{Event: ev})
	require.Error(t, err)
	require.False(t, queue.IsPermanent(err))
}
