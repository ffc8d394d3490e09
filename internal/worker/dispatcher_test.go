package worker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
	"autoreply/internal/notify"
	"autoreply/internal/providers"
	"autoreply/internal/queue"
	"autoreply/internal/queue/memory"
)

type dispatchFixture struct {
	store    *fakeStore
	adapter  *fakeAdapter
	quota    *fakeQuota
	realtime *fakeRealtime
	q        *memory.Queue
	d        *Dispatcher
}

func newDispatchFixture() *dispatchFixture {
	f := &dispatchFixture{
		store:    newFakeStore(),
		adapter:  &fakeAdapter{platform: domain.PlatformInstagram},
		quota:    &fakeQuota{allowed: true},
		realtime: &fakeRealtime{},
		q:        memory.New(),
	}
	f.store.rules["r1"] = domain.Rule{
		ID: "r1", AccountID: "acc-1", Platform: domain.PlatformInstagram, IsActive: true, Priority: 8,
		Trigger: domain.KeywordTrigger{Keywords: []string{"love"}},
		Action:  domain.ActionConfig{Type: domain.ActionReply, Message: "Thanks {userName}!"},
	}
	f.store.accounts["acc-1"] = domain.SocialAccount{ID: "acc-1", UserID: "u1", Platform: domain.PlatformInstagram, ExternalID: "IG1", AccessToken: "tok"}

	f.d = &Dispatcher{
		Store:    f.store,
		Quota:    f.quota,
		Adapters: adapterMap{domain.PlatformInstagram: f.adapter},
		Realtime: f.realtime,
		FollowUp: queue.NewProducer(f.q),
		Now:      func() time.Time { return testNow },
	}
	return f
}

func replyJob() queue.ReplyJobData {
	return queue.ReplyJobData{
		RuleID:    "r1",
		AccountID: "acc-1",
		TriggerData: domain.NormalizedEvent{
			Platform: domain.PlatformInstagram, Type: domain.EventComment, ExternalID: "c-1",
			SenderID: "u9", SenderName: "ana", Content: "love this!",
			Metadata: domain.EventMetadata{AccountID: "acc-1", PageID: "IG1", PostID: "M1"},
		},
		ActionConfig: domain.ActionConfig{Type: domain.ActionReply, Message: "Thanks ana!"},
	}
}

func first() queue.Delivery { return queue.Delivery{Lane: queue.LaneReply, Attempt: 1} }

func TestDispatchSuccessRecordsEverything(t *testing.T) {
	f := newDispatchFixture()
	require.NoError(t, f.d.Process(context.Background(), first(), replyJob()))

	require.Equal(t, 1, f.adapter.calls())
	req := f.adapter.sent[0]
	require.Equal(t, "c-1", req.ToID)
	require.Equal(t, "Thanks ana!", req.Content)
	require.Equal(t, "tok", req.AccessToken)

	logs := f.store.snapshot()
	require.Len(t, logs, 1)
	require.True(t, logs[0].Success)
	require.Equal(t, "REPLY", logs[0].ActionTaken)
	require.NotEmpty(t, logs[0].ResponseData)
	require.Equal(t, int64(1), f.store.replies["u1"])
	require.Equal(t, int64(1), f.store.execs["r1"])

	evs := f.realtime.events["u1"]
	require.Len(t, evs, 1)
	require.Equal(t, notify.EventReplySent, evs[0].Type)
	require.Len(t, f.q.Pending(queue.LaneAnalytics), 1)
}

func TestDispatchIsIdempotentPerRuleAndEvent(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.d.Process(ctx, first(), replyJob()))
	}
	require.Equal(t, 1, f.adapter.calls())
	require.Len(t, f.store.snapshot(), 1)
	require.Equal(t, int64(1), f.store.replies["u1"])
}

func TestDispatchConcurrentDuplicatesRecordOnce(t *testing.T) {
	f := newDispatchFixture()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.d.Process(context.Background(), first(), replyJob())
		}()
	}
	wg.Wait()

	success := 0
	for _, l := range f.store.snapshot() {
		if l.Success {
			success++
		}
	}
	require.Equal(t, 1, success)
	require.Equal(t, int64(1), f.store.replies["u1"])
}

func TestDispatchQuotaExceeded(t *testing.T) {
	f := newDispatchFixture()
	f.quota.allowed = false

	require.NoError(t, f.d.Process(context.Background(), first(), replyJob()))
	require.Zero(t, f.adapter.calls())

	logs := f.store.snapshot()
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.Equal(t, domain.ReasonQuotaExceeded, logs[0].ErrorMessage)
	require.Zero(t, f.store.replies["u1"])

	notes := f.q.Pending(queue.LaneNotification)
	require.Len(t, notes, 1)
	require.Contains(t, string(notes[0].Body), `"type":"in_app"`)
	require.Equal(t, notify.EventReplyFailed, f.realtime.events["u1"][0].Type)
}

func TestDispatchRuleDeletedIsFatal(t *testing.T) {
	f := newDispatchFixture()
	delete(f.store.rules, "r1")

	err := f.d.Process(context.Background(), first(), replyJob())
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err))
	require.Zero(t, f.adapter.calls())

	logs := f.store.snapshot()
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.Equal(t, domain.ReasonRuleNotFound, logs[0].ErrorMessage)
}

func TestDispatchAccountDeletedIsFatal(t *testing.T) {
	f := newDispatchFixture()
	delete(f.store.accounts, "acc-1")

	err := f.d.Process(context.Background(), first(), replyJob())
	require.True(t, queue.IsPermanent(err))
	require.Equal(t, domain.ReasonAccountNotFound, f.store.snapshot()[0].ErrorMessage)
}

func TestDispatchUnsupportedPlatform(t *testing.T) {
	f := newDispatchFixture()
	f.d.Adapters = adapterMap{}

	err := f.d.Process(context.Background(), first(), replyJob())
	require.True(t, queue.IsPermanent(err))
	require.Equal(t, domain.ReasonUnsupportedPlatform, f.store.snapshot()[0].ErrorMessage)
}

func TestDispatchRejectedIsNotRetried(t *testing.T) {
	f := newDispatchFixture()
	f.adapter.results = []providers.SendResult{{Error: "invalid comment id", HTTPStatus: 400}}

	err := f.d.Process(context.Background(), first(), replyJob())
	require.True(t, queue.IsPermanent(err))
	logs := f.store.snapshot()
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.True(t, strings.HasPrefix(logs[0].ErrorMessage, domain.ReasonProviderRejected))
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	f := newDispatchFixture()
	f.adapter.results = []providers.SendResult{
		{Error: "service unavailable", HTTPStatus: 503, Retryable: true},
		{Success: true, ID: "reply-9", HTTPStatus: 200},
	}
	ctx := context.Background()
	require.NoError(t, f.q.Send(ctx, queue.Message{Lane: queue.LaneReply, Body: mustJSON(t, replyJob())}))

	n := f.q.Drain(ctx, queue.LaneReply, queue.Decode(f.d.Process))
	require.Equal(t, 2, n)
	require.Equal(t, 2, f.adapter.calls())

	logs := f.store.snapshot()
	require.Len(t, logs, 1)
	require.True(t, logs[0].Success)
	require.Empty(t, f.q.DeadLetters())
}

func TestDispatchRetryExhaustion(t *testing.T) {
	f := newDispatchFixture()
	f.q.MaxAttempts = 3
	f.adapter.results = []providers.SendResult{{Error: "rate limited", HTTPStatus: 429, Retryable: true}}
	ctx := context.Background()
	require.NoError(t, f.q.Send(ctx, queue.Message{Lane: queue.LaneReply, Body: mustJSON(t, replyJob())}))

	n := f.q.Drain(ctx, queue.LaneReply, queue.Decode(f.d.Process))
	require.Equal(t, 3, n)
	require.Equal(t, 3, f.adapter.calls())

	logs := f.store.snapshot()
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.True(t, strings.HasPrefix(logs[0].ErrorMessage, domain.ReasonRetryExhausted))
	require.Len(t, f.q.DeadLetters(), 1)
	require.Zero(t, f.store.replies["u1"])
}

func TestDispatchFailureLogWriteErrorIsRetried(t *testing.T) {
	f := newDispatchFixture()
	delete(f.store.rules, "r1")
	f.store.logErr = context.DeadlineExceeded

	err := f.d.Process(context.Background(), first(), replyJob())
	require.Error(t, err)
	require.False(t, queue.IsPermanent(err))
}

// deadlineStore refuses writes on an expired context, like pgx does.
type deadlineStore struct{ *fakeStore }

func (s deadlineStore) InsertExecutionLog(ctx context.Context, l domain.RuleExecutionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeStore.InsertExecutionLog(ctx, l)
}

// hangingAdapter answers only once the caller gives up.
type hangingAdapter struct{ *fakeAdapter }

func (a hangingAdapter) SendReply(ctx context.Context, _ providers.SendRequest) providers.SendResult {
	<-ctx.Done()
	return providers.SendResult{Error: ctx.Err().Error(), Retryable: true}
}

func TestDispatchFinalAttemptTimeoutStillLogs(t *testing.T) {
	f := newDispatchFixture()
	f.d.Store = deadlineStore{f.store}
	f.d.Adapters = adapterMap{domain.PlatformInstagram: hangingAdapter{f.adapter}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	last := queue.Delivery{Lane: queue.LaneReply, Attempt: 5, Final: true}

	err := f.d.Process(ctx, last, replyJob())
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err))

	logs := f.store.snapshot()
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.True(t, strings.HasPrefix(logs[0].ErrorMessage, domain.ReasonRetryExhausted))
	require.Len(t, f.realtime.events["u1"], 1)
	require.Equal(t, notify.EventReplyFailed, f.realtime.events["u1"][0].Type)
}

func TestBuildSendRequest(t *testing.T) {
	comment := replyJob().TriggerData

	req := BuildSendRequest(comment, domain.ActionConfig{Type: domain.ActionReply, Message: "hi"}, "t")
	require.Equal(t, "c-1", req.ToID)
	require.False(t, req.Metadata.IsDirectMessage)

	req = BuildSendRequest(comment, domain.ActionConfig{Type: domain.ActionDirectMessage, Message: "hi"}, "t")
	require.Equal(t, "u9", req.ToID)
	require.Equal(t, "c-1", req.PrivateReplyTo)
	require.True(t, req.Metadata.IsDirectMessage)

	msg := comment
	msg.Type = domain.EventMessage
	msg.ExternalID = "mid.1"
	req = BuildSendRequest(msg, domain.ActionConfig{Type: domain.ActionReply, Message: "hi"}, "t")
	require.Equal(t, "u9", req.ToID)
	require.Empty(t, req.PrivateReplyTo)
	require.True(t, req.Metadata.IsDirectMessage)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
