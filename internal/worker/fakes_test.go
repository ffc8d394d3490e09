package worker

import (
	"context"
	"sync"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/notify"
	"autoreply/internal/providers"
	"autoreply/internal/store"
	"autoreply/internal/usage"
)

type fakeStore struct {
	mu       sync.Mutex
	rules    map[string]domain.Rule
	accounts map[string]domain.SocialAccount
	logs     []domain.RuleExecutionLog
	replies  map[string]int64
	execs    map[string]int64
	logErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:    map[string]domain.Rule{},
		accounts: map[string]domain.SocialAccount{},
		replies:  map[string]int64{},
		execs:    map[string]int64{},
	}
}

func (f *fakeStore) ListActiveRules(_ context.Context, accountID string) ([]domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Rule
	for _, r := range f.rules {
		if r.AccountID == accountID && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRule(_ context.Context, id string) (domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return domain.Rule{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) GetSocialAccount(_ context.Context, id string) (domain.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return domain.SocialAccount{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) HasSuccessfulExecution(_ context.Context, ruleID, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.Success && l.RuleID == ruleID && l.TriggerData.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertExecutionLog(_ context.Context, l domain.RuleExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	f.logs = append(f.logs, l)
	return nil
}

func (f *fakeStore) RecordSuccess(_ context.Context, in store.SuccessRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.Success && l.RuleID == in.Log.RuleID && l.TriggerData.ExternalID == in.Log.TriggerData.ExternalID {
			return false, nil
		}
	}
	f.logs = append(f.logs, in.Log)
	f.replies[in.UserID]++
	f.execs[in.Log.RuleID]++
	return true, nil
}

func (f *fakeStore) snapshot() []domain.RuleExecutionLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RuleExecutionLog(nil), f.logs...)
}

type fakeAdapter struct {
	platform domain.Platform
	mu       sync.Mutex
	results  []providers.SendResult
	sent     []providers.SendRequest
}

func (a *fakeAdapter) Platform() domain.Platform { return a.platform }
func (a *fakeAdapter) OAuthURL(string) string    { return "" }
func (a *fakeAdapter) ExchangeCodeForToken(context.Context, string) (providers.TokenResult, error) {
	return providers.TokenResult{}, nil
}
func (a *fakeAdapter) UserProfile(context.Context, string) (providers.Profile, error) {
	return providers.Profile{}, nil
}
func (a *fakeAdapter) ParseIncomingEvent([]byte) []domain.NormalizedEvent { return nil }

// SendReply pops the next scripted result; the last one repeats.
func (a *fakeAdapter) SendReply(_ context.Context, req providers.SendRequest) providers.SendResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, req)
	if len(a.results) == 0 {
		return providers.SendResult{Success: true, ID: "sent-1"}
	}
	res := a.results[0]
	if len(a.results) > 1 {
		a.results = a.results[1:]
	}
	return res
}

func (a *fakeAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type adapterMap map[domain.Platform]providers.Adapter

func (m adapterMap) Get(p domain.Platform) (providers.Adapter, bool) {
	a, ok := m[p]
	return a, ok
}

type fakeQuota struct {
	allowed bool
	calls   int
}

func (q *fakeQuota) CheckReplyQuota(context.Context, string) (usage.Decision, error) {
	q.calls++
	return usage.Decision{Plan: domain.PlanFree, Used: 100, Limit: 100, Allowed: q.allowed}, nil
}

type fakeRealtime struct {
	mu     sync.Mutex
	events map[string][]notify.Event
}

func (r *fakeRealtime) Publish(_ context.Context, userID string, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[string][]notify.Event{}
	}
	r.events[userID] = append(r.events[userID], ev)
	return nil
}

var testNow = time.Date(2024, 3, 14, 10, 30, 0, 0, time.UTC)
