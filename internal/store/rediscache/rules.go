// Package rediscache is a read-through Redis cache in front of the rule store.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"autoreply/internal/domain"
	"autoreply/internal/observability"
)

const DefaultTTL = 60 * time.Second

type RuleLoader interface {
	ListActiveRules(ctx context.Context, accountID string) ([]domain.Rule, error)
}

// RuleCache serves ListActiveRules from Redis and falls through to Loader on
// a miss or when Redis is unavailable. Concurrent misses for one account
// share a single load.
type RuleCache struct {
	Redis  goredis.UniversalClient
	Loader RuleLoader
	TTL    time.Duration

	group singleflight.Group
}

func NewRuleCache(client goredis.UniversalClient, loader RuleLoader, ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RuleCache{Redis: client, Loader: loader, TTL: ttl}
}

func Key(accountID string) string { return "rules:account:" + accountID }

func (c *RuleCache) ListActiveRules(ctx context.Context, accountID string) ([]domain.Rule, error) {
	key := Key(accountID)

	raw, err := c.Redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rules []domain.Rule
		if jerr := json.Unmarshal(raw, &rules); jerr == nil {
			observability.RuleCache.WithLabelValues("hit").Inc()
			return rules, nil
		}
		slog.Warn("rule cache entry undecodable", "account_id", accountID)
	case !errors.Is(err, goredis.Nil):
		slog.Warn("rule cache read failed", "account_id", accountID, "err", err)
	}
	observability.RuleCache.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		rules, err := c.Loader.ListActiveRules(ctx, accountID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Rule), nil
}

func (c *RuleCache) store(ctx context.Context, key string, rules []domain.Rule) {
	if rules == nil {
		rules = []domain.Rule{}
	}
	b, err := json.Marshal(rules)
	if err != nil {
		slog.Warn("rule cache encode failed", "key", key, "err", err)
		return
	}
	if err := c.Redis.Set(ctx, key, b, c.TTL).Err(); err != nil {
		slog.Warn("rule cache write failed", "key", key, "err", err)
	}
}

// Invalidate drops the cached rule set; the management API calls it after
// any rule change for the account.
func (c *RuleCache) Invalidate(ctx context.Context, accountID string) error {
	return c.Redis.Del(ctx, Key(accountID)).Err()
}
