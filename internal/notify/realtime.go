// Package notify pushes per-user realtime events over Redis pub/sub.
// Delivery is best effort: subscribers that are not connected miss events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventReplySent    EventType = "reply_sent"
	EventReplyFailed  EventType = "reply_failed"
	EventNotification EventType = "notification"
)

type Event struct {
	Type       EventType         `json:"type"`
	RuleID     string            `json:"ruleId,omitempty"`
	AccountID  string            `json:"accountId,omitempty"`
	Platform   string            `json:"platform,omitempty"`
	ExternalID string            `json:"externalId,omitempty"`
	Error      string            `json:"error,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Message    string            `json:"message,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	At         time.Time         `json:"at"`
}

func UserChannel(userID string) string { return "user:" + userID + ":events" }

type TypedPubSub[T any] struct {
	client goredis.UniversalClient
}

func NewTypedPubSub[T any](client goredis.UniversalClient) *TypedPubSub[T] {
	return &TypedPubSub[T]{client: client}
}

func (p *TypedPubSub[T]) Publish(ctx context.Context, channel string, msg T) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal pubsub payload: %w", err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Subscribe calls handler for each message on channel until ctx is done.
func (p *TypedPubSub[T]) Subscribe(ctx context.Context, channel string, handler func(T)) error {
	sub := p.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var payload T
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				slog.Warn("pubsub payload undecodable", "channel", channel, "err", err)
				continue
			}
			handler(payload)
		}
	}
}

// Realtime publishes user-scoped events.
type Realtime struct {
	ps *TypedPubSub[Event]
}

func NewRealtime(client goredis.UniversalClient) *Realtime {
	return &Realtime{ps: NewTypedPubSub[Event](client)}
}

func (r *Realtime) Publish(ctx context.Context, userID string, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return r.ps.Publish(ctx, UserChannel(userID), ev)
}

func (r *Realtime) Subscribe(ctx context.Context, userID string, handler func(Event)) error {
	return r.ps.Subscribe(ctx, UserChannel(userID), handler)
}
