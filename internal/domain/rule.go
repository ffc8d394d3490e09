package domain

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

type TriggerType string

const (
	TriggerComment TriggerType = "COMMENT"
	TriggerMessage TriggerType = "MESSAGE"
	TriggerMention TriggerType = "MENTION"
	TriggerKeyword TriggerType = "KEYWORD"
	TriggerTime    TriggerType = "TIME"
)

// Trigger is the condition half of a rule. The concrete types below are the
// only implementations.
type Trigger interface {
	TriggerType() TriggerType
	sealed()
}

// EventTrigger fires on every event of one type.
type EventTrigger struct {
	Event EventType `json:"-"`
}

// KeywordTrigger fires when the content contains any keyword, case-insensitively.
type KeywordTrigger struct {
	Keywords []string `json:"keywords"`
}

// TimeTrigger fires inside [StartTime, EndTime) local to Timezone. Times are
// "HH:MM"; StartTime > EndTime wraps past midnight.
type TimeTrigger struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone"`
}

func (t EventTrigger) TriggerType() TriggerType { return TriggerType(t.Event) }
func (KeywordTrigger) TriggerType() TriggerType { return TriggerKeyword }
func (TimeTrigger) TriggerType() TriggerType { return TriggerTime }

func (EventTrigger) sealed() {}
func (KeywordTrigger) sealed() {}
func (TimeTrigger) sealed() {}

// DecodeTrigger builds the trigger variant for triggerType from its JSON config.
func DecodeTrigger(tt TriggerType, raw json.RawMessage) (Trigger, error) {
	switch tt {
	case TriggerComment, TriggerMessage, TriggerMention:
		return EventTrigger{Event: EventType(tt)}, nil
	case TriggerKeyword:
		var k KeywordTrigger
		if err := unmarshalConfig(raw, &k); err != nil {
			return nil, fmt.Errorf("keyword trigger config: %w", err)
		}
		return k, nil
	case TriggerTime:
		var t TimeTrigger
		if err := unmarshalConfig(raw, &t); err != nil {
			return nil, fmt.Errorf("time trigger config: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, tt)
	}
}

// EncodeTrigger returns the JSON config stored alongside the trigger type.
func EncodeTrigger(t Trigger) (json.RawMessage, error) {
	switch v := t.(type) {
	case EventTrigger:
		return json.RawMessage(`{}`), nil
	case KeywordTrigger:
		return json.Marshal(v)
	case TimeTrigger:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidTrigger, t)
	}
}

func unmarshalConfig(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

type ActionType string

const (
	ActionReply         ActionType = "REPLY"
	ActionDirectMessage ActionType = "DIRECT_MESSAGE"
	ActionLinkShare     ActionType = "LINK_SHARE"
)

const MaxActionMessageLen = 1000

type ActionConfig struct {
	Type        ActionType `json:"type"`
	Message     string     `json:"message"`
	IncludeLink bool       `json:"includeLink,omitempty"`
}

func (a ActionConfig) Validate() error {
	switch a.Type {
	case ActionReply, ActionDirectMessage, ActionLinkShare:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if utf8.RuneCountInString(a.Message) > MaxActionMessageLen {
		return fmt.Errorf("action message exceeds %d characters", MaxActionMessageLen)
	}
	return nil
}

// Rule binds one trigger to one action for a single social account.
// Priority runs 1..10, higher first; CreatedAt breaks ties.
type Rule struct {
	ID             string
	Name           string
	Platform       Platform
	AccountID      string
	IsActive       bool
	Priority       int
	Trigger        Trigger
	Action         ActionConfig
	ExecutionCount int64
	CreatedAt      time.Time
}

type ruleJSON struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Platform       Platform        `json:"platform"`
	AccountID      string          `json:"accountId"`
	IsActive       bool            `json:"isActive"`
	Priority       int             `json:"priority"`
	TriggerType    TriggerType     `json:"triggerType"`
	TriggerConfig  json.RawMessage `json:"triggerConfig"`
	ActionConfig   ActionConfig    `json:"actionConfig"`
	ExecutionCount int64           `json:"executionCount"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	if r.Trigger == nil {
		return nil, fmt.Errorf("%w: rule %s has no trigger", ErrInvalidTrigger, r.ID)
	}
	cfg, err := EncodeTrigger(r.Trigger)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		ID: r.ID, Name: r.Name, Platform: r.Platform, AccountID: r.AccountID,
		IsActive: r.IsActive, Priority: r.Priority,
		TriggerType: r.Trigger.TriggerType(), TriggerConfig: cfg,
		ActionConfig: r.Action, ExecutionCount: r.ExecutionCount, CreatedAt: r.CreatedAt,
	})
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	trig, err := DecodeTrigger(in.TriggerType, in.TriggerConfig)
	if err != nil {
		return err
	}
	*r = Rule{
		ID: in.ID, Name: in.Name, Platform: in.Platform, AccountID: in.AccountID,
		IsActive: in.IsActive, Priority: in.Priority, Trigger: trig,
		Action: in.ActionConfig, ExecutionCount: in.ExecutionCount, CreatedAt: in.CreatedAt,
	}
	return nil
}
