package graph

import (
	"encoding/json"
	"strconv"
	"time"
)

// Envelope is the outer webhook body. Entries stay raw so one malformed entry
// does not discard the rest of the batch.
type Envelope struct {
	Object string            `json:"object"`
	Entry  []json.RawMessage `json:"entry"`
}

type Entry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
	Changes   []json.RawMessage `json:"changes"`
}

type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// Messaging is a Messenger / Instagram messaging event.
type Messaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

// DecodeEnvelope returns the entries of body when its object matches; any
// decode failure yields nil.
func DecodeEnvelope(body []byte, object string) []Entry {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Object != object {
		return nil
	}
	out := make([]Entry, 0, len(env.Entry))
	for _, raw := range env.Entry {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// DecodeChanges decodes each change independently, skipping malformed ones.
func DecodeChanges(raws []json.RawMessage) []Change {
	out := make([]Change, 0, len(raws))
	for _, raw := range raws {
		var c Change
		if err := json.Unmarshal(raw, &c); err != nil || c.Field == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DecodeMessaging decodes each messaging event independently, keeping the raw
// form for audit.
func DecodeMessaging(raws []json.RawMessage) ([]Messaging, []json.RawMessage) {
	out := make([]Messaging, 0, len(raws))
	kept := make([]json.RawMessage, 0, len(raws))
	for _, raw := range raws {
		var m Messaging
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		out = append(out, m)
		kept = append(kept, raw)
	}
	return out, kept
}

// UnixTime converts a webhook timestamp that may be in seconds or milliseconds.
// Zero falls back to fallback.
func UnixTime(v int64, fallback time.Time) time.Time {
	switch {
	case v <= 0:
		return fallback.UTC()
	case v > 1e12:
		return time.UnixMilli(v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}

// UnixString parses a decimal-seconds string as WhatsApp sends it.
func UnixString(s string, fallback time.Time) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback.UTC()
	}
	return UnixTime(n, fallback)
}
