package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type Platform string

const (
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformFacebook  Platform = "FACEBOOK"
	PlatformWhatsApp  Platform = "WHATSAPP"
)

// ParsePlatform accepts the platform name in any case ("instagram", "INSTAGRAM").
func ParsePlatform(s string) (Platform, bool) {
	switch p := Platform(strings.ToUpper(strings.TrimSpace(s))); p {
	case PlatformInstagram, PlatformFacebook, PlatformWhatsApp:
		return p, true
	default:
		return "", false
	}
}

type EventType string

const (
	EventComment EventType = "COMMENT"
	EventMessage EventType = "MESSAGE"
	EventMention EventType = "MENTION"
)

// EventMetadata carries the platform routing details of an event. Extra holds
// anything a platform reports that has no dedicated field.
type EventMetadata struct {
	AccountID       string            `json:"accountId,omitempty"`
	PageID          string            `json:"pageId,omitempty"`
	PostID          string            `json:"postId,omitempty"`
	ThreadID        string            `json:"threadId,omitempty"`
	ParentID        string            `json:"parentId,omitempty"`
	MediaURL        string            `json:"mediaUrl,omitempty"`
	Permalink       string            `json:"permalink,omitempty"`
	IsDirectMessage bool              `json:"isDirectMessage"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// NormalizedEvent is one inbound comment, message or mention. ExternalID is
// unique per platform and is the idempotency key for dispatch. Raw is kept for
// audit only.
type NormalizedEvent struct {
	Platform   Platform        `json:"platform"`
	Type       EventType       `json:"type"`
	ExternalID string          `json:"externalId"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName,omitempty"`
	Content    string          `json:"content"`
	Timestamp  time.Time       `json:"timestamp"`
	Metadata   EventMetadata   `json:"metadata"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}
