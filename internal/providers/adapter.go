// Package providers defines the contract every social platform adapter
// implements. Adapters translate native webhook payloads into
// domain.NormalizedEvent values and send replies back through the platform API.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"autoreply/internal/domain"
)

type Adapter interface {
	Platform() domain.Platform

	// OAuthURL builds the authorization redirect. No I/O.
	OAuthURL(state string) string

	// ExchangeCodeForToken trades an authorization code for a token, upgrading
	// it to a long-lived token where the platform supports it, then loads the
	// profile and manageable sub-accounts. Provider error bodies surface as
	// *OAuthError.
	ExchangeCodeForToken(ctx context.Context, code string) (TokenResult, error)

	UserProfile(ctx context.Context, accessToken string) (Profile, error)

	// ParseIncomingEvent never fails: unrecognized shapes produce no events.
	ParseIncomingEvent(raw []byte) []domain.NormalizedEvent

	// SendReply never returns an error; provider failures are reported in the
	// result so the caller can choose between retry and terminal failure.
	SendReply(ctx context.Context, req SendRequest) SendResult
}

type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Page is a sub-account the user can manage: a Facebook Page, an Instagram
// business account or a WhatsApp phone number.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"-"`
	Kind        string `json:"kind"`
}

const (
	PageKindFacebookPage      = "facebook_page"
	PageKindInstagramBusiness = "instagram_business"
	PageKindWhatsAppNumber    = "whatsapp_phone_number"
)

type TokenResult struct {
	AccessToken      string `json:"-"`
	ExpiresIn        int64  `json:"expiresIn"`
	PlatformUserID   string `json:"platformUserId"`
	PlatformUserName string `json:"platformUserName"`
	Pages            []Page `json:"pages"`
}

type SendRequest struct {
	ToID        string
	Content     string
	AccessToken string
	Metadata    domain.EventMetadata

	// EventType is the type of the event being answered; mentions use a
	// dedicated endpoint on some platforms.
	EventType domain.EventType
	// PrivateReplyTo, when set with Metadata.IsDirectMessage, answers a public
	// comment with a direct message addressed by comment id.
	PrivateReplyTo string
}

type SendResult struct {
	Success    bool            `json:"success"`
	ID         string          `json:"id,omitempty"`
	Error      string          `json:"error,omitempty"`
	HTTPStatus int             `json:"httpStatus,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// OAuthError is a provider error body returned during the OAuth flow.
type OAuthError struct {
	Platform domain.Platform
	Type     string
	Code     int
	Message  string
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s oauth: %s (type=%s code=%d)", e.Platform, e.Message, e.Type, e.Code)
}
