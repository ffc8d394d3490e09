// Package whatsapp adapts the WhatsApp Business Cloud API. WhatsApp has no
// comments: every inbound event is a MESSAGE, and replies are sent from the
// business phone number carried in Metadata.PageID.
package whatsapp

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/providers"
	"autoreply/internal/providers/graph"
)

var scopes = []string{
	"whatsapp_business_management",
	"whatsapp_business_messaging",
	"business_management",
}

type Adapter struct {
	Graph *graph.Client
	Now   func() time.Time
}

func New(g *graph.Client) *Adapter {
	return &Adapter{Graph: g, Now: time.Now}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformWhatsApp }

func (a *Adapter) OAuthURL(state string) string {
	return a.Graph.App.OAuthDialogURL(state, scopes)
}

type listResponse struct {
	Data []struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		DisplayPhoneNumber string `json:"display_phone_number"`
		VerifiedName       string `json:"verified_name"`
	} `json:"data"`
}

// ExchangeCodeForToken trades the code for a long-lived user token, then
// walks businesses -> WABAs -> phone numbers. Each number is sent from with
// the user token.
func (a *Adapter) ExchangeCodeForToken(ctx context.Context, code string) (providers.TokenResult, error) {
	short, shortExp, err := a.Graph.ExchangeCode(ctx, domain.PlatformWhatsApp, code)
	if err != nil {
		return providers.TokenResult{}, err
	}
	token, exp := a.Graph.ExchangeLongLived(ctx, short, shortExp)
	me, err := a.Graph.Me(ctx, domain.PlatformWhatsApp, token)
	if err != nil {
		return providers.TokenResult{}, err
	}

	out := providers.TokenResult{
		AccessToken:      token,
		ExpiresIn:        exp,
		PlatformUserID:   me.ID,
		PlatformUserName: me.Name,
	}

	businesses, err := a.list(ctx, "me/businesses", "id,name", token)
	if err != nil {
		return providers.TokenResult{}, err
	}
	for _, b := range businesses.Data {
		wabas, err := a.list(ctx, b.ID+"/owned_whatsapp_business_accounts", "id,name", token)
		if err != nil {
			return providers.TokenResult{}, err
		}
		for _, w := range wabas.Data {
			phones, err := a.list(ctx, w.ID+"/phone_numbers", "id,display_phone_number,verified_name", token)
			if err != nil {
				return providers.TokenResult{}, err
			}
			for _, p := range phones.Data {
				name := p.VerifiedName
				if name == "" {
					name = p.DisplayPhoneNumber
				}
				out.Pages = append(out.Pages, providers.Page{
					ID:          p.ID,
					Name:        name,
					AccessToken: token,
					Kind:        providers.PageKindWhatsAppNumber,
				})
			}
		}
	}
	return out, nil
}

func (a *Adapter) list(ctx context.Context, path, fields, token string) (listResponse, error) {
	q := url.Values{}
	q.Set("fields", fields)
	var out listResponse
	if err := a.Graph.Get(ctx, path, q, token, &out); err != nil {
		return listResponse{}, graph.AsOAuthError(domain.PlatformWhatsApp, err)
	}
	return out, nil
}

func (a *Adapter) UserProfile(ctx context.Context, accessToken string) (providers.Profile, error) {
	return a.Graph.Me(ctx, domain.PlatformWhatsApp, accessToken)
}

// SendReply sends a text message to req.ToID (the customer's wa_id).
func (a *Adapter) SendReply(ctx context.Context, req providers.SendRequest) providers.SendResult {
	phoneNumberID := req.Metadata.PageID
	if phoneNumberID == "" {
		return graph.Failed("missing phone number id")
	}
	if req.ToID == "" {
		return graph.Failed("missing reply target")
	}
	status, body, err := a.Graph.PostJSON(ctx, phoneNumberID+"/messages", req.AccessToken, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                req.ToID,
		"type":              "text",
		"text": map[string]any{
			"preview_url": true,
			"body":        req.Content,
		},
	})
	return graph.SendResult(status, body, err)
}

type messagesValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []json.RawMessage `json:"messages"`
}

type message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image *struct {
		Caption string `json:"caption"`
	} `json:"image"`
	Context *struct {
		ID string `json:"id"`
	} `json:"context"`
}

func (m message) content() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title
	case m.Image != nil:
		return m.Image.Caption
	default:
		return ""
	}
}

// ParseIncomingEvent maps a "whatsapp_business_account" delivery to MESSAGE
// events. Status callbacks (sent, delivered, read) produce nothing.
func (a *Adapter) ParseIncomingEvent(raw []byte) []domain.NormalizedEvent {
	now := a.now()
	var out []domain.NormalizedEvent
	for _, entry := range graph.DecodeEnvelope(raw, "whatsapp_business_account") {
		for _, ch := range graph.DecodeChanges(entry.Changes) {
			if ch.Field != "messages" {
				continue
			}
			var v messagesValue
			if err := json.Unmarshal(ch.Value, &v); err != nil {
				continue
			}
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, rawMsg := range v.Messages {
				var m message
				if err := json.Unmarshal(rawMsg, &m); err != nil || m.ID == "" || m.From == "" {
					continue
				}
				ev := domain.NormalizedEvent{
					Platform:   domain.PlatformWhatsApp,
					Type:       domain.EventMessage,
					ExternalID: m.ID,
					SenderID:   m.From,
					SenderName: names[m.From],
					Content:    m.content(),
					Timestamp:  graph.UnixString(m.Timestamp, now),
					Metadata: domain.EventMetadata{
						PageID:          v.Metadata.PhoneNumberID,
						ThreadID:        m.From,
						IsDirectMessage: true,
						Extra: map[string]string{
							"wabaId":             entry.ID,
							"displayPhoneNumber": v.Metadata.DisplayPhoneNumber,
							"messageType":        m.Type,
						},
					},
					Raw: rawMsg,
				}
				if m.Context != nil {
					ev.Metadata.ParentID = m.Context.ID
				}
				out = append(out, ev)
			}
		}
	}
	return out
}

func (a *Adapter) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
