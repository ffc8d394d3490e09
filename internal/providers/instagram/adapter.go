// Package instagram adapts Instagram professional accounts (comments, mentions
// and Instagram Direct) to the providers.Adapter contract. Accounts are reached
// through the Facebook Page they are linked to, so OAuth and sends go through
// the Graph API with the page token.
package instagram

import (
	"context"
	"encoding/json"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/providers"
	"autoreply/internal/providers/graph"
)

var scopes = []string{
	"instagram_basic",
	"instagram_manage_comments",
	"instagram_manage_messages",
	"pages_show_list",
	"pages_read_engagement",
	"business_management",
}

type Adapter struct {
	Graph *graph.Client
	Now   func() time.Time
}

func New(g *graph.Client) *Adapter {
	return &Adapter{Graph: g, Now: time.Now}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformInstagram }

func (a *Adapter) OAuthURL(state string) string {
	return a.Graph.App.OAuthDialogURL(state, scopes)
}

// ExchangeCodeForToken returns one page per Instagram business account linked
// to a Page the user manages. Pages without a linked account are skipped.
func (a *Adapter) ExchangeCodeForToken(ctx context.Context, code string) (providers.TokenResult, error) {
	short, shortExp, err := a.Graph.ExchangeCode(ctx, domain.PlatformInstagram, code)
	if err != nil {
		return providers.TokenResult{}, err
	}
	token, exp := a.Graph.ExchangeLongLived(ctx, short, shortExp)

	me, err := a.Graph.Me(ctx, domain.PlatformInstagram, token)
	if err != nil {
		return providers.TokenResult{}, err
	}
	listing, err := a.Graph.ManagedPages(ctx, domain.PlatformInstagram, token)
	if err != nil {
		return providers.TokenResult{}, err
	}

	out := providers.TokenResult{
		AccessToken:      token,
		ExpiresIn:        exp,
		PlatformUserID:   me.ID,
		PlatformUserName: me.Name,
	}
	for _, p := range listing.Data {
		ig := p.InstagramBusinessAccount
		if ig == nil || ig.ID == "" {
			continue
		}
		name := ig.Username
		if name == "" {
			name = p.Name
		}
		out.Pages = append(out.Pages, providers.Page{
			ID:          ig.ID,
			Name:        name,
			AccessToken: p.AccessToken,
			Kind:        providers.PageKindInstagramBusiness,
		})
	}
	return out, nil
}

func (a *Adapter) UserProfile(ctx context.Context, accessToken string) (providers.Profile, error) {
	return a.Graph.Me(ctx, domain.PlatformInstagram, accessToken)
}

// SendReply answers comments through /{comment}/replies, mentions through
// /{ig-user}/mentions, and direct messages through /{ig-user}/messages.
func (a *Adapter) SendReply(ctx context.Context, req providers.SendRequest) providers.SendResult {
	if req.ToID == "" && req.PrivateReplyTo == "" {
		return graph.Failed("missing reply target")
	}
	igUser := req.Metadata.PageID
	if igUser == "" {
		igUser = "me"
	}

	if req.Metadata.IsDirectMessage {
		recipient := map[string]string{"id": req.ToID}
		if req.PrivateReplyTo != "" {
			recipient = map[string]string{"comment_id": req.PrivateReplyTo}
		}
		status, body, err := a.Graph.PostJSON(ctx, igUser+"/messages", req.AccessToken, map[string]any{
			"recipient": recipient,
			"message":   map[string]string{"text": req.Content},
		})
		return graph.SendResult(status, body, err)
	}

	if req.EventType == domain.EventMention {
		status, body, err := a.Graph.PostJSON(ctx, igUser+"/mentions", req.AccessToken, map[string]string{
			"media_id":   req.Metadata.PostID,
			"comment_id": req.ToID,
			"message":    req.Content,
		})
		return graph.SendResult(status, body, err)
	}

	status, body, err := a.Graph.PostJSON(ctx, req.ToID+"/replies", req.AccessToken, map[string]string{
		"message": req.Content,
	})
	return graph.SendResult(status, body, err)
}

type commentValue struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media *struct {
		ID               string `json:"id"`
		MediaProductType string `json:"media_product_type"`
	} `json:"media"`
	ParentID string `json:"parent_id"`
}

type mentionValue struct {
	CommentID string `json:"comment_id"`
	MediaID   string `json:"media_id"`
}

// ParseIncomingEvent maps an "instagram" webhook delivery to normalized events.
func (a *Adapter) ParseIncomingEvent(raw []byte) []domain.NormalizedEvent {
	now := a.now()
	var out []domain.NormalizedEvent
	for _, entry := range graph.DecodeEnvelope(raw, "instagram") {
		entryTime := graph.UnixTime(entry.Time, now)

		msgs, raws := graph.DecodeMessaging(entry.Messaging)
		for i, m := range msgs {
			if m.Message == nil || m.Message.IsEcho || m.Message.MID == "" || m.Sender.ID == entry.ID {
				continue
			}
			ev := domain.NormalizedEvent{
				Platform:   domain.PlatformInstagram,
				Type:       domain.EventMessage,
				ExternalID: m.Message.MID,
				SenderID:   m.Sender.ID,
				Content:    m.Message.Text,
				Timestamp:  graph.UnixTime(m.Timestamp, entryTime),
				Metadata: domain.EventMetadata{
					PageID:          entry.ID,
					ThreadID:        m.Sender.ID,
					IsDirectMessage: true,
				},
				Raw: raws[i],
			}
			if len(m.Message.Attachments) > 0 {
				ev.Metadata.MediaURL = m.Message.Attachments[0].Payload.URL
			}
			out = append(out, ev)
		}

		for _, ch := range graph.DecodeChanges(entry.Changes) {
			switch ch.Field {
			case "comments", "live_comments":
				if ev, ok := parseComment(entry, ch, entryTime); ok {
					out = append(out, ev)
				}
			case "mentions":
				if ev, ok := parseMention(entry, ch, entryTime); ok {
					out = append(out, ev)
				}
			}
		}
	}
	return out
}

func parseComment(entry graph.Entry, ch graph.Change, at time.Time) (domain.NormalizedEvent, bool) {
	var v commentValue
	if err := json.Unmarshal(ch.Value, &v); err != nil || v.ID == "" {
		return domain.NormalizedEvent{}, false
	}
	ev := domain.NormalizedEvent{
		Platform:   domain.PlatformInstagram,
		Type:       domain.EventComment,
		ExternalID: v.ID,
		Content:    v.Text,
		Timestamp:  at,
		Metadata: domain.EventMetadata{
			PageID:   entry.ID,
			ParentID: v.ParentID,
		},
		Raw: ch.Value,
	}
	if v.From != nil {
		ev.SenderID = v.From.ID
		ev.SenderName = v.From.Username
	}
	if ev.SenderID != "" && ev.SenderID == entry.ID {
		return domain.NormalizedEvent{}, false
	}
	if v.Media != nil {
		ev.Metadata.PostID = v.Media.ID
	}
	return ev, true
}

func parseMention(entry graph.Entry, ch graph.Change, at time.Time) (domain.NormalizedEvent, bool) {
	var v mentionValue
	if err := json.Unmarshal(ch.Value, &v); err != nil || (v.CommentID == "" && v.MediaID == "") {
		return domain.NormalizedEvent{}, false
	}
	id := v.CommentID
	if id == "" {
		id = v.MediaID
	}
	return domain.NormalizedEvent{
		Platform:   domain.PlatformInstagram,
		Type:       domain.EventMention,
		ExternalID: id,
		Timestamp:  at,
		Metadata: domain.EventMetadata{
			PageID: entry.ID,
			PostID: v.MediaID,
		},
		Raw: ch.Value,
	}, true
}

func (a *Adapter) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
