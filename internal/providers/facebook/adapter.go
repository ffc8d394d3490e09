// Package facebook adapts Facebook Pages (feed comments, mentions and
// Messenger conversations) to the providers.Adapter contract.
package facebook

import (
	"context"
	"encoding/json"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/providers"
	"autoreply/internal/providers/graph"
)

var scopes = []string{
	"pages_show_list",
	"pages_messaging",
	"pages_read_engagement",
	"pages_manage_engagement",
	"pages_manage_metadata",
}

type Adapter struct {
	Graph *graph.Client
	Now   func() time.Time
}

func New(g *graph.Client) *Adapter {
	return &Adapter{Graph: g, Now: time.Now}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformFacebook }

func (a *Adapter) OAuthURL(state string) string {
	return a.Graph.App.OAuthDialogURL(state, scopes)
}

func (a *Adapter) ExchangeCodeForToken(ctx context.Context, code string) (providers.TokenResult, error) {
	short, shortExp, err := a.Graph.ExchangeCode(ctx, domain.PlatformFacebook, code)
	if err != nil {
		return providers.TokenResult{}, err
	}
	token, exp := a.Graph.ExchangeLongLived(ctx, short, shortExp)

	me, err := a.Graph.Me(ctx, domain.PlatformFacebook, token)
	if err != nil {
		return providers.TokenResult{}, err
	}
	listing, err := a.Graph.ManagedPages(ctx, domain.PlatformFacebook, token)
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
		out.Pages = append(out.Pages, providers.Page{
			ID:          p.ID,
			Name:        p.Name,
			AccessToken: p.AccessToken,
			Kind:        providers.PageKindFacebookPage,
		})
	}
	return out, nil
}

func (a *Adapter) UserProfile(ctx context.Context, accessToken string) (providers.Profile, error) {
	return a.Graph.Me(ctx, domain.PlatformFacebook, accessToken)
}

// SendReply answers a feed comment publicly, or sends a Messenger message when
// the request targets a direct conversation.
func (a *Adapter) SendReply(ctx context.Context, req providers.SendRequest) providers.SendResult {
	if req.ToID == "" && req.PrivateReplyTo == "" {
		return graph.Failed("missing reply target")
	}
	if !req.Metadata.IsDirectMessage {
		status, body, err := a.Graph.PostJSON(ctx, req.ToID+"/comments", req.AccessToken, map[string]string{
			"message": req.Content,
		})
		return graph.SendResult(status, body, err)
	}

	pageID := req.Metadata.PageID
	if pageID == "" {
		pageID = "me"
	}
	recipient := map[string]string{"id": req.ToID}
	if req.PrivateReplyTo != "" {
		recipient = map[string]string{"comment_id": req.PrivateReplyTo}
	}
	status, body, err := a.Graph.PostJSON(ctx, pageID+"/messages", req.AccessToken, map[string]any{
		"recipient":      recipient,
		"messaging_type": "RESPONSE",
		"message":        map[string]string{"text": req.Content},
	})
	return graph.SendResult(status, body, err)
}

type feedValue struct {
	Item        string `json:"item"`
	Verb        string `json:"verb"`
	CommentID   string `json:"comment_id"`
	PostID      string `json:"post_id"`
	ParentID    string `json:"parent_id"`
	Message     string `json:"message"`
	CreatedTime int64  `json:"created_time"`
	Permalink   string `json:"permalink_url"`
	Photo       string `json:"photo"`
	From        *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
}

// ParseIncomingEvent maps a "page" webhook delivery to normalized events.
func (a *Adapter) ParseIncomingEvent(raw []byte) []domain.NormalizedEvent {
	now := a.now()
	var out []domain.NormalizedEvent
	for _, entry := range graph.DecodeEnvelope(raw, "page") {
		msgs, raws := graph.DecodeMessaging(entry.Messaging)
		for i, m := range msgs {
			if m.Message == nil || m.Message.IsEcho || m.Message.MID == "" || m.Sender.ID == entry.ID {
				continue
			}
			ev := domain.NormalizedEvent{
				Platform:   domain.PlatformFacebook,
				Type:       domain.EventMessage,
				ExternalID: m.Message.MID,
				SenderID:   m.Sender.ID,
				Content:    m.Message.Text,
				Timestamp:  graph.UnixTime(m.Timestamp, now),
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
			if ev, ok := a.parseChange(entry, ch, now); ok {
				out = append(out, ev)
			}
		}
	}
	return out
}

func (a *Adapter) parseChange(entry graph.Entry, ch graph.Change, now time.Time) (domain.NormalizedEvent, bool) {
	var v feedValue
	if err := json.Unmarshal(ch.Value, &v); err != nil {
		return domain.NormalizedEvent{}, false
	}
	if v.Verb != "" && v.Verb != "add" {
		return domain.NormalizedEvent{}, false
	}

	senderID, senderName := v.SenderID, v.SenderName
	if v.From != nil {
		if v.From.ID != "" {
			senderID = v.From.ID
		}
		if v.From.Name != "" {
			senderName = v.From.Name
		}
	}
	// our own page commenting (e.g. our replies) must not trigger rules
	if senderID != "" && senderID == entry.ID {
		return domain.NormalizedEvent{}, false
	}

	ev := domain.NormalizedEvent{
		Platform:   domain.PlatformFacebook,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    v.Message,
		Timestamp:  graph.UnixTime(v.CreatedTime, graph.UnixTime(entry.Time, now)),
		Metadata: domain.EventMetadata{
			PageID:    entry.ID,
			PostID:    v.PostID,
			ParentID:  v.ParentID,
			Permalink: v.Permalink,
			MediaURL:  v.Photo,
		},
		Raw: ch.Value,
	}

	switch {
	case ch.Field == "feed" && v.Item == "comment" && v.CommentID != "":
		ev.Type = domain.EventComment
		ev.ExternalID = v.CommentID
	case ch.Field == "mention" && (v.CommentID != "" || v.PostID != ""):
		ev.Type = domain.EventMention
		ev.ExternalID = v.CommentID
		if ev.ExternalID == "" {
			ev.ExternalID = v.PostID
		}
	default:
		return domain.NormalizedEvent{}, false
	}
	return ev, true
}

func (a *Adapter) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
