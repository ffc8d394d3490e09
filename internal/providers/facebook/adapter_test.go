package facebook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
	"autoreply/internal/providers"
	"autoreply/internal/providers/graph"
)

var fixed = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a := New(graph.NewClient(graph.AppConfig{AppID: "app", AppSecret: "sec", GraphURL: srv.URL}, srv.Client()))
	a.Now = func() time.Time { return fixed }
	return a
}

func TestParseFeedComment(t *testing.T) {
	a := New(graph.NewClient(graph.AppConfig{}, nil))
	raw := []byte(`{"object":"page","entry":[{"id":"PAGE1","time":1714564800,"changes":[
		{"field":"feed","value":{"item":"comment","verb":"add","comment_id":"111_222","post_id":"111","message":"price please",
		 "from":{"id":"u9","name":"Ana"},"created_time":1714564801}}]}]}`)

	evs := a.ParseIncomingEvent(raw)
	require.Len(t, evs, 1)
	ev := evs[0]
	require.Equal(t, domain.PlatformFacebook, ev.Platform)
	require.Equal(t, domain.EventComment, ev.Type)
	require.Equal(t, "111_222", ev.ExternalID)
	require.Equal(t, "u9", ev.SenderID)
	require.Equal(t, "Ana", ev.SenderName)
	require.Equal(t, "price please", ev.Content)
	require.Equal(t, "PAGE1", ev.Metadata.PageID)
	require.Equal(t, "111", ev.Metadata.PostID)
	require.Equal(t, int64(1714564801), ev.Timestamp.Unix())
}

func TestParseSkipsPageOwnActivity(t *testing.T) {
	a := New(graph.NewClient(graph.AppConfig{}, nil))
	raw := []byte(`{"object":"page","entry":[{"id":"PAGE1","messaging":[
		{"sender":{"id":"PAGE1"},"recipient":{"id":"u9"},"message":{"mid":"m.1","text":"hi"}},
		{"sender":{"id":"u9"},"recipient":{"id":"PAGE1"},"message":{"mid":"m.2","text":"hi","is_echo":true}}],
		"changes":[{"field":"feed","value":{"item":"comment","verb":"add","comment_id":"c1","from":{"id":"PAGE1"}}}]}]}`)
	require.Empty(t, a.ParseIncomingEvent(raw))
}

func TestParseMessengerMessage(t *testing.T) {
	a := New(graph.NewClient(graph.AppConfig{}, nil))
	raw := []byte(`{"object":"page","entry":[{"id":"PAGE1","messaging":[
		{"sender":{"id":"u9"},"recipient":{"id":"PAGE1"},"timestamp":1714564800000,"message":{"mid":"m.1","text":"hello"}}]}]}`)

	evs := a.ParseIncomingEvent(raw)
	require.Len(t, evs, 1)
	require.Equal(t, domain.EventMessage, evs[0].Type)
	require.True(t, evs[0].Metadata.IsDirectMessage)
	require.Equal(t, "u9", evs[0].Metadata.ThreadID)
	require.Equal(t, int64(1714564800), evs[0].Timestamp.Unix())
}

func TestParseIsTotal(t *testing.T) {
	a := New(graph.NewClient(graph.AppConfig{}, nil))
	for _, raw := range []string{
		``, `null`, `[]`, `{`, `{"object":"instagram","entry":[{"id":"x"}]}`,
		`{"object":"page","entry":"nope"}`,
		`{"object":"page","entry":[1,{"id":"P","changes":[{"field":"feed","value":"str"}]}]}`,
	} {
		require.NotPanics(t, func() {
			require.Empty(t, a.ParseIncomingEvent([]byte(raw)))
		}, raw)
	}
}

func TestSendReplyPostsComment(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_, _ = w.Write([]byte(`{"id":"reply-1"}`))
	})

	res := a.SendReply(context.Background(), providers.SendRequest{
		ToID: "111_222", Content: "thanks", AccessToken: "page-token",
		Metadata: domain.EventMetadata{PageID: "PAGE1"},
	})
	require.True(t, res.Success)
	require.Equal(t, "reply-1", res.ID)
	require.Equal(t, "/v18.0/111_222/comments", gotPath)
	require.Equal(t, "Bearer page-token", gotAuth)
	require.Equal(t, "thanks", gotBody["message"])
}

func TestSendReplyDirectMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_, _ = w.Write([]byte(`{"recipient_id":"u9","message_id":"m_9"}`))
	})

	res := a.SendReply(context.Background(), providers.SendRequest{
		ToID: "u9", Content: "hi", AccessToken: "tok",
		Metadata: domain.EventMetadata{PageID: "PAGE1", IsDirectMessage: true},
	})
	require.True(t, res.Success)
	require.Equal(t, "m_9", res.ID)
	require.Equal(t, "/v18.0/PAGE1/messages", gotPath)
	require.Equal(t, map[string]any{"id": "u9"}, gotBody["recipient"])
	require.Equal(t, "RESPONSE", gotBody["messaging_type"])
}

func TestSendReplyClassifiesFailures(t *testing.T) {
	status := http.StatusBadRequest
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope","code":100}}`))
	})
	req := providers.SendRequest{ToID: "c1", Content: "x", AccessToken: "t"}

	res := a.SendReply(context.Background(), req)
	require.False(t, res.Success)
	require.False(t, res.Retryable)
	require.Equal(t, http.StatusBadRequest, res.HTTPStatus)

	status = http.StatusServiceUnavailable
	res = a.SendReply(context.Background(), req)
	require.False(t, res.Success)
	require.True(t, res.Retryable)
}

func TestExchangeCodeFallsBackToShortLivedToken(t *testing.T) {
	var meAuth string
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v18.0/oauth/access_token":
			if r.URL.Query().Get("grant_type") == "fb_exchange_token" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"OAuthException","code":1}}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"short","expires_in":3600}`))
		case "/v18.0/me":
			meAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"id":"fbuser","name":"Owner"}`))
		case "/v18.0/me/accounts":
			_, _ = w.Write([]byte(`{"data":[{"id":"PAGE1","name":"Shop","access_token":"ptok"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tr, err := a.ExchangeCodeForToken(context.Background(), "code")
	require.NoError(t, err)
	require.Equal(t, "short", tr.AccessToken)
	require.Equal(t, int64(3600), tr.ExpiresIn)
	require.Equal(t, "fbuser", tr.PlatformUserID)
	require.Equal(t, "Bearer short", meAuth)
	require.Equal(t, []providers.Page{{ID: "PAGE1", Name: "Shop", AccessToken: "ptok", Kind: providers.PageKindFacebookPage}}, tr.Pages)
}
