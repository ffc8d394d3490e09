// Package graph is the HTTP plumbing shared by the Meta Graph API adapters:
// request helpers, error decoding, retry classification, token exchange and
// webhook signature checks.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autoreply/internal/providers"
)

const (
	DefaultGraphURL  = "https://graph.facebook.com"
	DefaultDialogURL = "https://www.facebook.com"
	DefaultVersion   = "v18.0"
)

// AppConfig identifies the Meta app the adapters act as.
type AppConfig struct {
	AppID       string
	AppSecret   string
	RedirectURL string
	GraphURL    string
	DialogURL   string
	Version     string
}

func (c AppConfig) graphBase() string {
	base := strings.TrimRight(c.GraphURL, "/")
	if base == "" {
		base = DefaultGraphURL
	}
	v := c.Version
	if v == "" {
		v = DefaultVersion
	}
	return base + "/" + v
}

// OAuthDialogURL builds the OAuth dialog redirect for the given scopes.
func (c AppConfig) OAuthDialogURL(state string, scopes []string) string {
	base := strings.TrimRight(c.DialogURL, "/")
	if base == "" {
		base = DefaultDialogURL
	}
	v := c.Version
	if v == "" {
		v = DefaultVersion
	}
	q := url.Values{}
	q.Set("client_id", c.AppID)
	q.Set("redirect_uri", c.RedirectURL)
	q.Set("state", state)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(scopes, ","))
	return base + "/" + v + "/dialog/oauth?" + q.Encode()
}

type Client struct {
	App  AppConfig
	HTTP *http.Client
}

func NewClient(app AppConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{App: app, HTTP: httpClient}
}

// APIError is a Graph API error body: {"error": {"message", "type", "code", "error_subcode"}}.
type APIError struct {
	Status  int
	Message string
	Type    string
	Code    int
	Subcode int
	Raw     []byte
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api status %d", e.Status)
	}
	return fmt.Sprintf("graph api status %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Subcode int    `json:"error_subcode"`
	} `json:"error"`
}

// Get calls GET {graph}/{path} and decodes a successful body into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, accessToken string, out any) error {
	endpoint := c.App.graphBase() + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	status, body, err := c.do(req)
	if err != nil {
		return err
	}
	if apiErr := decodeError(status, body); apiErr != nil {
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

// PostJSON calls POST {graph}/{path} with a JSON body. It returns the HTTP
// status and raw body even when the call failed so callers can record them.
func (c *Client) PostJSON(ctx context.Context, path, accessToken string, payload any) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	endpoint := c.App.graphBase() + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	status, body, err := c.do(req)
	if err != nil {
		return status, body, err
	}
	if apiErr := decodeError(status, body); apiErr != nil {
		return status, body, apiErr
	}
	return status, body, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

func decodeError(status int, body []byte) *APIError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	if status >= 200 && status < 300 && eb.Error == nil {
		return nil
	}
	apiErr := &APIError{Status: status, Raw: body}
	if eb.Error != nil {
		apiErr.Message = eb.Error.Message
		apiErr.Type = eb.Error.Type
		apiErr.Code = eb.Error.Code
		apiErr.Subcode = eb.Error.Subcode
	}
	return apiErr
}

// ShouldRetry classifies a failed call. Network timeouts, 408, 429 and 5xx are
// transient; Graph throttling codes (4, 17, 32, 613) are transient whatever the
// status.
func ShouldRetry(err error, httpStatus int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 4, 17, 32, 613:
			return true
		}
		httpStatus = apiErr.Status
	} else if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) {
			return true
		}
		return httpStatus == 0
	}
	if httpStatus == http.StatusTooManyRequests || httpStatus == http.StatusRequestTimeout {
		return true
	}
	return httpStatus >= 500 && httpStatus <= 599
}

// SendResult turns the outcome of a send call into a providers.SendResult,
// reading the created object's id from the body ("id" or "message_id" or
// "messages[0].id").
func SendResult(status int, body []byte, err error) providers.SendResult {
	res := providers.SendResult{HTTPStatus: status}
	if len(body) > 0 && json.Valid(body) {
		res.Raw = json.RawMessage(body)
	}
	if err != nil {
		res.Error = err.Error()
		res.Retryable = ShouldRetry(err, status)
		return res
	}
	var ok struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
		Messages  []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	_ = json.Unmarshal(body, &ok)
	res.Success = true
	switch {
	case ok.ID != "":
		res.ID = ok.ID
	case ok.MessageID != "":
		res.ID = ok.MessageID
	case len(ok.Messages) > 0:
		res.ID = ok.Messages[0].ID
	}
	return res
}

// Failed builds a non-retryable failure that never reached the provider.
func Failed(msg string) providers.SendResult {
	return providers.SendResult{Error: msg}
}
