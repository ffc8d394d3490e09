package graph

import (
	"context"
	"errors"
	"net/url"

	"autoreply/internal/domain"
	"autoreply/internal/providers"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeCode performs the authorization-code hop.
func (c *Client) ExchangeCode(ctx context.Context, platform domain.Platform, code string) (string, int64, error) {
	q := url.Values{}
	q.Set("client_id", c.App.AppID)
	q.Set("client_secret", c.App.AppSecret)
	q.Set("redirect_uri", c.App.RedirectURL)
	q.Set("code", code)

	var tr tokenResponse
	if err := c.Get(ctx, "oauth/access_token", q, "", &tr); err != nil {
		return "", 0, AsOAuthError(platform, err)
	}
	if tr.AccessToken == "" {
		return "", 0, &providers.OAuthError{Platform: platform, Type: "empty_token", Message: "no access token in response"}
	}
	return tr.AccessToken, tr.ExpiresIn, nil
}

// ExchangeLongLived trades a short-lived user token for a long-lived one.
// Any failure of this hop falls back to the short-lived token.
func (c *Client) ExchangeLongLived(ctx context.Context, shortToken string, shortExpires int64) (string, int64) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", c.App.AppID)
	q.Set("client_secret", c.App.AppSecret)
	q.Set("fb_exchange_token", shortToken)

	var tr tokenResponse
	if err := c.Get(ctx, "oauth/access_token", q, "", &tr); err != nil || tr.AccessToken == "" {
		return shortToken, shortExpires
	}
	return tr.AccessToken, tr.ExpiresIn
}

type meResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// Me loads the token owner's profile.
func (c *Client) Me(ctx context.Context, platform domain.Platform, accessToken string) (providers.Profile, error) {
	q := url.Values{}
	q.Set("fields", "id,name,picture")
	var me meResponse
	if err := c.Get(ctx, "me", q, accessToken, &me); err != nil {
		return providers.Profile{}, AsOAuthError(platform, err)
	}
	return providers.Profile{ID: me.ID, Name: me.Name, Picture: me.Picture.Data.URL}, nil
}

// PagesResponse is the me/accounts listing.
type PagesResponse struct {
	Data []struct {
		ID                       string `json:"id"`
		Name                     string `json:"name"`
		AccessToken              string `json:"access_token"`
		InstagramBusinessAccount *struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"instagram_business_account"`
	} `json:"data"`
}

// ManagedPages lists the Facebook Pages the user manages, with the linked
// Instagram business account when present.
func (c *Client) ManagedPages(ctx context.Context, platform domain.Platform, accessToken string) (PagesResponse, error) {
	q := url.Values{}
	q.Set("fields", "id,name,access_token,instagram_business_account{id,username}")
	var out PagesResponse
	if err := c.Get(ctx, "me/accounts", q, accessToken, &out); err != nil {
		return PagesResponse{}, AsOAuthError(platform, err)
	}
	return out, nil
}

// AsOAuthError converts a Graph error body into *providers.OAuthError.
// Transport errors pass through unchanged.
func AsOAuthError(platform domain.Platform, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &providers.OAuthError{Platform: platform, Type: apiErr.Type, Code: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
