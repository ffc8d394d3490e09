package service

import (
	"context"
	"fmt"
	"time"

	"autoreply/internal/domain"
	"autoreply/internal/store"
	"autoreply/internal/util"
)

// AccountWriter stores a batch of accounts atomically.
type AccountWriter interface {
	UpsertSocialAccounts(ctx context.Context, in []store.AccountUpsert) ([]domain.SocialAccount, error)
}

// ConnectService runs the OAuth connect flow for a platform and stores the
// resulting accounts.
type ConnectService struct {
	Adapters AdapterRegistry
	Accounts AccountWriter
	NewID    func() string
	Now      func() time.Time
}

func (s *ConnectService) AuthURL(platform, state string) (string, error) {
	a, ok := s.Adapters.Resolve(platform)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, platform)
	}
	return a.OAuthURL(state), nil
}

// Complete exchanges code and upserts one SocialAccount per manageable page.
// Provider errors are returned as *providers.OAuthError and nothing is stored;
// a storage failure on any page stores none of them.
func (s *ConnectService) Complete(ctx context.Context, platform, code, userID string) ([]domain.SocialAccount, error) {
	if code == "" || userID == "" {
		return nil, domain.ErrMissingFields
	}
	a, ok := s.Adapters.Resolve(platform)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, platform)
	}

	tr, err := a.ExchangeCodeForToken(ctx, code)
	if err != nil {
		return nil, err
	}

	now := util.NowUTC()
	if s.Now != nil {
		now = s.Now()
	}
	newID := s.NewID
	if newID == nil {
		newID = util.NewAccountID
	}

	batch := make([]store.AccountUpsert, 0, len(tr.Pages))
	for _, p := range tr.Pages {
		token := p.AccessToken
		if token == "" {
			token = tr.AccessToken
		}
		batch = append(batch, store.AccountUpsert{
			ID:          newID(),
			UserID:      userID,
			Platform:    a.Platform(),
			ExternalID:  p.ID,
			Name:        p.Name,
			AccessToken: token,
			Now:         now,
		})
	}
	if len(batch) == 0 {
		return []domain.SocialAccount{}, nil
	}
	out, err := s.Accounts.UpsertSocialAccounts(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("store accounts: %w", err)
	}
	return out, nil
}
