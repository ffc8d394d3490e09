package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"autoreply/internal/domain"
)

type Connector interface {
	AuthURL(platform, state string) (string, error)
	Complete(ctx context.Context, platform, code, userID string) ([]domain.SocialAccount, error)
}

type RuleInvalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

// API serves the account connect flow and rule cache management.
type API struct {
	Connect Connector
	Rules   RuleInvalidator
}

func (a *API) Register(m *mux.Router) {
	m.HandleFunc("/v1/oauth/{platform}/url", a.handleOAuthURL).Methods(http.MethodGet)
	m.HandleFunc("/v1/oauth/{platform}/callback", a.handleOAuthCallback).Methods(http.MethodPost)
	if a.Rules != nil {
		m.HandleFunc("/v1/accounts/{id}/rules/invalidate", a.handleInvalidateRules).Methods(http.MethodPost)
	}
}

func (a *API) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	u, err := a.Connect.AuthURL(platform, r.URL.Query().Get("state"))
	if err != nil {
		status, msg := statusFor(err)
		http.Error(w, msg, status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

type callbackRequest struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

type connectedAccount struct {
	ID         string          `json:"id"`
	Platform   domain.Platform `json:"platform"`
	ExternalID string          `json:"externalId"`
	Name       string          `json:"name"`
}

func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	accs, err := a.Connect.Complete(r.Context(), platform, req.Code, req.UserID)
	if err != nil {
		status, msg := statusFor(err)
		if status >= 500 {
			slog.Error("oauth callback failed", "err", err, "platform", platform, "user_id", req.UserID)
		} else {
			slog.Warn("oauth callback rejected", "err", err, "platform", platform, "user_id", req.UserID)
		}
		http.Error(w, msg, status)
		return
	}

	out := make([]connectedAccount, 0, len(accs))
	for _, acc := range accs {
		out = append(out, connectedAccount{
			ID:         acc.ID,
			Platform:   acc.Platform,
			ExternalID: acc.ExternalID,
			Name:       acc.Name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (a *API) handleInvalidateRules(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	if err := a.Rules.Invalidate(r.Context(), id); err != nil {
		slog.Error("rule cache invalidate failed", "err", err, "account_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
