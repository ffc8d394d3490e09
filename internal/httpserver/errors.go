package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"autoreply/internal/domain"
	"autoreply/internal/providers"
)

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrInvalidSignature = "invalid signature"
	ErrForbidden        = "verification failed"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP statuses. Anything unrecognized is a
// dependency failure.
func statusFor(err error) (int, string) {
	var oauthErr *providers.OAuthError
	switch {
	case errors.As(err, &oauthErr):
		return http.StatusBadRequest, oauthErr.Message
	case errors.Is(err, domain.ErrMissingFields):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrNotFound
	default:
		return http.StatusBadGateway, ErrDependency
	}
}
