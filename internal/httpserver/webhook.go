package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"autoreply/internal/providers/graph"
	"autoreply/internal/service"
)

// maxWebhookBody bounds a single delivery; Meta batches stay well below it.
const maxWebhookBody = 1 << 20

type Ingester interface {
	Ingest(ctx context.Context, platform string, body []byte) (service.IngestResult, error)
}

type Webhook struct {
	Ingest      Ingester
	AppSecret   string
	VerifyToken string
}

func (w *Webhook) Register(m *mux.Router) {
	m.HandleFunc("/v1/webhooks/{platform}", w.handleVerify).Methods(http.MethodGet)
	m.HandleFunc("/v1/webhooks/{platform}", w.handleEvent).Methods(http.MethodPost)
}

func (w *Webhook) handleVerify(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := graph.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), w.VerifyToken)
	if !ok {
		http.Error(rw, ErrForbidden, http.StatusForbidden)
		return
	}
	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, challenge)
}

// handleEvent answers 200 for every authentic delivery, even when some events
// could not be queued: Meta retries non-2xx responses for the whole batch.
func (w *Webhook) handleEvent(rw http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(rw, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if !graph.VerifySignature(w.AppSecret, body, r.Header.Get(graph.SignatureHeader)) {
		slog.Warn("webhook signature rejected", "platform", platform)
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	res, err := w.Ingest.Ingest(r.Context(), platform, body)
	if err != nil {
		slog.Error("webhook ingest incomplete",
			"err", err,
			"platform", platform,
			"events", res.Events,
			"queued", res.Queued,
		)
	}
	if res.Ignored {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	slog.Info("webhook ingested",
		"platform", platform,
		"events", res.Events,
		"queued", res.Queued,
		"unlinked", res.Unlinked,
	)
	writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "events": res.Events})
}
