package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"autoreply/internal/providers/graph"
)

type config struct {
	Port              string  `envconfig:"PORT" default:"8080"`
	AppSecret         string  `envconfig:"META_APP_SECRET" default:"mock_secret"`
	OutcomeMode       string  `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw       string  `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate       float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	FailureWeightsRaw string  `envconfig:"MOCK_FAILURE_WEIGHTS" default:"fail:1"`
	DelayMs           int     `envconfig:"MOCK_DELAY_MS" default:"0"`
	TimeoutDelayMs    int     `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"12000"`

	// WebhookURL is the ingestion base, e.g. http://localhost:8081/v1/webhooks.
	WebhookURL            string `envconfig:"MOCK_WEBHOOK_URL" default:""`
	WebhookMaxRetries     int    `envconfig:"MOCK_WEBHOOK_MAX_RETRIES" default:"8"`
	WebhookRetryBaseMs    int    `envconfig:"MOCK_WEBHOOK_RETRY_BASE_MS" default:"250"`
	WebhookRetryMaxMs     int    `envconfig:"MOCK_WEBHOOK_RETRY_MAX_MS" default:"10000"`
	WebhookRetryJitterPct int    `envconfig:"MOCK_WEBHOOK_RETRY_JITTER_PCT" default:"20"`

	Outcomes       []string
	FailureWeights []weightedOutcome
	Delay          time.Duration
	TimeoutDelay   time.Duration
}

type weightedOutcome struct {
	Kind   string
	Weight float64
}

type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

type server struct {
	cfg    config
	idx    uint64
	rr     uint64
	rng    *rand.Rand
	rngMu  sync.Mutex
	client *http.Client
}

func main() {
	cfg := loadConfig()
	loggingInit()

	s := &server{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		client: &http.Client{Timeout: 5 * time.Second},
	}

	slog.Info("mock graph api listening", "port", cfg.Port, "mode", cfg.OutcomeMode)
	if err := http.ListenAndServe(":"+cfg.Port, loggingMiddleware(s.routes())); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

func (s *server) routes() *mux.Router {
	router := mux.NewRouter()
	g := router.PathPrefix("/{version}").Subrouter()
	g.HandleFunc("/oauth/access_token", s.handleToken).Methods(http.MethodGet)
	g.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	g.HandleFunc("/me/accounts", s.handleAccounts).Methods(http.MethodGet)
	g.HandleFunc("/{id}/{edge:comments|replies|messages|mentions}", s.handleSend).Methods(http.MethodPost)

	router.HandleFunc("/mock/emit/{platform}", s.handleEmit).Methods(http.MethodPost)
	return router
}

func loggingInit() {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h).With("service", "mock-provider"))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("mock provider request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.FailureWeights = parseWeightedOutcomes(cfg.FailureWeightsRaw)
	cfg.Delay = time.Duration(cfg.DelayMs) * time.Millisecond
	cfg.TimeoutDelay = time.Duration(cfg.TimeoutDelayMs) * time.Millisecond
	cfg.WebhookURL = strings.TrimRight(strings.TrimSpace(cfg.WebhookURL), "/")

	if cfg.WebhookMaxRetries < 0 {
		cfg.WebhookMaxRetries = 0
	}
	if len(cfg.FailureWeights) == 0 {
		cfg.FailureWeights = []weightedOutcome{{Kind: "fail", Weight: 1}}
	}
	return cfg
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("code") == "bad" {
		writeError(w, http.StatusBadRequest, graphError{Message: "Invalid verification code format.", Type: "OAuthException", Code: 100})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "mock_user_token",
		"token_type":   "bearer",
		"expires_in":   5183944,
	})
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"id": "mock_user", "name": "Mock User"})
}

func (s *server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": []map[string]any{{
			"id":           "mock_page",
			"name":         "Mock Page",
			"access_token": "mock_page_token",
			"instagram_business_account": map[string]string{
				"id":       "mock_ig",
				"username": "mock.shop",
			},
		}},
	})
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeError(w, http.StatusUnauthorized, graphError{Message: "An active access token must be used", Type: "OAuthException", Code: 2500})
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, graphError{Message: "Invalid JSON", Type: "GraphMethodException", Code: 100})
		return
	}

	if s.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.Delay):
		}
	}

	status, gerr, callErr := classifyOutcome(s.nextOutcome())
	if callErr != nil {
		if errors.Is(callErr, context.DeadlineExceeded) {
			time.Sleep(s.cfg.TimeoutDelay)
		}
		gerr.FBTraceID = fmt.Sprintf("mock%06d", atomic.LoadUint64(&s.idx))
		writeError(w, status, gerr)
		return
	}

	id := fmtID(atomic.AddUint64(&s.idx, 1) - 1)
	edge := mux.Vars(r)["edge"]
	switch {
	case edge == "messages" && body["messaging_product"] == "whatsapp":
		writeJSON(w, http.StatusOK, map[string]any{
			"messaging_product": "whatsapp",
			"messages":          []map[string]string{{"id": "wamid." + id}},
		})
	case edge == "messages":
		writeJSON(w, http.StatusOK, map[string]string{"recipient_id": "mock_recipient", "message_id": "m_" + id})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

// handleEmit posts a signed sample comment webhook for platform to the
// configured ingestion URL. Query: page, sender, text.
func (s *server) handleEmit(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookURL == "" {
		http.Error(w, "MOCK_WEBHOOK_URL not set", http.StatusPreconditionFailed)
		return
	}
	platform := mux.Vars(r)["platform"]
	q := r.URL.Query()
	body, err := samplePayload(platform, q.Get("page"), q.Get("sender"), q.Get("text"), fmtID(atomic.AddUint64(&s.idx, 1)-1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	target := s.cfg.WebhookURL + "/" + platform
	go func() {
		_ = s.postWebhookWithRetry(context.Background(), target, body)
	}()
	w.WriteHeader(http.StatusAccepted)
}

func samplePayload(platform, page, sender, text, id string) ([]byte, error) {
	if page == "" {
		page = "mock_page"
	}
	if sender == "" {
		sender = "mock_sender"
	}
	now := time.Now().Unix()
	switch platform {
	case "facebook":
		return json.Marshal(map[string]any{
			"object": "page",
			"entry": []map[string]any{{
				"id": page, "time": now,
				"changes": []map[string]any{{
					"field": "feed",
					"value": map[string]any{
						"item": "comment", "verb": "add", "comment_id": "c_" + id, "post_id": page + "_post",
						"message": text, "created_time": now,
						"from": map[string]string{"id": sender, "name": "Mock Sender"},
					},
				}},
			}},
		})
	case "instagram":
		return json.Marshal(map[string]any{
			"object": "instagram",
			"entry": []map[string]any{{
				"id": page, "time": now,
				"changes": []map[string]any{{
					"field": "comments",
					"value": map[string]any{
						"id": "c_" + id, "text": text,
						"from":  map[string]string{"id": sender, "username": "mock.sender"},
						"media": map[string]string{"id": "media_1"},
					},
				}},
			}},
		})
	case "whatsapp":
		return json.Marshal(map[string]any{
			"object": "whatsapp_business_account",
			"entry": []map[string]any{{
				"id": "mock_waba",
				"changes": []map[string]any{{
					"field": "messages",
					"value": map[string]any{
						"messaging_product": "whatsapp",
						"metadata":          map[string]string{"phone_number_id": page, "display_phone_number": "15550000000"},
						"contacts":          []map[string]any{{"wa_id": sender, "profile": map[string]string{"name": "Mock Sender"}}},
						"messages": []map[string]any{{
							"id": "wamid.in" + id, "from": sender, "timestamp": strconv.FormatInt(now, 10),
							"type": "text", "text": map[string]string{"body": text},
						}},
					},
				}},
			}},
		})
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}

func (s *server) postWebhookWithRetry(ctx context.Context, target string, body []byte) error {
	maxAttempts := s.cfg.WebhookMaxRetries + 1
	sig := graph.Sign(s.cfg.AppSecret, body)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(graph.SignatureHeader, sig)

		resp, err := s.client.Do(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		if err == nil && status >= 200 && status < 300 {
			return nil
		}

		if attempt == maxAttempts-1 {
			slog.Error("mock webhook post failed", "url", target, "attempt", attempt+1, "status", status, "err", err)
			return fmt.Errorf("webhook post failed: status=%d", status)
		}
		// Meta redelivers on any non-2xx except signature rejections.
		if err == nil && status == http.StatusUnauthorized {
			slog.Error("mock webhook signature rejected", "url", target)
			return errors.New("webhook signature rejected")
		}

		wait := s.retryBackoff(attempt)
		slog.Warn("mock webhook post retrying", "url", target, "attempt", attempt+1, "status", status, "wait_ms", wait.Milliseconds())
		time.Sleep(wait)
	}
	return nil
}

func (s *server) retryBackoff(attempt int) time.Duration {
	base := time.Duration(s.cfg.WebhookRetryBaseMs) * time.Millisecond
	limit := time.Duration(s.cfg.WebhookRetryMaxMs) * time.Millisecond
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if limit <= 0 {
		limit = 10 * time.Second
	}

	wait := base * time.Duration(1<<attempt)
	if wait > limit {
		wait = limit
	}

	jp := s.cfg.WebhookRetryJitterPct
	if jp <= 0 {
		return wait
	}
	if jp > 100 {
		jp = 100
	}
	delta := int64(wait) * int64(jp) / 100
	if delta <= 0 {
		return wait
	}
	s.rngMu.Lock()
	j := s.rng.Int63n(2*delta+1) - delta
	s.rngMu.Unlock()
	return time.Duration(int64(wait) + j)
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.rr, 1) - 1
		return s.cfg.Outcomes[int(idx)%len(s.cfg.Outcomes)]
	case "weighted":
		s.rngMu.Lock()
		ok := s.rng.Float64() <= s.cfg.SuccessRate
		r := s.rng.Float64()
		s.rngMu.Unlock()
		if ok {
			return "ok"
		}
		return pickWeighted(r, s.cfg.FailureWeights)
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

// classifyOutcome maps an outcome token ("kind" or "kind:code") to the HTTP
// status and Graph error body the real API returns for it.
func classifyOutcome(raw string) (int, graphError, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		token = "ok"
	}
	kind, codeRaw, _ := strings.Cut(token, ":")
	code, _ := strconv.Atoi(codeRaw)

	pick := func(def int) int {
		if code != 0 {
			return code
		}
		return def
	}

	switch kind {
	case "ok", "success":
		return http.StatusOK, graphError{}, nil
	case "fail", "bad_request", "400":
		return http.StatusBadRequest, graphError{Message: "Unsupported post request.", Type: "GraphMethodException", Code: pick(100)}, errors.New("bad request")
	case "permission", "403":
		return http.StatusForbidden, graphError{Message: "(#10) This message is sent outside of allowed window.", Type: "OAuthException", Code: pick(10)}, errors.New("forbidden")
	case "rate_limit", "429":
		return http.StatusTooManyRequests, graphError{Message: "(#4) Application request limit reached", Type: "OAuthException", Code: pick(4)}, errors.New("rate limited")
	case "throttle":
		// Graph often reports throttling as 400 with a throttling code.
		return http.StatusBadRequest, graphError{Message: "(#613) Calls to this api have exceeded the rate limit.", Type: "OAuthException", Code: pick(613)}, errors.New("throttled")
	case "server_error", "5xx", "500":
		return http.StatusInternalServerError, graphError{Message: "An unexpected error has occurred.", Type: "OAuthException", Code: pick(2)}, errors.New("server error")
	case "timeout":
		return http.StatusGatewayTimeout, graphError{Message: "Request timed out", Type: "OAuthException", Code: pick(2)}, context.DeadlineExceeded
	default:
		return http.StatusInternalServerError, graphError{Message: "mock error: " + kind, Type: "OAuthException", Code: pick(1)}, errors.New("mock error: " + kind)
	}
}

func writeError(w http.ResponseWriter, status int, e graphError) {
	writeJSON(w, status, map[string]graphError{"error": e})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fmtID(i uint64) string {
	return fmt.Sprintf("mock_%06d", i)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}

func parseWeightedOutcomes(s string) []weightedOutcome {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]weightedOutcome, 0, len(parts))
	for _, p := range parts {
		kind, weight, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
		if err != nil || w <= 0 {
			continue
		}
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		out = append(out, weightedOutcome{Kind: kind, Weight: w})
	}
	return out
}

func pickWeighted(r float64, items []weightedOutcome) string {
	if len(items) == 0 {
		return "fail"
	}
	var total float64
	for _, it := range items {
		total += it.Weight
	}
	if total <= 0 {
		return items[0].Kind
	}
	target := r * total
	var cumulative float64
	for _, it := range items {
		cumulative += it.Weight
		if target <= cumulative {
			return it.Kind
		}
	}
	return items[len(items)-1].Kind
}
