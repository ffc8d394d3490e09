package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_webhook_events_total", Help: "Inbound webhook events by outcome"},
		[]string{"platform", "result"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_enqueue_total", Help: "Queue enqueue results"},
		[]string{"lane", "result"},
	)
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_jobs_total", Help: "Processed jobs by lane and status"},
		[]string{"lane", "status"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "autoreply_job_duration_seconds", Help: "Job handler latency"},
		[]string{"lane"},
	)
	RuleMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_rule_matches_total", Help: "Rule engine outcomes"},
		[]string{"platform", "result"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_dispatch_total", Help: "Reply dispatch outcomes"},
		[]string{"platform", "result"},
	)
	ProviderSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_provider_send_total", Help: "Provider send outcomes"},
		[]string{"platform", "result", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "autoreply_provider_send_latency_seconds", Help: "Provider send latency"},
		[]string{"platform"},
	)
	QuotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_quota_rejections_total", Help: "Replies blocked by plan quota"},
		[]string{"plan"},
	)
	RuleCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_rule_cache_total", Help: "Rule cache lookups"},
		[]string{"result"},
	)
	AnalyticsEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "autoreply_analytics_events_total", Help: "Analytics lane events applied, by type"},
		[]string{"type", "platform"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, WebhookEvents, Enqueues, Jobs, JobDuration, RuleMatches,
		Dispatches, ProviderSend, ProviderLatency, QuotaRejections, RuleCache, AnalyticsEvents)
}
