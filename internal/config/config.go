package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"autoreply/internal/providers/graph"
	"autoreply/internal/queue"
	"autoreply/internal/store/pg"
)

type Common struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

type DB struct {
	DBDSN                   string        `envconfig:"DB_DSN" required:"true"`
	DBPoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	DBPoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
}

// PoolOptions returns the pool settings; app becomes the session's
// application_name.
func (d DB) PoolOptions(app string) pg.PoolOptions {
	return pg.PoolOptions{
		ApplicationName:   app,
		MaxConns:          d.DBPoolMaxConns,
		MinConns:          d.DBPoolMinConns,
		MaxConnLifetime:   d.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   d.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: d.DBPoolHealthCheckPeriod,
	}
}

type Redis struct {
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RuleCacheTTL  time.Duration `envconfig:"RULE_CACHE_TTL" default:"60s"`
}

// Queues holds one SQS queue per lane. QUEUE_BACKEND=memory runs every lane
// in-process (worker binary only) and ignores the URLs.
type Queues struct {
	QueueBackend       string `envconfig:"QUEUE_BACKEND" default:"sqs"`
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`

	SQSWebhookQueueURL      string `envconfig:"SQS_WEBHOOK_QUEUE_URL"`
	SQSReplyQueueURL        string `envconfig:"SQS_REPLY_QUEUE_URL"`
	SQSAnalyticsQueueURL    string `envconfig:"SQS_ANALYTICS_QUEUE_URL"`
	SQSNotificationQueueURL string `envconfig:"SQS_NOTIFICATION_QUEUE_URL"`
	SQSDeadLetterQueueURL   string `envconfig:"SQS_DEAD_LETTER_QUEUE_URL"`
	SQSGroupBuckets         int    `envconfig:"SQS_GROUP_BUCKETS" default:"64"`
}

func (q Queues) URLs() map[queue.Lane]string {
	return map[queue.Lane]string{
		queue.LaneWebhook:      q.SQSWebhookQueueURL,
		queue.LaneReply:        q.SQSReplyQueueURL,
		queue.LaneAnalytics:    q.SQSAnalyticsQueueURL,
		queue.LaneNotification: q.SQSNotificationQueueURL,
	}
}

func (q Queues) Memory() bool { return q.QueueBackend == "memory" }

type Meta struct {
	MetaAppID        string        `envconfig:"META_APP_ID"`
	MetaAppSecret    string        `envconfig:"META_APP_SECRET" required:"true"`
	MetaRedirectURL  string        `envconfig:"META_REDIRECT_URL"`
	MetaGraphURL     string        `envconfig:"META_GRAPH_URL" default:"https://graph.facebook.com"`
	MetaDialogURL    string        `envconfig:"META_DIALOG_URL" default:"https://www.facebook.com"`
	MetaGraphVersion string        `envconfig:"META_GRAPH_VERSION" default:"v18.0"`
	MetaVerifyToken  string        `envconfig:"META_VERIFY_TOKEN"`
	MetaHTTPTimeout  time.Duration `envconfig:"META_HTTP_TIMEOUT" default:"10s"`
}

func (m Meta) App() graph.AppConfig {
	return graph.AppConfig{
		AppID:       m.MetaAppID,
		AppSecret:   m.MetaAppSecret,
		RedirectURL: m.MetaRedirectURL,
		GraphURL:    m.MetaGraphURL,
		DialogURL:   m.MetaDialogURL,
		Version:     m.MetaGraphVersion,
	}
}

type APIConfig struct {
	Common
	DB
	Redis
	Meta
}

type WebhookConfig struct {
	Common
	DB
	Queues
	Meta

	PublishAttempts int           `envconfig:"WEBHOOK_PUBLISH_ATTEMPTS" default:"3"`
	PublishBackoff  time.Duration `envconfig:"WEBHOOK_PUBLISH_BACKOFF" default:"100ms"`
}

type WorkerConfig struct {
	Common
	DB
	Redis
	Queues
	Meta

	SQSWaitTime   int32 `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs    int32 `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout int32 `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WebhookConcurrency      int           `envconfig:"WEBHOOK_CONCURRENCY" default:"10"`
	ReplyConcurrency        int           `envconfig:"REPLY_CONCURRENCY" default:"20"`
	AnalyticsConcurrency    int           `envconfig:"ANALYTICS_CONCURRENCY" default:"5"`
	NotificationConcurrency int           `envconfig:"NOTIFICATION_CONCURRENCY" default:"5"`
	JobTimeout              time.Duration `envconfig:"JOB_TIMEOUT" default:"30s"`
	MaxAttempts             int           `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`

	// per platform, per pod
	ProviderRPS     float64       `envconfig:"PROVIDER_RPS_PER_POD" default:"5"`
	ProviderBurst   int           `envconfig:"PROVIDER_BURST" default:"10"`
	SendTimeout     time.Duration `envconfig:"PROVIDER_SEND_TIMEOUT" default:"8s"`
	BreakerFailures uint32        `envconfig:"BREAKER_CONSECUTIVE_FAILURES" default:"10"`
	BreakerTimeout  time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"20s"`

	// PlanReplyLimits is plan:limit pairs; -1 is unlimited.
	PlanReplyLimits map[string]int64 `envconfig:"PLAN_REPLY_LIMITS" default:"free:100,pro:5000,business:-1"`
}

func (c WorkerConfig) Concurrency(lane queue.Lane) int {
	switch lane {
	case queue.LaneWebhook:
		return c.WebhookConcurrency
	case queue.LaneReply:
		return c.ReplyConcurrency
	case queue.LaneAnalytics:
		return c.AnalyticsConcurrency
	default:
		return c.NotificationConcurrency
	}
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
