package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"autoreply/internal/awsutil"
	"autoreply/internal/config"
	"autoreply/internal/domain"
	"autoreply/internal/httpserver"
	"autoreply/internal/logging"
	"autoreply/internal/notify"
	"autoreply/internal/observability"
	"autoreply/internal/providers/registry"
	"autoreply/internal/queue"
	"autoreply/internal/queue/memory"
	sqsqueue "autoreply/internal/queue/sqs"
	"autoreply/internal/service"
	"autoreply/internal/store/pg"
	"autoreply/internal/store/rediscache"
	"autoreply/internal/usage"
	workerproc "autoreply/internal/worker"
)

type laneRunner func(ctx context.Context, lane queue.Lane, workers int, h queue.Handler) error

func main() {
	cfg := config.LoadWorker()
	logging.Init("worker", cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pg.NewPool(ctx, cfg.DBDSN, cfg.PoolOptions("autoreply-worker"))
	if err != nil {
		slog.Error("worker db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := pg.New(db)

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()

	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if err := rdb.Ping(startupCtx).Err(); err != nil {
		// rule cache falls through to postgres; realtime events are best effort
		slog.Warn("redis not reachable, continuing degraded", "err", err, "addr", cfg.RedisAddr)
	}

	observability.Register(prometheus.DefaultRegisterer)

	var (
		backend queue.Backend
		run     laneRunner
		checks  = []httpserver.ReadyzCheck{store.Ping}
	)
	if cfg.Memory() {
		mq := memory.New()
		mq.MaxAttempts = cfg.MaxAttempts
		backend = mq
		run = mq.Run
		slog.Warn("worker using in-memory queue; jobs do not survive restarts")
	} else {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("worker sqs client init failed", "err", err)
			os.Exit(1)
		}
		urls := cfg.URLs()
		queueCheck := func(c context.Context) error {
			for _, lane := range queue.Lanes {
				u := urls[lane]
				if u == "" {
					return errors.New("missing queue url for lane " + string(lane))
				}
				if _, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
					QueueUrl:       &u,
					AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
				}); err != nil {
					return err
				}
			}
			return nil
		}
		if err := queueCheck(startupCtx); err != nil {
			slog.Error("sqs not reachable", "err", err)
			os.Exit(1)
		}
		checks = append(checks, queueCheck)

		backend = &sqsqueue.Producer{SQS: sqsClient, QueueURLs: urls, Buckets: cfg.SQSGroupBuckets}
		run = func(ctx context.Context, lane queue.Lane, workers int, h queue.Handler) error {
			c := &sqsqueue.Consumer{
				SQS:               sqsClient,
				Lane:              lane,
				QueueURL:          urls[lane],
				DeadLetterURL:     cfg.SQSDeadLetterQueueURL,
				WaitTimeSeconds:   cfg.SQSWaitTime,
				MaxMessages:       cfg.SQSMaxMsgs,
				VisibilityTimeout: cfg.SQSVizTimeout,
				MaxAttempts:       cfg.MaxAttempts,
				JobTimeout:        cfg.JobTimeout,
			}
			return c.PollConcurrent(ctx, workers, h)
		}
	}
	producer := queue.NewProducer(backend)

	adapters := registry.Default(cfg.App(), &http.Client{Timeout: cfg.MetaHTTPTimeout})
	realtime := notify.NewRealtime(rdb)
	tracker := usage.NewTracker(store, usage.ParseLimits(cfg.PlanReplyLimits))

	limiters := make(map[domain.Platform]*rate.Limiter)
	breakers := make(map[domain.Platform]*gobreaker.CircuitBreaker)
	for _, p := range adapters.Platforms() {
		limiters[p] = rate.NewLimiter(rate.Limit(cfg.ProviderRPS), cfg.ProviderBurst)
		breakers[p] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(p),
			MaxRequests: 3,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= cfg.BreakerFailures },
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("provider breaker state change", "platform", name, "from", from.String(), "to", to.String())
			},
		})
	}

	webhooks := &workerproc.WebhookProcessor{
		Rules:    rediscache.NewRuleCache(rdb, store, cfg.RuleCacheTTL),
		Accounts: store,
		Queue:    producer,
	}
	dispatcher := &workerproc.Dispatcher{
		Store:       store,
		Quota:       tracker,
		Adapters:    adapters,
		Realtime:    realtime,
		FollowUp:    producer,
		Limiters:    limiters,
		Breakers:    breakers,
		SendTimeout: cfg.SendTimeout,
	}
	analytics := &workerproc.AnalyticsProcessor{Usage: tracker}
	notifications := &workerproc.NotificationProcessor{
		Realtime: realtime,
		Email:    workerproc.LogSender{},
		Push:     workerproc.LogSender{},
	}

	handlers := map[queue.Lane]queue.Handler{
		queue.LaneWebhook:      queue.Decode(webhooks.Process),
		queue.LaneReply:        queue.Decode(dispatcher.Process),
		queue.LaneAnalytics:    queue.Decode(analytics.Process),
		queue.LaneNotification: queue.Decode(notifications.Process),
	}

	// health server (liveness + readiness)
	hs := httpserver.New()
	hs.Mux.HandleFunc("/healthz", httpserver.Healthz())
	hs.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, checks...))
	if cfg.Memory() {
		// single-process mode: ingestion shares the in-memory queue
		ingest := &service.IngestService{Adapters: adapters, Accounts: store, Queue: producer}
		(&httpserver.Webhook{Ingest: ingest, AppSecret: cfg.MetaAppSecret, VerifyToken: cfg.MetaVerifyToken}).Register(hs.Mux)
	}
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: hs.Handler()}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}

	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range queue.Lanes {
		lane := lane
		workers := cfg.Concurrency(lane)
		h := workerproc.Instrument(lane, handlers[lane])
		g.Go(func() error {
			slog.Info("worker lane starting", "lane", lane, "workers", workers)
			err := run(gctx, lane, workers, h)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	for _, srv := range []*http.Server{healthSrv, metricsSrv} {
		srv := srv
		g.Go(func() error {
			slog.Info("worker http listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("worker shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker failed", "err", err)
		os.Exit(1)
	}
}
