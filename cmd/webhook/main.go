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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autoreply/internal/awsutil"
	"autoreply/internal/config"
	"autoreply/internal/httpserver"
	"autoreply/internal/logging"
	"autoreply/internal/observability"
	"autoreply/internal/providers/registry"
	"autoreply/internal/queue"
	sqsqueue "autoreply/internal/queue/sqs"
	"autoreply/internal/service"
	"autoreply/internal/store/pg"
)

func main() {
	cfg := config.LoadWebhook()
	logging.Init("webhook", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, cfg.PoolOptions("autoreply-webhook"))
	if err != nil {
		slog.Error("webhook db connect failed", "err", err)
		os.Exit(1)
	}
	store := pg.New(db)

	if cfg.SQSWebhookQueueURL == "" {
		slog.Error("webhook requires SQS_WEBHOOK_QUEUE_URL")
		os.Exit(1)
	}
	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("webhook sqs client init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	producer := queue.NewProducer(&sqsqueue.Producer{
		SQS:       sqsClient,
		QueueURLs: cfg.URLs(),
		Buckets:   cfg.SQSGroupBuckets,
	})
	ingest := &service.IngestService{
		// parsing never calls the Graph API
		Adapters:        registry.Default(cfg.App(), nil),
		Accounts:        store,
		Queue:           producer,
		PublishAttempts: cfg.PublishAttempts,
		PublishBackoff:  cfg.PublishBackoff,
	}

	s := httpserver.New()
	(&httpserver.Webhook{
		Ingest:      ingest,
		AppSecret:   cfg.MetaAppSecret,
		VerifyToken: cfg.MetaVerifyToken,
	}).Register(s.Mux)
	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, store.Ping))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.Handler(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webhook metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("webhook shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("webhook listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("webhook server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}
