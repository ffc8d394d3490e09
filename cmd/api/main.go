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
	goredis "github.com/redis/go-redis/v9"

	"autoreply/internal/config"
	"autoreply/internal/httpserver"
	"autoreply/internal/logging"
	"autoreply/internal/observability"
	"autoreply/internal/providers/registry"
	"autoreply/internal/service"
	"autoreply/internal/store/pg"
	"autoreply/internal/store/rediscache"
	"autoreply/internal/util"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, cfg.PoolOptions("autoreply-api"))
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	store := pg.New(db)

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	observability.Register(prometheus.DefaultRegisterer)

	connect := &service.ConnectService{
		Adapters: registry.Default(cfg.App(), &http.Client{Timeout: cfg.MetaHTTPTimeout}),
		Accounts: store,
		NewID:    util.NewAccountID,
	}

	s := httpserver.New()
	api := &httpserver.API{
		Connect: connect,
		Rules:   rediscache.NewRuleCache(rdb, store, cfg.RuleCacheTTL),
	}
	api.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, store.Ping, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.Handler(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}
