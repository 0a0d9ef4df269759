// Command outbox-relay publishes committed outbox rows to Redpanda.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/config"
	"github.com/drfirst/go-clinic/internal/infrastructure/postgres"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/internal/observability/logging"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/internal/observability/tracing"
)

const (
	serviceName     = "outbox-relay"
	cleanupInterval = time.Hour
	retainProcessed = 7 * 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	m := metrics.New(prometheus.NewRegistry())

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	relay := postgres.NewRelay(pool, producer, outboxCfg, logger)
	relay.OnPending = func(pending int64) { m.OutboxPending.Set(float64(pending)) }
	relay.Start()
	logger.Info("outbox relay started")

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := relay.CleanupProcessed(ctx, retainProcessed)
				if err != nil {
					logger.Error("outbox cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("outbox cleaned", zap.Int64("deleted", n))
				}
			}
		}
	}()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	relay.Stop()
	logger.Info("outbox relay stopped")
}
