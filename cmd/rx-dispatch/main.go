// Command rx-dispatch consumes prescription events and delivers signed
// prescriptions to the fulfilment webhook.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/config"
	"github.com/drfirst/go-clinic/internal/dispatch"
	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/infrastructure/postgres"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/internal/observability/logging"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/internal/observability/tracing"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
	"github.com/drfirst/go-clinic/pkg/idempotency"
	"github.com/drfirst/go-clinic/pkg/workerpool"
)

const serviceName = "rx-dispatch"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.PharmacyWebhookURL == "" {
		logger.Fatal("PHARMACY_WEBHOOK_URL is required")
	}

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

	if err := redpanda.HealthCheck(ctx, cfg.KafkaBrokers); err != nil {
		logger.Fatal("redpanda unreachable", zap.Strings("brokers", cfg.KafkaBrokers), zap.Error(err))
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	m := metrics.New(prometheus.NewRegistry())

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	cbCfg := circuitbreaker.DefaultConfig("pharmacy-webhook")
	cbCfg.IsSuccessful = dispatch.IsBreakerSuccess
	cbCfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(to.Gauge())
	}
	breaker, err := circuitbreaker.New(cbCfg, logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}

	store := idempotency.NewPGStore(pool, logger)
	inboxCfg := idempotency.DefaultInboxConfig()
	inbox := idempotency.NewInbox(store, inboxCfg, logger)
	go store.RunCleanup(ctx, inboxCfg.CleanupInterval)

	dispatcher, err := dispatch.New(dispatch.Config{
		WebhookURL: cfg.PharmacyWebhookURL,
		Currency:   cfg.Currency,
		Timeout:    cfg.DispatchTimeout,
	}, prescription.NewService(prescription.NewPGRepository(pool, logger), logger),
		inbox, breaker, producer, m, logger)
	if err != nil {
		logger.Fatal("dispatcher creation failed", zap.Error(err))
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.DispatchWorkers
	workers, err := workerpool.New[*redpanda.ConsumedMessage](poolCfg, dispatcher.Handle, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workers.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		err := workers.SubmitWait(ctx, msg)
		if err == nil || !errors.Is(err, workerpool.ErrPermanent) {
			return err
		}
		// Park the record so the partition keeps moving.
		logger.Error("dispatch failed permanently",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return deadLetter(ctx, producer, msg, err)
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		lagCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		lag, err := admin.ConsumerGroupLag(lagCtx, consumerCfg.GroupID)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"lag":     lag,
			"breaker": string(breaker.GetState()),
			"workers": workers.Stats(),
		})
	})
	r.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", zap.Error(err))
		}
	}()

	consumer.Start()
	logger.Info("rx dispatch started", zap.Int("workers", poolCfg.Workers))

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop", zap.Error(err))
	}
	workers.Stop()
	logger.Info("rx dispatch stopped", zap.Any("stats", workers.Stats()))
}

func deadLetter(ctx context.Context, producer *redpanda.Producer, msg *redpanda.ConsumedMessage, cause error) error {
	payload, err := json.Marshal(map[string]any{
		"source_topic":  msg.Topic,
		"partition":     msg.Partition,
		"offset":        msg.Offset,
		"key":           string(msg.Key),
		"payload":       string(msg.Value),
		"error":         cause.Error(),
		"dead_lettered": time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return producer.Publish(ctx, redpanda.TopicDeadLetter, string(msg.Key), payload)
}
