package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig holds configuration for the Redpanda consumer
type ConsumerConfig struct {
	// Brokers is a list of broker addresses
	Brokers []string
	// GroupID is the consumer group ID
	GroupID string
	// Topics is the list of topics to consume
	Topics []string
	// SessionTimeoutMS is the session timeout
	SessionTimeoutMS int64
	// HeartbeatIntervalMS is the heartbeat interval
	HeartbeatIntervalMS int64
	// StartOffset is the initial offset (latest or earliest)
	StartOffset string
	// RetryBackoff is the first delay before a failed record is handled
	// again; it doubles up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultConsumerConfig returns defaults for the dispatch consumer.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:             []string{"localhost:9092"},
		GroupID:             "clinic-rx-dispatch",
		Topics:              []string{TopicPrescriptionEvents},
		SessionTimeoutMS:    30000,
		HeartbeatIntervalMS: 3000,
		StartOffset:         "earliest",
		RetryBackoff:        time.Second,
		MaxRetryBackoff:     time.Minute,
	}
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage represents a consumed Kafka message
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Consumer reads records one at a time and commits only records whose
// handler succeeded. A failed record is handled again with backoff and
// holds back the records behind it, so no later commit can skip it. On
// shutdown it stays uncommitted and is redelivered after a restart.
type Consumer struct {
	client  *kgo.Client
	config  ConsumerConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	handler MessageHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	messagesRead int64
	errorCount   int64
}

// NewConsumer creates a new Redpanda consumer
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS) * time.Millisecond),
		kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond),
		kgo.AutoCommitMarks(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	}

	switch cfg.StartOffset {
	case "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:  client,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-consumer"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins consuming messages
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Warn("error committing offsets on stop", zap.Error(err))
	}

	c.client.Close()
	return nil
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
			c.incErrors()
		})

		fetches.EachRecord(c.processRecord)
	}
}

func (c *Consumer) processRecord(record *kgo.Record) {
	// after a stop the rest of the fetch stays unmarked behind the record
	// that was still failing
	if c.ctx.Err() != nil {
		return
	}
	ctx := ExtractTraceContext(c.ctx, record)
	ctx, span := c.tracer.Start(ctx, "process_message",
		trace.WithAttributes(
			attribute.String("topic", record.Topic),
			attribute.Int64("partition", int64(record.Partition)),
			attribute.Int64("offset", record.Offset),
		))
	defer span.End()

	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Timestamp,
	}
	for _, h := range record.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	if !c.handle(ctx, msg, span) {
		return
	}

	c.client.MarkCommitRecords(record)
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Error("failed to commit offset",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		span.RecordError(err)
	}
}

// handle runs the handler until it succeeds. It reports false only when the
// consumer is stopping, leaving the record unmarked.
func (c *Consumer) handle(ctx context.Context, msg *ConsumedMessage, span trace.Span) bool {
	backoff := c.config.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg)
		if err == nil {
			c.mu.Lock()
			c.messagesRead++
			c.mu.Unlock()
			return true
		}
		c.logger.Error("message handler failed",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", backoff),
			zap.Error(err))
		span.RecordError(err)
		c.incErrors()

		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if c.config.MaxRetryBackoff > 0 && backoff > c.config.MaxRetryBackoff {
			backoff = c.config.MaxRetryBackoff
		}
	}
}

func (c *Consumer) incErrors() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// ConsumerStats holds consumer statistics
type ConsumerStats struct {
	MessagesRead int64
	ErrorCount   int64
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConsumerStats{MessagesRead: c.messagesRead, ErrorCount: c.errorCount}
}
