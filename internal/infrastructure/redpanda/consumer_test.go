package redpanda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func testConsumer(handler MessageHandler) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConsumerConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxRetryBackoff = 4 * time.Millisecond
	return &Consumer{
		config:  cfg,
		logger:  zap.NewNop(),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func TestConsumer_RetriesFailedRecordUntilHandled(t *testing.T) {
	calls := 0
	c := testConsumer(func(_ context.Context, _ *ConsumedMessage) error {
		calls++
		if calls < 3 {
			return errors.New("webhook unavailable")
		}
		return nil
	})
	defer c.cancel()

	ok := c.handle(context.Background(), &ConsumedMessage{Offset: 7}, trace.SpanFromContext(context.Background()))

	assert.True(t, ok)
	assert.Equal(t, 3, calls)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.MessagesRead)
	assert.Equal(t, int64(2), stats.ErrorCount)
}

func TestConsumer_StopLeavesFailedRecordUnhandled(t *testing.T) {
	calls := 0
	var c *Consumer
	c = testConsumer(func(_ context.Context, _ *ConsumedMessage) error {
		calls++
		c.cancel()
		return errors.New("webhook unavailable")
	})

	ok := c.handle(context.Background(), &ConsumedMessage{Offset: 7}, trace.SpanFromContext(context.Background()))

	assert.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.Zero(t, c.Stats().MessagesRead)
}

func TestConsumer_SkipsRestOfFetchAfterStop(t *testing.T) {
	calls := 0
	c := testConsumer(func(_ context.Context, _ *ConsumedMessage) error {
		calls++
		return nil
	})
	c.cancel()

	// no client is set: reaching the commit would panic
	c.processRecord(&kgo.Record{Topic: TopicPrescriptionEvents, Offset: 8})

	assert.Zero(t, calls)
}
