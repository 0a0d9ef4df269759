// Package postgres provides PostgreSQL infrastructure components.
// Implements Transactional Outbox pattern for reliable event publishing.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// relayLockID is the advisory lock held by the relay that owns a batch.
const relayLockID = int64(0x636c696e6963)

// OutboxEntry represents an event to be published via the outbox pattern
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	Key           string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// OutboxConfig holds configuration for the outbox relay
type OutboxConfig struct {
	// BatchSize is the number of entries to process per batch
	BatchSize int
	// PollInterval is how often to poll for new entries
	PollInterval time.Duration
	// MaxRetries is the maximum retries before moving to dead letter
	MaxRetries int
	// DeadLetterTopic receives entries that exhausted their retries
	DeadLetterTopic string
	// StatsInterval is how often pending counts are reported
	StatsInterval time.Duration
}

// DefaultOutboxConfig returns sensible defaults
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:       100,
		PollInterval:    250 * time.Millisecond,
		MaxRetries:      5,
		DeadLetterTopic: "clinic.dead.letter",
		StatsInterval:   15 * time.Second,
	}
}

// OutboxPublisher defines the interface for publishing outbox entries
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// WriteEntry writes an outbox entry within a transaction. It must be called
// in the same transaction as the domain write it announces.
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	query := `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, topic, message_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		entry.AggregateID,
		entry.AggregateType,
		entry.EventType,
		entry.Payload,
		entry.Topic,
		entry.Key,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}

	return nil
}

// Relay polls the outbox table and publishes pending entries.
type Relay struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	// OnPending, when set, receives the pending count every StatsInterval.
	OnPending func(pending int64)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates a new outbox relay
func NewRelay(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Relay{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling and processing outbox entries
func (o *Relay) Start() {
	go o.processLoop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop gracefully stops the relay
func (o *Relay) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Relay) processLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	statsInterval := o.config.StatsInterval
	if statsInterval <= 0 {
		statsInterval = DefaultOutboxConfig().StatsInterval
	}
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if err := o.processBatch(o.ctx); err != nil {
				o.logger.Error("outbox batch failed", zap.Error(err))
			}
		case <-stats.C:
			o.reportPending(o.ctx)
		}
	}
}

// processBatch publishes one batch. Rows are locked for the duration of the
// transaction so concurrent relays skip them.
func (o *Relay) processBatch(ctx context.Context) error {
	ctx, span := o.tracer.Start(ctx, "outbox_process_batch")
	defer span.End()

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var acquired bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", relayLockID).Scan(&acquired); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		return nil
	}

	entries, err := fetchUnprocessed(ctx, tx, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.processEntry(ctx, tx, entry); err != nil {
			o.logger.Warn("outbox entry not published",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Int("retry_count", entry.RetryCount+1),
				zap.Error(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func fetchUnprocessed(ctx context.Context, tx pgx.Tx, maxRetries, limit int) ([]*OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       topic, message_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.Topic,
			&entry.Key, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (o *Relay) processEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_process_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("aggregate_id", entry.AggregateID),
		))
	defer span.End()

	if err := o.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		span.RecordError(err)
		if _, updateErr := tx.Exec(ctx, `
			UPDATE outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2
		`, err.Error(), entry.ID); updateErr != nil {
			return fmt.Errorf("record publish failure: %w", updateErr)
		}
		return fmt.Errorf("publish: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1`, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark processed: %w", err)
	}

	o.logger.Debug("outbox entry published",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.Topic))
	return nil
}

// CleanupProcessed removes old processed entries
func (o *Relay) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := o.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return result.RowsAffected(), nil
}

// MoveToDeadLetter publishes entries that exhausted their retries to the
// dead letter topic and marks them processed.
func (o *Relay) MoveToDeadLetter(ctx context.Context) (int64, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       topic, message_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED
	`, o.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query dead entries: %w", err)
	}

	var dead []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.Topic, &entry.Key,
			&entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan dead entry: %w", err)
		}
		dead = append(dead, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var count int64
	for _, entry := range dead {
		dlPayload, _ := json.Marshal(map[string]interface{}{
			"original_topic": entry.Topic,
			"event_type":     entry.EventType,
			"aggregate_id":   entry.AggregateID,
			"payload":        entry.Payload,
			"retry_count":    entry.RetryCount,
			"last_error":     entry.LastError,
			"created_at":     entry.CreatedAt,
		})

		if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, entry.Key, dlPayload); err != nil {
			o.logger.Error("dead letter publish failed", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}
		if _, err := tx.Exec(ctx, "UPDATE outbox SET processed_at = NOW() WHERE id = $1", entry.ID); err != nil {
			return count, fmt.Errorf("mark dead entry: %w", err)
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

// OutboxStats holds outbox counters.
type OutboxStats struct {
	Pending       int64
	Processed     int64
	Failed        int64
	OldestPending *time.Time
}

// GetStats returns current outbox statistics
func (o *Relay) GetStats(ctx context.Context) (*OutboxStats, error) {
	stats := &OutboxStats{}
	err := o.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE processed_at IS NOT NULL AND processed_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count >= $1),
			MIN(created_at) FILTER (WHERE processed_at IS NULL)
		FROM outbox
	`, o.config.MaxRetries).Scan(&stats.Pending, &stats.Processed, &stats.Failed, &stats.OldestPending)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return stats, nil
}

func (o *Relay) reportPending(ctx context.Context) {
	if o.OnPending == nil {
		return
	}
	stats, err := o.GetStats(ctx)
	if err != nil {
		o.logger.Warn("outbox stats unavailable", zap.Error(err))
		return
	}
	o.OnPending(stats.Pending)
	if stats.Failed > 0 {
		if moved, err := o.MoveToDeadLetter(ctx); err != nil {
			o.logger.Error("dead letter sweep failed", zap.Error(err))
		} else if moved > 0 {
			o.logger.Warn("outbox entries moved to dead letter", zap.Int64("count", moved))
		}
	}
}
