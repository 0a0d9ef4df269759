package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGStore keeps inbox entries in the inbox table.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore creates a PostgreSQL store.
func NewPGStore(pool *pgxpool.Pool, logger *zap.Logger) *PGStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGStore{pool: pool, logger: logger}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) Get(ctx context.Context, key string) (*Entry, error) {
	entry := &Entry{}
	err := s.pool.QueryRow(ctx, `
		SELECT idempotency_key, handler_name, status, payload, result, created_at, updated_at, expires_at
		FROM inbox
		WHERE idempotency_key = $1`, key).Scan(
		&entry.IdempotencyKey, &entry.HandlerName, &entry.Status,
		&entry.Payload, &entry.Result, &entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PGStore) Start(ctx context.Context, key, handlerName string, payload json.RawMessage, expiresAt time.Time) error {
	var returned string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key`,
		key, handlerName, StatusStarted, payload, expiresAt).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateMessage
	}
	return err
}

func (s *PGStore) Mark(ctx context.Context, key string, status Status, result json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, result = COALESCE($2, result), updated_at = NOW()
		WHERE idempotency_key = $3`, status, result, key)
	return err
}

// Cleanup removes expired entries.
func (s *PGStore) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM inbox WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RunCleanup deletes expired entries every interval until ctx is done.
func (s *PGStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Cleanup(ctx)
			if err != nil {
				s.logger.Error("inbox cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("inbox cleanup completed", zap.Int64("deleted", n))
			}
		}
	}
}

// InboxStats holds inbox counters.
type InboxStats struct {
	TotalEntries int64
	Started      int64
	Finished     int64
	Recoverable  int64
	Failed       int64
}

// Stats returns current inbox statistics
func (s *PGStore) Stats(ctx context.Context) (*InboxStats, error) {
	stats := &InboxStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'STARTED'),
			COUNT(*) FILTER (WHERE status = 'FINISHED'),
			COUNT(*) FILTER (WHERE status = 'RECOVERABLE'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM inbox`).Scan(
		&stats.TotalEntries, &stats.Started, &stats.Finished,
		&stats.Recoverable, &stats.Failed,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
