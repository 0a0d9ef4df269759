// Package idempotency provides the Inbox pattern for exactly-once processing.
// Keys are deterministic hashes of the operation's identifying parts.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status represents the processing status of an inbox entry
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// Entry represents an idempotency inbox record
type Entry struct {
	IdempotencyKey string
	HandlerName    string
	Status         Status
	Payload        json.RawMessage
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
}

var (
	// ErrNotFound is returned by a Store for unknown keys.
	ErrNotFound = errors.New("inbox entry not found")
	// ErrDuplicateMessage indicates the key was claimed concurrently.
	ErrDuplicateMessage = errors.New("duplicate message: already processed")
	// ErrMessageInProgress indicates another handler holds the key.
	ErrMessageInProgress = errors.New("message in progress by another handler")
	// ErrPreviouslyFailed indicates the key failed terminally before.
	ErrPreviouslyFailed = errors.New("message previously failed permanently")
)

// Store persists inbox entries.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	// Start inserts a STARTED entry, or flips a RECOVERABLE one back to
	// STARTED. Any other existing entry yields ErrDuplicateMessage.
	Start(ctx context.Context, key, handlerName string, payload json.RawMessage, expiresAt time.Time) error
	Mark(ctx context.Context, key string, status Status, result json.RawMessage) error
}

// InboxConfig holds configuration for the inbox
type InboxConfig struct {
	// DefaultTTL is the default time-to-live for inbox entries
	DefaultTTL time.Duration
	// CleanupInterval is how often to clean expired entries
	CleanupInterval time.Duration
	// RecoveryTimeout is when to consider a STARTED entry as stale
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig returns sensible defaults
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL:      7 * 24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// Inbox runs handlers at most once per idempotency key.
type Inbox struct {
	store  Store
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewInbox creates a new inbox manager
func NewInbox(store Store, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		store:  store,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		now:    time.Now,
	}
}

// ProcessResult represents the result of idempotent processing
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// ProcessFunc is the function signature for idempotent handlers
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Process runs fn unless key already finished, in which case the stored
// result is returned. A failing fn leaves the key RECOVERABLE so a later
// call may retry it, unless the error is marked with Terminal.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	entry, err := i.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &ProcessResult{IsNew: false, Result: entry.Result}, nil

		case StatusFailed:
			span.SetAttributes(attribute.Bool("previously_failed", true))
			return nil, fmt.Errorf("%w: %s", ErrPreviouslyFailed, key)

		case StatusStarted:
			if i.now().Sub(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrMessageInProgress
			}
			if err := i.store.Mark(ctx, key, StatusRecoverable, nil); err != nil {
				return nil, fmt.Errorf("mark recoverable: %w", err)
			}
			entry.Status = StatusRecoverable

		case StatusRecoverable:
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.store.Start(ctx, key, handlerName, payload, i.now().Add(i.config.DefaultTTL)); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			return nil, err
		}
		return nil, fmt.Errorf("start processing: %w", err)
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		if IsTerminal(handlerErr) {
			status = StatusFailed
		}
		errResult, _ := json.Marshal(map[string]string{"error": handlerErr.Error()})
		if err := i.store.Mark(ctx, key, status, errResult); err != nil {
			i.logger.Error("failed to mark error status", zap.String("idempotency_key", key), zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	if err := i.store.Mark(ctx, key, StatusFinished, result); err != nil {
		// the handler succeeded; a replay will run it again
		i.logger.Error("failed to mark finished", zap.String("idempotency_key", key), zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        entry == nil,
		WasRecovered: entry != nil && entry.Status == StatusRecoverable,
		Result:       result,
	}, nil
}

// GenerateKey hashes the parts into a deterministic key.
func GenerateKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t terminalError
	return errors.As(err, &t)
}
