// Package circuitbreaker wraps sony/gobreaker with OpenTelemetry spans and
// counters for calls to services outside the clinic: the API as seen from
// the workflow client, and the pharmacy fulfilment webhook.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrOpen is returned without calling the protected function while the
// breaker is open or probing in half-open state.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Gauge maps a state to the value exported on the state gauge.
func (s State) Gauge() float64 {
	switch s {
	case StateOpen:
		return 2
	case StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Config holds circuit breaker configuration
type Config struct {
	Name string
	// MaxRequests is max requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts in closed state
	Interval time.Duration
	// Timeout is how long to wait before transitioning from open to half-open
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker while fewer than MinRequests were seen
	FailureThreshold uint32
	// FailureRatio opens the breaker once MinRequests were seen
	FailureRatio float64
	MinRequests  uint32
	// IsSuccessful decides which errors count against the breaker. Errors it
	// accepts are still returned to the caller. Nil counts every error.
	IsSuccessful func(err error) bool
	// OnStateChange is called after every transition.
	OnStateChange func(name string, to State)
}

// DefaultConfig returns defaults for outbound HTTP calls.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker with observability
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	requestCounter  metric.Int64Counter
	failureCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter

	stateMu      sync.RWMutex
	currentState State
	notify       func(string, State)
}

// New creates a new circuit breaker
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{
		name:         cfg.Name,
		logger:       logger,
		tracer:       otel.Tracer("circuit-breaker"),
		currentState: StateClosed,
		notify:       cfg.OnStateChange,
	}

	meter := otel.Meter("circuit-breaker")
	var err error
	cb.requestCounter, err = meter.Int64Counter("circuit_breaker_requests_total",
		metric.WithDescription("Total requests through circuit breaker"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	cb.failureCounter, err = meter.Int64Counter("circuit_breaker_failures_total",
		metric.WithDescription("Total failed requests"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}
	cb.rejectedCounter, err = meter.Int64Counter("circuit_breaker_rejected_total",
		metric.WithDescription("Total requests rejected due to open circuit"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rejected counter: %w", err)
	}

	isSuccessful := cfg.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = func(err error) bool { return err == nil }
	}

	cb.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			cb.onStateChange(from, to)
		},
		IsSuccessful: isSuccessful,
	})
	return cb, nil
}

// Execute runs fn through the breaker. While open, ErrOpen is returned and
// fn is not called.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", c.name),
			attribute.String("state", string(c.GetState())),
		))
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("name", c.name))
	c.requestCounter.Add(ctx, 1, attrs)

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.rejectedCounter.Add(ctx, 1, attrs)
		span.SetAttributes(attribute.Bool("circuit_open", true))
		return fmt.Errorf("%s: %w", c.name, ErrOpen)
	}
	c.failureCounter.Add(ctx, 1, attrs)
	span.RecordError(err)
	return err
}

// Do is Execute for functions that return a value.
func Do[T any](ctx context.Context, c *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := c.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// GetState returns the current circuit breaker state
func (c *CircuitBreaker) GetState() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.currentState
}

// Name returns the breaker name.
func (c *CircuitBreaker) Name() string { return c.name }

func (c *CircuitBreaker) onStateChange(from, to gobreaker.State) {
	fromState := mapState(from)
	toState := mapState(to)

	c.stateMu.Lock()
	c.currentState = toState
	c.stateMu.Unlock()

	c.logger.Warn("circuit breaker state changed",
		zap.String("breaker", c.name),
		zap.String("from", string(fromState)),
		zap.String("to", string(toState)))
	if c.notify != nil {
		c.notify(c.name, toState)
	}
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// IsOpen returns true if the circuit is open
func (c *CircuitBreaker) IsOpen() bool {
	return c.GetState() == StateOpen
}

// Counts returns the current counts from the circuit breaker
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// HealthStatus is the breaker state reported by readiness endpoints.
type HealthStatus struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
	Healthy  bool   `json:"healthy"`
}

// Health reports the breaker's current state and counts.
func (c *CircuitBreaker) Health() HealthStatus {
	counts := c.Counts()
	state := c.GetState()
	return HealthStatus{
		Name:     c.name,
		State:    state,
		Requests: counts.Requests,
		Failures: counts.TotalFailures,
		Healthy:  state == StateClosed,
	}
}
