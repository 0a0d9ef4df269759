// Package dispatch delivers signed prescriptions to the fulfilment webhook
// as FHIR bundles, once per PrescriptionSigned event.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/fhir/mapper"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
	"github.com/drfirst/go-clinic/pkg/idempotency"
	"github.com/drfirst/go-clinic/pkg/workerpool"
)

const handlerName = "rx.dispatch"

// Loader loads a prescription by id.
type Loader interface {
	Get(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
}

// Publisher publishes a record. Dispatch results are best effort.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Config holds dispatcher settings.
type Config struct {
	WebhookURL string
	Currency   string
	Timeout    time.Duration
}

// Result is the audit record published after each delivery.
type Result struct {
	EventID        string    `json:"event_id"`
	PrescriptionID string    `json:"prescription_id"`
	ConsultationID string    `json:"consultation_id"`
	Status         int       `json:"status"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// Dispatcher turns PrescriptionSigned events into webhook deliveries.
type Dispatcher struct {
	cfg       Config
	loader    Loader
	inbox     *idempotency.Inbox
	breaker   *circuitbreaker.CircuitBreaker
	http      *http.Client
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a dispatcher. publisher and m may be nil.
func New(cfg Config, loader Loader, inbox *idempotency.Inbox, breaker *circuitbreaker.CircuitBreaker, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:       cfg,
		loader:    loader,
		inbox:     inbox,
		breaker:   breaker,
		http:      &http.Client{Timeout: cfg.Timeout},
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("rx-dispatch"),
		now:       time.Now,
	}, nil
}

// Handle processes one consumed record. Events other than
// PrescriptionSigned are skipped. Errors marked permanent are wrapped with
// workerpool.ErrPermanent so the pool does not retry them.
func (d *Dispatcher) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var ev prescription.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return permanent(fmt.Errorf("decode event at %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err))
	}
	if ev.EventType != prescription.EventPrescriptionSigned {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "rx_dispatch",
		trace.WithAttributes(
			attribute.String("event_id", ev.ID),
			attribute.String("prescription_id", ev.AggregateID),
		))
	defer span.End()

	key := idempotency.GenerateKey(handlerName, ev.ID)
	res, err := d.inbox.Process(ctx, key, handlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		out, err := d.deliver(ctx, &ev)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	})
	switch {
	case err == nil:
		if !res.IsNew && !res.WasRecovered {
			d.logger.Debug("event already dispatched", zap.String("event_id", ev.ID))
		}
		return nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		d.logger.Warn("skipping previously failed event", zap.String("event_id", ev.ID))
		return nil
	case idempotency.IsTerminal(err):
		span.RecordError(err)
		return permanent(err)
	default:
		span.RecordError(err)
		return err
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev *prescription.Event) (*Result, error) {
	id, err := uuid.Parse(ev.AggregateID)
	if err != nil {
		return nil, idempotency.Terminal(fmt.Errorf("prescription id %q: %w", ev.AggregateID, err))
	}

	p, err := d.loader.Get(ctx, id)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			return nil, idempotency.Terminal(err)
		}
		return nil, fmt.Errorf("load prescription: %w", err)
	}

	bundle, err := mapper.ToBundle(p, mapper.Options{Currency: d.cfg.Currency})
	if err != nil {
		return nil, idempotency.Terminal(fmt.Errorf("map prescription: %w", err))
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return nil, idempotency.Terminal(err)
	}

	status, err := circuitbreaker.Do(ctx, d.breaker, func(ctx context.Context) (int, error) {
		return d.post(ctx, ev, body)
	})
	if err != nil {
		d.count(false)
		return nil, err
	}
	d.count(true)

	out := &Result{
		EventID:        ev.ID,
		PrescriptionID: p.ID.String(),
		ConsultationID: p.ConsultationID.String(),
		Status:         status,
		DeliveredAt:    d.now().UTC(),
	}
	d.publishResult(ctx, out)
	d.logger.Info("prescription dispatched",
		zap.String("prescription_id", out.PrescriptionID),
		zap.Int("status", status))
	return out, nil
}

// post sends the bundle. 4xx responses are terminal; they are returned
// through the breaker as terminal errors so they do not trip it.
func (d *Dispatcher) post(ctx context.Context, ev *prescription.Event, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, idempotency.Terminal(err)
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	req.Header.Set("Idempotency-Key", ev.ID)
	if ev.CorrelationID != "" {
		req.Header.Set("X-Request-ID", ev.CorrelationID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, snippet)
	case resp.StatusCode >= 400:
		return resp.StatusCode, idempotency.Terminal(fmt.Errorf("webhook rejected with %d: %s", resp.StatusCode, snippet))
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) publishResult(ctx context.Context, out *Result) {
	if d.publisher == nil {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := d.publisher.Publish(ctx, redpanda.TopicDispatchResults, out.ConsultationID, payload); err != nil {
		d.logger.Warn("dispatch result not published", zap.String("event_id", out.EventID), zap.Error(err))
	}
}

func (d *Dispatcher) count(ok bool) {
	if d.metrics == nil {
		return
	}
	if ok {
		d.metrics.DispatchDelivered.Inc()
	} else {
		d.metrics.DispatchFailed.Inc()
	}
}

// IsBreakerSuccess keeps terminal webhook rejections from tripping the
// breaker. It is meant for circuitbreaker.Config.IsSuccessful.
func IsBreakerSuccess(err error) bool {
	return err == nil || idempotency.IsTerminal(err) || errors.Is(err, context.Canceled)
}

func permanent(err error) error {
	return fmt.Errorf("%w: %w", workerpool.ErrPermanent, err)
}
