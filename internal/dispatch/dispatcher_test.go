package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
	"github.com/drfirst/go-clinic/pkg/idempotency"
	"github.com/drfirst/go-clinic/pkg/workerpool"
)

type loaderFunc func(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)

func (f loaderFunc) Get(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	return f(ctx, id)
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, topic)
	return nil
}

type webhook struct {
	server *httptest.Server
	status atomic.Int32
	posts  atomic.Int32

	mu          sync.Mutex
	lastHeaders http.Header
	lastBody    []byte
}

func newWebhook(t *testing.T) *webhook {
	t.Helper()
	w := &webhook{}
	w.status.Store(http.StatusAccepted)
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.mu.Lock()
		w.lastHeaders = r.Header.Clone()
		w.lastBody = body
		w.mu.Unlock()
		w.posts.Add(1)
		rw.WriteHeader(int(w.status.Load()))
	}))
	t.Cleanup(w.server.Close)
	return w
}

func signedRx(t *testing.T) *prescription.Prescription {
	t.Helper()
	p := prescription.NewDraft(uuid.New(), uuid.New())
	price := 0.5
	item := prescription.NewLineItem("Amoxicillin", "500 mg", "capsule")
	item.UnitPrice = &price
	p.Items = []prescription.LineItem{item}
	require.NoError(t, p.Sign(uuid.New(), time.Now()))
	return p
}

func signedMessage(t *testing.T, p *prescription.Prescription) *redpanda.ConsumedMessage {
	t.Helper()
	ev, err := prescription.NewEvent(p, prescription.EventPrescriptionSigned, prescription.SignedData{
		PrescriptionID: p.ID.String(),
		ConsultationID: p.ConsultationID.String(),
	})
	require.NoError(t, err)
	ev.WithCorrelation("req-42")
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	return &redpanda.ConsumedMessage{
		Topic: redpanda.TopicPrescriptionEvents,
		Key:   []byte(p.ConsultationID.String()),
		Value: value,
	}
}

func newDispatcher(t *testing.T, url string, p *prescription.Prescription, pub Publisher, m *metrics.Metrics) *Dispatcher {
	t.Helper()
	cfg := circuitbreaker.DefaultConfig("test-webhook")
	cfg.IsSuccessful = IsBreakerSuccess
	cb, err := circuitbreaker.New(cfg, nil)
	require.NoError(t, err)

	loader := loaderFunc(func(_ context.Context, id uuid.UUID) (*prescription.Prescription, error) {
		if id != p.ID {
			return nil, prescription.ErrNotFound
		}
		return p, nil
	})
	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.DefaultInboxConfig(), nil)
	d, err := New(Config{WebhookURL: url, Currency: "USD", Timeout: time.Second}, loader, inbox, cb, pub, m, nil)
	require.NoError(t, err)
	return d
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, c.Write(&pb))
	return pb.GetCounter().GetValue()
}

func TestHandle_DeliversBundleOnce(t *testing.T) {
	hook := newWebhook(t)
	p := signedRx(t)
	pub := &recordingPublisher{}
	m := metrics.New(nil)
	d := newDispatcher(t, hook.server.URL, p, pub, m)
	msg := signedMessage(t, p)
	ctx := context.Background()

	require.NoError(t, d.Handle(ctx, msg))
	require.NoError(t, d.Handle(ctx, msg))

	assert.Equal(t, int32(1), hook.posts.Load())
	hook.mu.Lock()
	defer hook.mu.Unlock()
	assert.Equal(t, "application/fhir+json", hook.lastHeaders.Get("Content-Type"))
	assert.NotEmpty(t, hook.lastHeaders.Get("Idempotency-Key"))
	assert.Equal(t, "req-42", hook.lastHeaders.Get("X-Request-ID"))

	var bundle struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
		Entry        []any  `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(hook.lastBody, &bundle))
	assert.Equal(t, "Bundle", bundle.ResourceType)
	assert.Equal(t, p.ID.String(), bundle.ID)
	assert.Len(t, bundle.Entry, 1)

	assert.Equal(t, []string{redpanda.TopicDispatchResults}, pub.records)
	assert.Equal(t, 1.0, counterValue(t, m.DispatchDelivered))
}

func TestHandle_SkipsOtherEvents(t *testing.T) {
	hook := newWebhook(t)
	p := signedRx(t)
	d := newDispatcher(t, hook.server.URL, p, nil, nil)

	ev, err := prescription.NewEvent(p, prescription.EventRevisionCreated, prescription.RevisionData{})
	require.NoError(t, err)
	value, err := json.Marshal(ev)
	require.NoError(t, err)

	require.NoError(t, d.Handle(context.Background(), &redpanda.ConsumedMessage{Value: value}))
	assert.Zero(t, hook.posts.Load())
}

func TestHandle_MalformedRecordIsPermanent(t *testing.T) {
	hook := newWebhook(t)
	d := newDispatcher(t, hook.server.URL, signedRx(t), nil, nil)

	err := d.Handle(context.Background(), &redpanda.ConsumedMessage{Value: []byte("{not json")})
	assert.ErrorIs(t, err, workerpool.ErrPermanent)
}

func TestHandle_RejectionIsPermanentAndNotRetried(t *testing.T) {
	hook := newWebhook(t)
	hook.status.Store(http.StatusUnprocessableEntity)
	p := signedRx(t)
	m := metrics.New(nil)
	d := newDispatcher(t, hook.server.URL, p, nil, m)
	msg := signedMessage(t, p)
	ctx := context.Background()

	err := d.Handle(ctx, msg)
	assert.ErrorIs(t, err, workerpool.ErrPermanent)
	assert.True(t, idempotency.IsTerminal(err))

	require.NoError(t, d.Handle(ctx, msg))
	assert.Equal(t, int32(1), hook.posts.Load())
	assert.Equal(t, 1.0, counterValue(t, m.DispatchFailed))
}

func TestHandle_ServerErrorIsRetryable(t *testing.T) {
	hook := newWebhook(t)
	hook.status.Store(http.StatusBadGateway)
	p := signedRx(t)
	d := newDispatcher(t, hook.server.URL, p, nil, nil)
	msg := signedMessage(t, p)
	ctx := context.Background()

	err := d.Handle(ctx, msg)
	require.Error(t, err)
	assert.False(t, errors.Is(err, workerpool.ErrPermanent))

	hook.status.Store(http.StatusOK)
	require.NoError(t, d.Handle(ctx, msg))
	assert.Equal(t, int32(2), hook.posts.Load())
}

func TestHandle_UnknownPrescriptionIsPermanent(t *testing.T) {
	hook := newWebhook(t)
	d := newDispatcher(t, hook.server.URL, signedRx(t), nil, nil)

	err := d.Handle(context.Background(), signedMessage(t, signedRx(t)))
	assert.ErrorIs(t, err, workerpool.ErrPermanent)
	assert.Zero(t, hook.posts.Load())
}

func TestIsBreakerSuccess(t *testing.T) {
	assert.True(t, IsBreakerSuccess(nil))
	assert.True(t, IsBreakerSuccess(idempotency.Terminal(errors.New("422"))))
	assert.True(t, IsBreakerSuccess(context.Canceled))
	assert.False(t, IsBreakerSuccess(errors.New("502")))
}

func TestNew_RequiresWebhook(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
