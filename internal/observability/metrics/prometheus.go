// Package metrics provides Prometheus metrics for the clinic services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	DraftsSaved            prometheus.Counter
	PrescriptionsSigned    prometheus.Counter
	RevisionsCreated       prometheus.Counter
	DuplicateItemsRejected prometheus.Counter
	ConsentsRecorded       prometheus.Counter
	ConsultationsFinalized prometheus.Counter
	DispatchDelivered      prometheus.Counter
	DispatchFailed         prometheus.Counter
	HTTPDuration           *prometheus.HistogramVec
	OutboxPending          prometheus.Gauge
	RealtimeClients        prometheus.Gauge
	CircuitBreakerState    *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them on reg. A nil reg uses a
// fresh private registry, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		DraftsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_rx_drafts_saved_total",
			Help: "Total prescription draft saves",
		}),
		PrescriptionsSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_rx_signed_total",
			Help: "Total prescriptions signed",
		}),
		RevisionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_rx_revisions_created_total",
			Help: "Total revisions created from signed prescriptions",
		}),
		DuplicateItemsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_rx_duplicate_items_rejected_total",
			Help: "Draft saves rejected for duplicate line items",
		}),
		ConsentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_consents_recorded_total",
			Help: "Total consent records created",
		}),
		ConsultationsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_consultations_finalized_total",
			Help: "Total consultations finalized",
		}),
		DispatchDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_rx_dispatch_delivered_total",
			Help: "Signed prescriptions delivered to the fulfilment webhook",
		}),
		DispatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_rx_dispatch_failed_total",
			Help: "Failed fulfilment webhook deliveries",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clinic_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		RealtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clinic_realtime_clients",
			Help: "Connected websocket clients",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinic_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.DraftsSaved,
		m.PrescriptionsSigned,
		m.RevisionsCreated,
		m.DuplicateItemsRejected,
		m.ConsentsRecorded,
		m.ConsultationsFinalized,
		m.DispatchDelivered,
		m.DispatchFailed,
		m.HTTPDuration,
		m.OutboxPending,
		m.RealtimeClients,
		m.CircuitBreakerState,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
