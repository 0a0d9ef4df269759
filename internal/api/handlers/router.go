package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/api/realtime"
	"github.com/drfirst/go-clinic/internal/domain/catalog"
	"github.com/drfirst/go-clinic/internal/domain/consent"
	"github.com/drfirst/go-clinic/internal/domain/consultation"
	"github.com/drfirst/go-clinic/internal/domain/labreport"
	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/events"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
)

// Deps are the services the router exposes.
type Deps struct {
	ServiceName   string
	Prescriptions *prescription.Service
	Consents      *consent.Service
	Consultations *consultation.Service
	Catalog       *catalog.Service
	LabReports    *labreport.Service
	Bus           *events.Bus
	Hub           *realtime.Hub
	Metrics       *metrics.Metrics
	SessionSecret []byte
	CORSOrigin    string
	Currency      string
	// Ready reports whether backing stores are reachable.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// NewRouter builds the clinic API.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.ServiceName == "" {
		d.ServiceName = "clinic-api"
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(d.CORSOrigin))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.Tracing(d.ServiceName))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": d.ServiceName})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				jsonError(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", d.Metrics.Handler())

	consents := NewConsentHandler(d.Consents, d.Metrics, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SessionAuth(d.SessionSecret))
		r.Use(middleware.Logger(logger))

		r.Mount("/rx", NewPrescriptionHandler(d.Prescriptions, d.Bus, d.Metrics, d.Currency, logger).Routes())
		r.Mount("/consents", consents.Routes())
		r.Mount("/doctors", consents.DoctorRoutes())
		r.Mount("/consultations", NewConsultationHandler(d.Consultations, d.Metrics, logger).Routes())
		r.Mount("/medications", NewCatalogHandler(d.Catalog, logger).Routes())
		r.Mount("/patients", NewLabReportHandler(d.LabReports, logger).Routes())
		if d.Hub != nil {
			r.Method(http.MethodGet, "/events/ws", realtime.NewHandler(d.Hub, d.CORSOrigin, logger))
		}
	})

	return r
}
