package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/domain/consultation"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
)

// ConsultationHandler serves the finalize preview and finalize calls
type ConsultationHandler struct {
	svc     *consultation.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConsultationHandler creates a new handler
func NewConsultationHandler(svc *consultation.Service, m *metrics.Metrics, logger *zap.Logger) *ConsultationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultationHandler{svc: svc, metrics: m, logger: logger}
}

// Routes returns the consultation routes
func (h *ConsultationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/preview", h.Preview)
	r.With(middleware.RequireRole(middleware.RoleDoctor)).Post("/finalize", h.Finalize)
	return r
}

// Preview handles GET /consultations/preview?consultation_id=
func (h *ConsultationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := queryUUID(r, "consultation_id")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := h.svc.Preview(r.Context(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Finalize handles POST /consultations/finalize
func (h *ConsultationHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var in consultation.FinalizeInput
	if err := decodeJSON(w, r, &in); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.svc.Finalize(r.Context(), in, middleware.GetRequestID(r.Context()))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if !res.Replayed {
		h.metrics.ConsultationsFinalized.Inc()
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ConsultationHandler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consultation.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, consultation.ErrNoEncounter):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case consultation.IsConflict(err):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("consultation request failed", zap.Error(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
