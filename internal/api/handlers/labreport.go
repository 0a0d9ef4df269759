package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/domain/labreport"
)

// LabReportHandler serves the lab comparison view and trend charts
type LabReportHandler struct {
	svc    *labreport.Service
	logger *zap.Logger
}

// NewLabReportHandler creates a new handler
func NewLabReportHandler(svc *labreport.Service, logger *zap.Logger) *LabReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabReportHandler{svc: svc, logger: logger}
}

// Routes returns routes mounted under /patients
func (h *LabReportHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}/lab-reports", h.View)
	r.Get("/{id}/lab-reports/trend", h.Trend)
	return r
}

// View handles GET /patients/{id}/lab-reports?visit=&compare=
func (h *LabReportHandler) View(w http.ResponseWriter, r *http.Request) {
	pid, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "id must be a uuid", http.StatusBadRequest)
		return
	}
	compare, _ := strconv.ParseBool(r.URL.Query().Get("compare"))

	view, err := h.svc.View(r.Context(), pid, r.URL.Query().Get("visit"), compare)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Trend handles GET /patients/{id}/lab-reports/trend?key=
func (h *LabReportHandler) Trend(w http.ResponseWriter, r *http.Request) {
	pid, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "id must be a uuid", http.StatusBadRequest)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		jsonError(w, "key is required", http.StatusBadRequest)
		return
	}

	html, err := h.svc.Trend(r.Context(), pid, key)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if html == "" {
		jsonError(w, "no numeric values for "+key, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(html))
}

func (h *LabReportHandler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, labreport.ErrNoReports), errors.Is(err, labreport.ErrVisitNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("lab report request failed", zap.Error(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
