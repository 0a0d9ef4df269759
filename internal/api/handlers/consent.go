package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/domain/consent"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
)

// ConsentHandler handles consent records and stored doctor signatures
type ConsentHandler struct {
	svc     *consent.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewConsentHandler creates a new handler
func NewConsentHandler(svc *consent.Service, m *metrics.Metrics, logger *zap.Logger) *ConsentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsentHandler{svc: svc, metrics: m, logger: logger, tracer: otel.Tracer("consent-handler")}
}

// Routes returns the consent routes
func (h *ConsentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/exists", h.Exists)
	r.With(middleware.RequireRole(middleware.RoleDoctor)).Post("/", h.Create)
	return r
}

// DoctorRoutes returns the routes under /doctors
func (h *ConsentHandler) DoctorRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequireRole(middleware.RoleDoctor)).Put("/me/signature", h.StoreSignature)
	return r
}

// CreateConsentResponse is returned by a successful create
type CreateConsentResponse struct {
	OK bool      `json:"ok"`
	ID uuid.UUID `json:"id"`
}

// StoreSignatureRequest is the body of PUT /doctors/me/signature
type StoreSignatureRequest struct {
	SignatureDataURL string `json:"signature_data_url"`
}

// Create handles POST /consents
func (h *ConsentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_consent")
	defer span.End()

	var in consent.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("consultation_id", in.ConsultationID.String()),
		attribute.String("encounter_id", in.EncounterID.String()),
	)

	principal, _ := middleware.GetPrincipal(ctx)
	rec, err := h.svc.Record(ctx, principal.UserID, in)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.metrics.ConsentsRecorded.Inc()
	writeJSON(w, http.StatusCreated, CreateConsentResponse{OK: true, ID: rec.ID})
}

// Exists handles GET /consents/exists?encounter_id=[&consultation_id=]
func (h *ConsentHandler) Exists(w http.ResponseWriter, r *http.Request) {
	eid, err := queryUUID(r, "encounter_id")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var exists bool
	if r.URL.Query().Get("consultation_id") != "" {
		cid, perr := queryUUID(r, "consultation_id")
		if perr != nil {
			jsonError(w, perr.Error(), http.StatusBadRequest)
			return
		}
		exists, err = h.svc.Exists(r.Context(), cid, eid)
	} else {
		exists, err = h.svc.ExistsForEncounter(r.Context(), eid)
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// StoreSignature handles PUT /doctors/me/signature
func (h *ConsentHandler) StoreSignature(w http.ResponseWriter, r *http.Request) {
	var req StoreSignatureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	principal, _ := middleware.GetPrincipal(r.Context())
	if err := h.svc.StoreDoctorSignature(r.Context(), principal.UserID, req.SignatureDataURL); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *ConsentHandler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consent.ErrIncomplete), errors.Is(err, consent.ErrInvalidSignature):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, consent.ErrAlreadyRecorded):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, consent.ErrNoStoredSignature):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("consent request failed", zap.Error(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
