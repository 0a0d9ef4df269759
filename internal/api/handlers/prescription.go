package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/middleware"
	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/events"
	"github.com/drfirst/go-clinic/internal/fhir/mapper"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
)

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	svc      *prescription.Service
	bus      *events.Bus
	metrics  *metrics.Metrics
	currency string
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPrescriptionHandler creates a new handler. Successful signs are
// published on bus as rx:signed.
func NewPrescriptionHandler(svc *prescription.Service, bus *events.Bus, m *metrics.Metrics, currency string, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		svc:      svc,
		bus:      bus,
		metrics:  m,
		currency: currency,
		logger:   logger,
		tracer:   otel.Tracer("prescription-handler"),
	}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/draft", h.LoadDraft)
	r.Get("/signed", h.LoadSigned)
	r.Get("/{id}/fhir", h.ExportFHIR)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleDoctor))
		r.Post("/draft", h.SaveDraft)
		r.Delete("/draft", h.DeleteDraft)
		r.Post("/revision", h.CreateRevision)
		r.Post("/sign", h.Sign)
	})
	return r
}

// SaveDraftRequest is the body of POST /rx/draft
type SaveDraftRequest struct {
	ConsultationID  uuid.UUID               `json:"consultationId"`
	PatientID       uuid.UUID               `json:"patientId"`
	NotesForPatient string                  `json:"notesForPatient"`
	Items           []prescription.LineItem `json:"items"`
}

// RevisionRequest is the body of POST /rx/revision
type RevisionRequest struct {
	ConsultationID uuid.UUID `json:"consultationId"`
}

// SignRequest is the body of POST /rx/sign
type SignRequest struct {
	PrescriptionID uuid.UUID `json:"prescriptionId"`
}

// SignResponse is returned by a successful sign
type SignResponse struct {
	OK             bool      `json:"ok"`
	ID             uuid.UUID `json:"id"`
	ConsultationID uuid.UUID `json:"consultation_id"`
	SignedAt       time.Time `json:"signed_at"`
}

// DeleteDraftResponse reports what the consultation resolves to after the
// draft is gone: "signed" or "" for none.
type DeleteDraftResponse struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

// LoadDraft handles GET /rx/draft?consultation_id=
func (h *PrescriptionHandler) LoadDraft(w http.ResponseWriter, r *http.Request) {
	cid, err := queryUUID(r, "consultation_id", "consultationId")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := h.svc.LoadDraft(r.Context(), cid)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// LoadSigned handles GET /rx/signed?consultation_id=
func (h *PrescriptionHandler) LoadSigned(w http.ResponseWriter, r *http.Request) {
	cid, err := queryUUID(r, "consultation_id", "consultationId")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := h.svc.LoadActiveSigned(r.Context(), cid)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SaveDraft handles POST /rx/draft
func (h *PrescriptionHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "save_draft")
	defer span.End()

	var req SaveDraftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("consultation_id", req.ConsultationID.String()))

	p, err := h.svc.SaveDraft(ctx, prescription.SaveDraftInput{
		ConsultationID:  req.ConsultationID,
		PatientID:       req.PatientID,
		NotesForPatient: req.NotesForPatient,
		Items:           req.Items,
	})
	if err != nil {
		if errors.Is(err, prescription.ErrDuplicateItem) {
			h.metrics.DuplicateItemsRejected.Inc()
		}
		h.writeErr(w, err)
		return
	}
	h.metrics.DraftsSaved.Inc()
	writeJSON(w, http.StatusOK, map[string]uuid.UUID{"id": p.ID})
}

// DeleteDraft handles DELETE /rx/draft?consultationId=
func (h *PrescriptionHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	cid, err := queryUUID(r, "consultationId", "consultation_id")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.svc.DeleteDraft(r.Context(), cid)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteDraftResponse{OK: true, State: prescription.StatusOf(res)})
}

// CreateRevision handles POST /rx/revision
func (h *PrescriptionHandler) CreateRevision(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_revision")
	defer span.End()

	var req RevisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := h.svc.CreateRevision(ctx, req.ConsultationID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.metrics.RevisionsCreated.Inc()
	writeJSON(w, http.StatusOK, p)
}

// Sign handles POST /rx/sign
func (h *PrescriptionHandler) Sign(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "sign_prescription")
	defer span.End()

	var req SignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PrescriptionID == uuid.Nil {
		jsonError(w, "prescriptionId is required", http.StatusBadRequest)
		return
	}
	principal, _ := middleware.GetPrincipal(ctx)
	span.SetAttributes(attribute.String("prescription_id", req.PrescriptionID.String()))

	p, err := h.svc.Sign(ctx, req.PrescriptionID, principal.UserID, middleware.GetRequestID(ctx))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.metrics.PrescriptionsSigned.Inc()

	h.logger.Info("prescription signed",
		zap.String("prescription_id", p.ID.String()),
		zap.String("consultation_id", p.ConsultationID.String()),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	if h.bus != nil {
		h.bus.Publish(events.Event{Topic: events.TopicRxSigned, ConsultationID: p.ConsultationID.String()})
	}

	writeJSON(w, http.StatusOK, SignResponse{
		OK:             true,
		ID:             p.ID,
		ConsultationID: p.ConsultationID,
		SignedAt:       *p.SignedAt,
	})
}

// ExportFHIR handles GET /rx/{id}/fhir
func (h *PrescriptionHandler) ExportFHIR(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "id must be a uuid", http.StatusBadRequest)
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	bundle, err := mapper.ToBundle(p, mapper.Options{Currency: h.currency})
	if err != nil {
		if errors.Is(err, mapper.ErrNotSigned) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("fhir mapping failed", zap.String("prescription_id", id.String()), zap.Error(err))
		jsonError(w, "failed to export prescription", http.StatusUnprocessableEntity)
		return
	}
	writeJSONAs(w, http.StatusOK, "application/fhir+json", bundle)
}

func (h *PrescriptionHandler) writeErr(w http.ResponseWriter, err error) {
	var ve *prescription.ValidationError
	switch {
	case errors.As(err, &ve):
		jsonError(w, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, prescription.ErrDraftNotFound),
		errors.Is(err, prescription.ErrNoSignedPrescription),
		errors.Is(err, prescription.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, prescription.ErrDuplicateItem),
		errors.Is(err, prescription.ErrNotDraft),
		errors.Is(err, prescription.ErrLocked),
		errors.Is(err, prescription.ErrDraftConflict):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, prescription.ErrEmptyDraft):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("prescription request failed", zap.Error(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
