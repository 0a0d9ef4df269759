package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/pkg/idempotency"
)

const finalizeHandler = "consultation.finalize"

// PrescriptionResolver resolves a consultation's prescription state.
type PrescriptionResolver interface {
	Resolve(ctx context.Context, consultationID uuid.UUID) (prescription.Resolution, error)
}

// ConsentChecker reports whether consent exists for a consultation encounter.
type ConsentChecker interface {
	Exists(ctx context.Context, consultationID, encounterID uuid.UUID) (bool, error)
}

// Service answers previews and finalizes consultations.
type Service struct {
	repo    Repository
	rx      PrescriptionResolver
	consent ConsentChecker
	inbox   *idempotency.Inbox
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a consultation service. Finalize calls are
// deduplicated through inbox.
func NewService(repo Repository, rx PrescriptionResolver, consent ConsentChecker, inbox *idempotency.Inbox, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		rx:      rx,
		consent: consent,
		inbox:   inbox,
		logger:  logger,
		tracer:  otel.Tracer("consultation"),
		now:     time.Now,
	}
}

// Preview returns the consultation, its encounter and prescription state.
func (s *Service) Preview(ctx context.Context, id uuid.UUID) (*Preview, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		Consultation: PreviewConsultation{ID: c.ID, Type: c.Type, Status: c.Status},
	}
	if c.EncounterID != nil {
		p.Encounter = &PreviewEncounter{ID: *c.EncounterID}
		if p.ConsentRecorded, err = s.consent.Exists(ctx, c.ID, *c.EncounterID); err != nil {
			return nil, fmt.Errorf("check consent: %w", err)
		}
	}

	res, err := s.rx.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve prescription: %w", err)
	}
	switch r := res.(type) {
	case prescription.DraftFound:
		p.Prescription = &PreviewPrescription{ID: r.Draft.ID, Status: prescription.StatusOf(r)}
	case prescription.SignedFound:
		p.Prescription = &PreviewPrescription{ID: r.Signed.ID, Status: prescription.StatusOf(r)}
	}

	if p.FollowUpAvailable, err = s.repo.HasScheduledFollowUp(ctx, id); err != nil {
		return nil, fmt.Errorf("check follow-ups: %w", err)
	}
	return p, nil
}

// Finalize finishes a consultation. A pending draft blocks it; without a
// signed prescription a consent record is required. Repeating a successful
// call returns the stored result.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput, correlationID string) (*FinalizeResult, error) {
	ctx, span := s.tracer.Start(ctx, "consultation.finalize",
		trace.WithAttributes(
			attribute.String("consultation_id", in.ConsultationID.String()),
			attribute.String("encounter_id", in.EncounterID.String()),
		))
	defer span.End()

	if in.ConsultationID == uuid.Nil || in.EncounterID == uuid.Nil {
		return nil, ErrNoEncounter
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	key := idempotency.GenerateKey(finalizeHandler, in.ConsultationID.String(), in.EncounterID.String())

	res, err := s.inbox.Process(ctx, key, finalizeHandler, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		result, err := s.finalize(ctx, in, correlationID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var out FinalizeResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		return nil, fmt.Errorf("decode finalize result: %w", err)
	}
	out.Replayed = !res.IsNew && !res.WasRecovered
	return &out, nil
}

func (s *Service) finalize(ctx context.Context, in FinalizeInput, correlationID string) (*FinalizeResult, error) {
	c, err := s.repo.Get(ctx, in.ConsultationID)
	if err != nil {
		return nil, err
	}
	if c.EncounterID == nil {
		return nil, ErrNoEncounter
	}
	if *c.EncounterID != in.EncounterID {
		return nil, ErrEncounterMismatch
	}

	res, err := s.rx.Resolve(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve prescription: %w", err)
	}

	withRx := false
	switch res.(type) {
	case prescription.DraftFound:
		return nil, ErrDraftPending
	case prescription.SignedFound:
		withRx = true
	default:
		ok, err := s.consent.Exists(ctx, c.ID, in.EncounterID)
		if err != nil {
			return nil, fmt.Errorf("check consent: %w", err)
		}
		if !ok {
			return nil, ErrConsentRequired
		}
	}

	ev := &FinalizedEvent{
		ID:               uuid.NewString(),
		EventType:        EventFinalized,
		ConsultationID:   c.ID,
		EncounterID:      in.EncounterID,
		PatientID:        c.PatientID,
		WithPrescription: withRx,
		CorrelationID:    correlationID,
	}
	at, err := s.repo.MarkFinished(ctx, c.ID, s.now(), ev)
	if err != nil {
		return nil, err
	}

	s.logger.Info("consultation finalized",
		zap.String("consultation_id", c.ID.String()),
		zap.String("encounter_id", in.EncounterID.String()),
		zap.Bool("with_prescription", withRx))

	return &FinalizeResult{
		OK:               true,
		ConsultationID:   c.ID,
		FinalizedAt:      at,
		WithPrescription: withRx,
	}, nil
}

// IsConflict reports whether err is a finalize precondition failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDraftPending) ||
		errors.Is(err, ErrConsentRequired) ||
		errors.Is(err, ErrEncounterMismatch) ||
		errors.Is(err, idempotency.ErrMessageInProgress)
}
