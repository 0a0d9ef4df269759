package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SaveDraftInput is the content of a draft save.
type SaveDraftInput struct {
	ConsultationID  uuid.UUID
	PatientID       uuid.UUID
	NotesForPatient string
	Items           []LineItem
}

// Service implements the server side of the draft/sign/revision lifecycle.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a prescription service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SaveDraft writes the consultation's single draft, creating it on first
// save. A draft created while a signed record exists is a revision of it.
func (s *Service) SaveDraft(ctx context.Context, in SaveDraftInput) (*Prescription, error) {
	if in.ConsultationID == uuid.Nil {
		return nil, &ValidationError{Field: "consultationId", Message: "consultation id is required"}
	}

	draft, err := s.repo.GetDraft(ctx, in.ConsultationID)
	switch {
	case errors.Is(err, ErrDraftNotFound):
		if in.PatientID == uuid.Nil {
			return nil, &ValidationError{Field: "patientId", Message: "patient id is required"}
		}
		draft = NewDraft(in.ConsultationID, in.PatientID)
		signed, err := s.repo.GetActiveSigned(ctx, in.ConsultationID)
		if err == nil {
			src := signed.ID
			draft.RevisionOf = &src
		} else if !errors.Is(err, ErrNoSignedPrescription) {
			return nil, fmt.Errorf("load signed: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load draft: %w", err)
	}

	if err := draft.ReplaceContent(in.Items, in.NotesForPatient); err != nil {
		return nil, err
	}
	if err := s.repo.SaveDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}

	s.logger.Debug("draft saved",
		zap.String("prescription_id", draft.ID.String()),
		zap.String("consultation_id", draft.ConsultationID.String()),
		zap.Int("item_count", len(draft.Items)))
	return draft, nil
}

// LoadDraft returns the consultation's draft or ErrDraftNotFound.
func (s *Service) LoadDraft(ctx context.Context, consultationID uuid.UUID) (*Prescription, error) {
	return s.repo.GetDraft(ctx, consultationID)
}

// LoadActiveSigned returns the signed record or ErrNoSignedPrescription.
func (s *Service) LoadActiveSigned(ctx context.Context, consultationID uuid.UUID) (*Prescription, error) {
	return s.repo.GetActiveSigned(ctx, consultationID)
}

// Get returns a prescription by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

// Resolve reports the consultation's prescription state. A draft wins over
// a signed record because it is the one editable going forward.
func (s *Service) Resolve(ctx context.Context, consultationID uuid.UUID) (Resolution, error) {
	signed, err := s.repo.GetActiveSigned(ctx, consultationID)
	if err != nil && !errors.Is(err, ErrNoSignedPrescription) {
		return nil, fmt.Errorf("load signed: %w", err)
	}

	draft, err := s.repo.GetDraft(ctx, consultationID)
	switch {
	case err == nil:
		return DraftFound{Draft: draft, Signed: signed}, nil
	case !errors.Is(err, ErrDraftNotFound):
		return nil, fmt.Errorf("load draft: %w", err)
	case signed != nil:
		return SignedFound{Signed: signed}, nil
	default:
		return NoPrescription{}, nil
	}
}

// DeleteDraft removes the draft and returns the state left behind.
func (s *Service) DeleteDraft(ctx context.Context, consultationID uuid.UUID) (Resolution, error) {
	deleted, err := s.repo.DeleteDraft(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrDraftNotFound
	}
	s.logger.Info("draft deleted", zap.String("consultation_id", consultationID.String()))
	return s.Resolve(ctx, consultationID)
}

// CreateRevision returns the existing draft if there is one, otherwise a new
// draft copied from the active signed record.
func (s *Service) CreateRevision(ctx context.Context, consultationID uuid.UUID) (*Prescription, error) {
	draft, err := s.repo.GetDraft(ctx, consultationID)
	if err == nil {
		return draft, nil
	}
	if !errors.Is(err, ErrDraftNotFound) {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	signed, err := s.repo.GetActiveSigned(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	rev, err := NewRevision(signed)
	if err != nil {
		return nil, err
	}

	ev, err := NewEvent(rev, EventRevisionCreated, RevisionData{
		PrescriptionID: rev.ID.String(),
		ConsultationID: rev.ConsultationID.String(),
		RevisionOf:     signed.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}
	if err := s.repo.CreateRevision(ctx, rev, ev); err != nil {
		return nil, fmt.Errorf("create revision: %w", err)
	}

	s.logger.Info("revision created",
		zap.String("prescription_id", rev.ID.String()),
		zap.String("revision_of", signed.ID.String()))
	return rev, nil
}

// Sign signs a saved draft. The previously signed record of the
// consultation, if any, becomes superseded.
func (s *Service) Sign(ctx context.Context, prescriptionID, signer uuid.UUID, correlationID string) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	var superseded *uuid.UUID
	prev, err := s.repo.GetActiveSigned(ctx, p.ConsultationID)
	switch {
	case err == nil && prev.ID != p.ID:
		id := prev.ID
		superseded = &id
	case err != nil && !errors.Is(err, ErrNoSignedPrescription):
		return nil, fmt.Errorf("load signed: %w", err)
	}

	if err := p.Sign(signer, s.now()); err != nil {
		return nil, err
	}

	ev, err := NewEvent(p, EventPrescriptionSigned, SignedData{
		PrescriptionID: p.ID.String(),
		ConsultationID: p.ConsultationID.String(),
		PatientID:      p.PatientID.String(),
		SignedBy:       signer.String(),
		SignedAt:       *p.SignedAt,
		ItemCount:      len(p.Items),
		Subtotal:       p.Subtotal(),
		RevisionOf:     p.RevisionOf,
		Superseded:     superseded,
	})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}
	ev.WithCorrelation(correlationID)

	if err := s.repo.Sign(ctx, p, ev); err != nil {
		return nil, err
	}
	return p, nil
}
