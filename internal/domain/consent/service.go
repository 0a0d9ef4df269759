package consent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service validates and records consent.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a consent service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Record validates a submission as a whole and stores it. Nothing is
// persisted unless every part is valid.
func (s *Service) Record(ctx context.Context, doctorID uuid.UUID, in CreateInput) (*Record, error) {
	if in.ConsultationID == uuid.Nil || in.EncounterID == uuid.Nil || in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: consultation, encounter and patient ids are required", ErrIncomplete)
	}
	if in.SignerKind == "" {
		in.SignerKind = SignerPatient
	}
	if !in.Requirements().Satisfied() {
		return nil, ErrIncomplete
	}

	rec := &Record{
		ID:              uuid.New(),
		ConsultationID:  in.ConsultationID,
		EncounterID:     in.EncounterID,
		PatientID:       in.PatientID,
		DoctorID:        doctorID,
		TemplateSlug:    in.TemplateSlug,
		TemplateVersion: in.TemplateVersion,
		DoctorAttest:    in.DoctorAttest,
		PatientMethod:   in.PatientMethod,
		SignerKind:      in.SignerKind,
	}
	if in.SignerKind != SignerPatient {
		rec.SignerName = in.SignerName
		rec.SignerRelation = in.SignerRelation
	}

	if in.UseStoredDoctorSignature {
		sig, err := s.repo.GetDoctorSignature(ctx, doctorID)
		if err != nil {
			return nil, err
		}
		rec.DoctorSignatureSource = SourceStored
		rec.DoctorSignaturePNG = sig
	} else {
		sig, err := DecodePNGDataURL(in.DoctorSignatureDataURL)
		if err != nil {
			return nil, fmt.Errorf("doctor signature: %w", err)
		}
		rec.DoctorSignatureSource = SourceDrawn
		rec.DoctorSignaturePNG = sig
	}

	if in.PatientMethod == MethodDrawn {
		sig, err := DecodePNGDataURL(in.PatientSignatureDataURL)
		if err != nil {
			return nil, fmt.Errorf("patient signature: %w", err)
		}
		rec.PatientSignaturePNG = sig
	} else {
		rec.PatientTypedName = in.PatientTypedName
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("consent recorded",
		zap.String("consent_id", rec.ID.String()),
		zap.String("consultation_id", rec.ConsultationID.String()),
		zap.String("encounter_id", rec.EncounterID.String()),
		zap.String("signer_kind", string(rec.SignerKind)))
	return rec, nil
}

// ExistsForEncounter reports whether any consent covers the encounter.
func (s *Service) ExistsForEncounter(ctx context.Context, encounterID uuid.UUID) (bool, error) {
	return s.repo.ExistsForEncounter(ctx, encounterID)
}

// Exists reports whether the consultation has consent for the encounter.
func (s *Service) Exists(ctx context.Context, consultationID, encounterID uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, consultationID, encounterID)
}

// StoreDoctorSignature keeps a signature on file for later consents.
func (s *Service) StoreDoctorSignature(ctx context.Context, doctorID uuid.UUID, dataURL string) error {
	sig, err := DecodePNGDataURL(dataURL)
	if err != nil {
		return err
	}
	return s.repo.SaveDoctorSignature(ctx, doctorID, sig)
}
