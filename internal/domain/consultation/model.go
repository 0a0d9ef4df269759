// Package consultation previews and finalizes consultations.
package consultation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("consultation not found")
	ErrNoEncounter       = errors.New("consultation has no linked encounter")
	ErrEncounterMismatch = errors.New("encounter is not linked to this consultation")
	ErrDraftPending      = errors.New("a prescription draft is pending; sign or delete it first")
	ErrConsentRequired   = errors.New("consent is required to finish without a prescription")
)

// Status of a consultation.
type Status string

const (
	StatusOpen     Status = "open"
	StatusFinished Status = "finished"
)

// Consultation is a doctor-patient consultation.
type Consultation struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	Type        string     `json:"type"`
	Status      Status     `json:"status"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// FollowUpStatus is the state of a scheduled follow-up.
type FollowUpStatus string

const (
	FollowUpScheduled FollowUpStatus = "scheduled"
	FollowUpCompleted FollowUpStatus = "completed"
	FollowUpCanceled  FollowUpStatus = "canceled"
	FollowUpSkipped   FollowUpStatus = "skipped"
)

// FollowUp is a follow-up visit scheduled from a consultation.
type FollowUp struct {
	ID             uuid.UUID      `json:"id"`
	ConsultationID uuid.UUID      `json:"consultation_id"`
	PatientID      uuid.UUID      `json:"patient_id"`
	DueDate        time.Time      `json:"due_date"`
	Status         FollowUpStatus `json:"status"`
}

// Preview is the state a finalize control needs.
type Preview struct {
	Consultation      PreviewConsultation  `json:"consultation"`
	Encounter         *PreviewEncounter    `json:"encounter"`
	Prescription      *PreviewPrescription `json:"prescription"`
	FollowUpAvailable bool                 `json:"follow_up_available"`
	ConsentRecorded   bool                 `json:"consent_recorded"`
}

// PreviewConsultation is the consultation part of a preview.
type PreviewConsultation struct {
	ID     uuid.UUID `json:"id"`
	Type   string    `json:"type"`
	Status Status    `json:"status"`
}

// PreviewEncounter is the linked encounter.
type PreviewEncounter struct {
	ID uuid.UUID `json:"id"`
}

// PreviewPrescription carries "draft" or "signed"; the whole object is nil
// when the consultation has no prescription.
type PreviewPrescription struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// FinalizeInput is the finalize request.
type FinalizeInput struct {
	ConsultationID uuid.UUID `json:"consultation_id"`
	EncounterID    uuid.UUID `json:"encounter_id"`
}

// FinalizeResult is returned by Finalize and replayed for repeated calls.
type FinalizeResult struct {
	OK               bool      `json:"ok"`
	ConsultationID   uuid.UUID `json:"consultation_id"`
	FinalizedAt      time.Time `json:"finalized_at"`
	WithPrescription bool      `json:"with_prescription"`
	Replayed         bool      `json:"replayed,omitempty"`
}
