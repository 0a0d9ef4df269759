// Package consent records consultation consent and doctors' stored signatures.
package consent

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrIncomplete        = errors.New("consent is incomplete")
	ErrAlreadyRecorded   = errors.New("consent already recorded for this encounter")
	ErrNoStoredSignature = errors.New("doctor has no stored signature")
	ErrInvalidSignature  = errors.New("signature must be a PNG data URL")
)

// SignerKind is who signs on the patient side.
type SignerKind string

const (
	SignerPatient        SignerKind = "patient"
	SignerGuardian       SignerKind = "guardian"
	SignerRepresentative SignerKind = "representative"
)

// Valid reports whether k is a known signer kind.
func (k SignerKind) Valid() bool {
	switch k {
	case SignerPatient, SignerGuardian, SignerRepresentative:
		return true
	}
	return false
}

// PatientMethod is how the patient side consents.
type PatientMethod string

const (
	MethodDrawn PatientMethod = "drawn"
	MethodTyped PatientMethod = "typed"
)

// DoctorSignatureSource records where the doctor signature came from.
type DoctorSignatureSource string

const (
	SourceStored DoctorSignatureSource = "stored"
	SourceDrawn  DoctorSignatureSource = "drawn"
)

// Requirements is the completeness rule shared by the capture flow and the
// server. The HasInk fields mean "a usable signature exists".
type Requirements struct {
	DoctorAttest     bool
	UseStored        bool
	DoctorHasInk     bool
	Method           PatientMethod
	PatientHasInk    bool
	PatientTypedName string
	Signer           SignerKind
	SignerName       string
	SignerRelation   string
}

// Satisfied reports whether a consent with these inputs may be submitted.
func (r Requirements) Satisfied() bool {
	if !r.DoctorAttest {
		return false
	}
	if !r.UseStored && !r.DoctorHasInk {
		return false
	}
	switch r.Method {
	case MethodTyped:
		if strings.TrimSpace(r.PatientTypedName) == "" {
			return false
		}
	case MethodDrawn:
		if !r.PatientHasInk {
			return false
		}
	default:
		return false
	}
	if r.Signer == SignerPatient {
		return true
	}
	return r.Signer.Valid() &&
		strings.TrimSpace(r.SignerName) != "" &&
		strings.TrimSpace(r.SignerRelation) != ""
}

// CreateInput is the consent submission payload.
type CreateInput struct {
	ConsultationID           uuid.UUID     `json:"consultation_id"`
	EncounterID              uuid.UUID     `json:"encounter_id"`
	PatientID                uuid.UUID     `json:"patient_id"`
	TemplateSlug             string        `json:"template_slug"`
	TemplateVersion          int           `json:"template_version"`
	DoctorAttest             bool          `json:"doctor_attest"`
	UseStoredDoctorSignature bool          `json:"use_stored_doctor_signature"`
	PatientMethod            PatientMethod `json:"patient_method"`
	SignerKind               SignerKind    `json:"signer_kind"`
	SignerName               string        `json:"signer_name,omitempty"`
	SignerRelation           string        `json:"signer_relation,omitempty"`
	DoctorSignatureDataURL   string        `json:"doctor_signature_data_url,omitempty"`
	PatientSignatureDataURL  string        `json:"patient_signature_data_url,omitempty"`
	PatientTypedName         string        `json:"patient_typed_name,omitempty"`
}

// Requirements derives the completeness inputs from the payload.
func (in CreateInput) Requirements() Requirements {
	return Requirements{
		DoctorAttest:     in.DoctorAttest,
		UseStored:        in.UseStoredDoctorSignature,
		DoctorHasInk:     in.DoctorSignatureDataURL != "",
		Method:           in.PatientMethod,
		PatientHasInk:    in.PatientSignatureDataURL != "",
		PatientTypedName: in.PatientTypedName,
		Signer:           in.SignerKind,
		SignerName:       in.SignerName,
		SignerRelation:   in.SignerRelation,
	}
}

// Record is a stored consent. Records are append-only.
type Record struct {
	ID                    uuid.UUID             `json:"id"`
	ConsultationID        uuid.UUID             `json:"consultation_id"`
	EncounterID           uuid.UUID             `json:"encounter_id"`
	PatientID             uuid.UUID             `json:"patient_id"`
	DoctorID              uuid.UUID             `json:"doctor_id"`
	TemplateSlug          string                `json:"template_slug"`
	TemplateVersion       int                   `json:"template_version"`
	DoctorAttest          bool                  `json:"doctor_attest"`
	DoctorSignatureSource DoctorSignatureSource `json:"doctor_signature_source"`
	DoctorSignaturePNG    []byte                `json:"-"`
	PatientMethod         PatientMethod         `json:"patient_method"`
	PatientSignaturePNG   []byte                `json:"-"`
	PatientTypedName      string                `json:"patient_typed_name,omitempty"`
	SignerKind            SignerKind            `json:"signer_kind"`
	SignerName            string                `json:"signer_name,omitempty"`
	SignerRelation        string                `json:"signer_relation,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
}
