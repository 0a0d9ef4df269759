// Package prescription implements the prescription draft/sign/revision lifecycle.
package prescription

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents prescription status
type Status string

const (
	StatusDraft      Status = "draft"
	StatusSigned     Status = "signed"
	StatusSuperseded Status = "superseded"
)

var (
	ErrNotFound             = errors.New("prescription not found")
	ErrDraftNotFound        = errors.New("no draft prescription for consultation")
	ErrNoSignedPrescription = errors.New("no signed prescription for consultation")
	ErrNotDraft             = errors.New("prescription is not a draft")
	ErrEmptyDraft           = errors.New("draft has no line items")
	ErrDuplicateItem        = errors.New("duplicate line item")
	ErrLocked               = errors.New("prescription is signed and locked")
	ErrDraftConflict        = errors.New("another draft was saved concurrently")
)

// ValidationError reports an invalid field in a prescription payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Prescription is a draft, signed or superseded prescription for one
// consultation. At most one draft and one signed record exist per
// consultation at a time.
type Prescription struct {
	ID              uuid.UUID  `json:"id"`
	ConsultationID  uuid.UUID  `json:"consultation_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	Status          Status     `json:"status"`
	NotesForPatient string     `json:"notes_for_patient"`
	Items           []LineItem `json:"items"`
	RevisionOf      *uuid.UUID `json:"revision_of,omitempty"`
	SignedAt        *time.Time `json:"signed_at,omitempty"`
	SignedBy        *uuid.UUID `json:"signed_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewDraft creates an empty draft for a consultation.
func NewDraft(consultationID, patientID uuid.UUID) *Prescription {
	now := time.Now().UTC()
	return &Prescription{
		ID:             uuid.New(),
		ConsultationID: consultationID,
		PatientID:      patientID,
		Status:         StatusDraft,
		Items:          []LineItem{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewRevision duplicates a signed prescription into a fresh draft scoped to
// the same consultation.
func NewRevision(signed *Prescription) (*Prescription, error) {
	if signed.Status != StatusSigned {
		return nil, fmt.Errorf("revise %s: %w", signed.ID, ErrNoSignedPrescription)
	}
	draft := NewDraft(signed.ConsultationID, signed.PatientID)
	draft.NotesForPatient = signed.NotesForPatient
	draft.Items = append([]LineItem(nil), signed.Items...)
	src := signed.ID
	draft.RevisionOf = &src
	return draft, nil
}

// IsDraft reports whether the prescription is still editable.
func (p *Prescription) IsDraft() bool { return p.Status == StatusDraft }

// ReplaceContent swaps the items and instructions of a draft.
func (p *Prescription) ReplaceContent(items []LineItem, notes string) error {
	if !p.IsDraft() {
		return ErrLocked
	}
	if err := ValidateItems(items); err != nil {
		return err
	}
	if items == nil {
		items = []LineItem{}
	}
	p.Items = items
	p.NotesForPatient = notes
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Sign transitions a draft to signed.
func (p *Prescription) Sign(signer uuid.UUID, at time.Time) error {
	if !p.IsDraft() {
		return ErrNotDraft
	}
	if len(p.Items) == 0 {
		return ErrEmptyDraft
	}
	if k, dup := FindDuplicate(p.Items); dup {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, k)
	}
	at = at.UTC()
	p.Status = StatusSigned
	p.SignedAt = &at
	p.SignedBy = &signer
	p.UpdatedAt = at
	return nil
}

// Subtotal is the price subtotal of all lines.
func (p *Prescription) Subtotal() float64 { return Subtotal(p.Items) }

// Resolution is the prescription state of a consultation, resolved once per
// load: NoPrescription, DraftFound or SignedFound.
type Resolution interface {
	resolution()
}

// NoPrescription means neither a draft nor a signed record exists.
type NoPrescription struct{}

// DraftFound carries the editable draft. A signed record may coexist.
type DraftFound struct {
	Draft  *Prescription
	Signed *Prescription
}

// SignedFound carries the active signed record; no draft exists.
type SignedFound struct {
	Signed *Prescription
}

func (NoPrescription) resolution() {}
func (DraftFound) resolution()     {}
func (SignedFound) resolution()    {}

// StatusOf names a resolution the way the preview endpoint reports it.
func StatusOf(r Resolution) string {
	switch r.(type) {
	case DraftFound:
		return string(StatusDraft)
	case SignedFound:
		return string(StatusSigned)
	default:
		return ""
	}
}
