package r5

import (
	"encoding/json"
	"time"
)

// MedicationRequest represents a FHIR R5 MedicationRequest resource.
// One is produced per prescription line.
type MedicationRequest struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Meta         *Meta       `json:"meta,omitempty"`
	Extension    []Extension `json:"extension,omitempty"`

	Identifier []Identifier `json:"identifier,omitempty"`

	// Status of the prescription
	Status string `json:"status"` // active | on-hold | cancelled | completed | entered-in-error | stopped | draft | unknown

	// Intent of the request
	Intent string `json:"intent"`

	// Medication being requested (R5 uses CodeableReference)
	Medication CodeableReference `json:"medication"`

	// Subject (patient) for whom the medication is prescribed
	Subject Reference `json:"subject"`

	// Encounter during which request was created
	Encounter *Reference `json:"encounter,omitempty"`

	// Requests signed together share a group identifier
	GroupIdentifier *Identifier `json:"groupIdentifier,omitempty"`

	AuthoredOn time.Time  `json:"authoredOn"`
	Requester  *Reference `json:"requester,omitempty"`

	Note []Annotation `json:"note,omitempty"`

	// Rendered dosage instruction (human-readable sig)
	RenderedDosageInstruction string `json:"renderedDosageInstruction,omitempty"`

	DosageInstruction []Dosage         `json:"dosageInstruction,omitempty"`
	DispenseRequest   *DispenseRequest `json:"dispenseRequest,omitempty"`

	// Prior prescription being replaced
	PriorPrescription *Reference `json:"priorPrescription,omitempty"`
}

// DispenseRequest contains information about the requested dispensing.
type DispenseRequest struct {
	Quantity               *Quantity `json:"quantity,omitempty"`
	ExpectedSupplyDuration *Duration `json:"expectedSupplyDuration,omitempty"`
}

// Dosage contains dosage instructions for the medication.
type Dosage struct {
	Sequence           int              `json:"sequence,omitempty"`
	Text               string           `json:"text,omitempty"`
	PatientInstruction string           `json:"patientInstruction,omitempty"`
	Timing             *Timing          `json:"timing,omitempty"`
	AsNeeded           bool             `json:"asNeeded,omitempty"`
	Route              *CodeableConcept `json:"route,omitempty"`
	DoseAndRate        []DoseAndRate    `json:"doseAndRate,omitempty"`
}

// DoseAndRate contains dose/rate information.
type DoseAndRate struct {
	DoseQuantity *Quantity `json:"doseQuantity,omitempty"`
}

// Timing contains timing information for dosage.
type Timing struct {
	Repeat *TimingRepeat    `json:"repeat,omitempty"`
	Code   *CodeableConcept `json:"code,omitempty"`
}

// TimingRepeat contains repeat details for timing.
type TimingRepeat struct {
	BoundsDuration *Duration `json:"boundsDuration,omitempty"`
	Frequency      int       `json:"frequency,omitempty"`
	Period         float64   `json:"period,omitempty"`
	PeriodUnit     string    `json:"periodUnit,omitempty"`
	When           []string  `json:"when,omitempty"`
}

// GetPatientID extracts the patient ID from the Subject reference.
func (m *MedicationRequest) GetPatientID() string {
	if m.Subject.Reference != "" {
		return extractIDFromReference(m.Subject.Reference)
	}
	return ""
}

// GetMedicationDisplay returns the display name of the medication.
func (m *MedicationRequest) GetMedicationDisplay() string {
	if m.Medication.Concept != nil && m.Medication.Concept.Text != "" {
		return m.Medication.Concept.Text
	}
	if m.Medication.Concept != nil && len(m.Medication.Concept.Coding) > 0 {
		return m.Medication.Concept.Coding[0].Display
	}
	return ""
}

// GetQuantity returns the dispense quantity.
func (m *MedicationRequest) GetQuantity() (value float64, unit string) {
	if m.DispenseRequest == nil || m.DispenseRequest.Quantity == nil {
		return 0, ""
	}
	return m.DispenseRequest.Quantity.Value, m.DispenseRequest.Quantity.Unit
}

// GetSigText returns the rendered dosage instruction (sig).
func (m *MedicationRequest) GetSigText() string {
	if m.RenderedDosageInstruction != "" {
		return m.RenderedDosageInstruction
	}
	if len(m.DosageInstruction) > 0 && m.DosageInstruction[0].Text != "" {
		return m.DosageInstruction[0].Text
	}
	return ""
}

// ToJSON serializes the MedicationRequest to JSON.
func (m *MedicationRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// extractIDFromReference extracts the ID from a FHIR reference string.
func extractIDFromReference(ref string) string {
	// Handle references like "Patient/123" or "urn:uuid:123"
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' || ref[i] == ':' {
			return ref[i+1:]
		}
	}
	return ref
}
