// Package r5 holds the FHIR R5 structures used to export prescriptions.
package r5

import "time"

// Meta contains metadata about a resource.
type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Source      string    `json:"source,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Use    string `json:"use,omitempty"` // usual | official | temp | secondary | old
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding represents a code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference represents a reference to another resource.
type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

// CodeableReference is new in FHIR R5 - can be either a CodeableConcept or a Reference.
type CodeableReference struct {
	Concept   *CodeableConcept `json:"concept,omitempty"`
	Reference *Reference       `json:"reference,omitempty"`
}

// Quantity represents a measured amount.
type Quantity struct {
	Value  float64 `json:"value,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// Duration is a Quantity with a temporal unit.
type Duration struct {
	Value  float64 `json:"value,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// Money is an amount in a currency.
type Money struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
}

// Annotation represents a note or comment.
type Annotation struct {
	AuthorReference *Reference `json:"authorReference,omitempty"`
	Time            *time.Time `json:"time,omitempty"`
	Text            string     `json:"text"`
}

// Extension represents a FHIR extension.
type Extension struct {
	URL         string  `json:"url"`
	ValueString string  `json:"valueString,omitempty"`
	ValueMoney  *Money  `json:"valueMoney,omitempty"`
	ValueCoding *Coding `json:"valueCoding,omitempty"`
}

// OperationOutcome represents errors and warnings from FHIR operations.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// OperationOutcomeIssue represents a single issue in an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string `json:"severity"` // fatal | error | warning | information
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// NewErrorOutcome creates an OperationOutcome with a single error issue.
func NewErrorOutcome(code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{{
			Severity:    "error",
			Code:        code,
			Diagnostics: diagnostics,
		}},
	}
}

// Code systems
const (
	SystemSNOMED       = "http://snomed.info/sct"
	SystemUCUM         = "http://unitsofmeasure.org"
	SystemTimingAbbrev = "http://terminology.hl7.org/CodeSystem/v3-GTSAbbreviation"
	SystemPrescription = "urn:clinic:prescription"
	SystemMedication   = "urn:clinic:medication"
	ExtensionUnitPrice = "urn:clinic:fhir:unit-price"
	ExtensionBrandName = "urn:clinic:fhir:brand-name"
)

// Medication request statuses
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusStopped   = "stopped"
	StatusDraft     = "draft"
)

// Medication request intents
const (
	IntentProposal = "proposal"
	IntentOrder    = "order"
)
