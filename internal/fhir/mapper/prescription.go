// Package mapper turns prescriptions into FHIR R5 MedicationRequest bundles.
package mapper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/drfirst/go-clinic/internal/domain/prescription"
	fhir "github.com/drfirst/go-clinic/internal/fhir/r5"
)

// ErrNotSigned is returned when exporting a draft.
var ErrNotSigned = errors.New("only signed prescriptions can be exported")

// MapError represents a mapping error with context
type MapError struct {
	Field   string
	Message string
}

func (e *MapError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Options carry context the prescription itself does not hold.
type Options struct {
	EncounterID *uuid.UUID
	Currency    string
}

var routeCodes = map[prescription.Route]fhir.Coding{
	prescription.RoutePO:      {System: fhir.SystemSNOMED, Code: "26643006", Display: "Oral route"},
	prescription.RouteIM:      {System: fhir.SystemSNOMED, Code: "78421000", Display: "Intramuscular route"},
	prescription.RouteIV:      {System: fhir.SystemSNOMED, Code: "47625008", Display: "Intravenous route"},
	prescription.RouteSC:      {System: fhir.SystemSNOMED, Code: "34206005", Display: "Subcutaneous route"},
	prescription.RouteTopical: {System: fhir.SystemSNOMED, Code: "6064005", Display: "Topical route"},
	prescription.RouteInhale:  {System: fhir.SystemSNOMED, Code: "447694001", Display: "Respiratory tract route"},
}

// ToBundle maps a signed prescription to a collection bundle holding one
// MedicationRequest per line, in line order. Request ids are derived from
// the prescription id so repeated exports are stable.
func ToBundle(p *prescription.Prescription, opt Options) (*fhir.Bundle, error) {
	if p == nil {
		return nil, &MapError{Field: "Prescription", Message: "prescription is required"}
	}
	if p.Status == prescription.StatusDraft || p.SignedAt == nil {
		return nil, ErrNotSigned
	}
	if len(p.Items) == 0 {
		return nil, &MapError{Field: "Items", Message: "prescription has no line items"}
	}

	b := fhir.NewCollection(p.ID.String(), *p.SignedAt)
	b.Identifier = &fhir.Identifier{System: fhir.SystemPrescription, Value: p.ID.String()}
	for i, it := range p.Items {
		mr, err := toMedicationRequest(p, i, it, opt)
		if err != nil {
			return nil, err
		}
		b.Add("urn:uuid:"+mr.ID, mr)
	}
	return b, nil
}

func toMedicationRequest(p *prescription.Prescription, idx int, it prescription.LineItem, opt Options) (*fhir.MedicationRequest, error) {
	if strings.TrimSpace(it.GenericName) == "" {
		return nil, &MapError{Field: fmt.Sprintf("Items[%d].GenericName", idx), Message: "generic name is required"}
	}

	id := uuid.NewSHA1(p.ID, []byte(strconv.Itoa(idx)))
	mr := &fhir.MedicationRequest{
		ResourceType: "MedicationRequest",
		ID:           id.String(),
		Identifier: []fhir.Identifier{{
			Use:    "official",
			System: fhir.SystemPrescription,
			Value:  fmt.Sprintf("%s#%d", p.ID, idx+1),
		}},
		Status:          status(p.Status),
		Intent:          fhir.IntentOrder,
		Medication:      fhir.CodeableReference{Concept: medicationConcept(it)},
		Subject:         fhir.Reference{Reference: "Patient/" + p.PatientID.String(), Type: "Patient"},
		GroupIdentifier: &fhir.Identifier{System: fhir.SystemPrescription, Value: p.ID.String()},
		AuthoredOn:      *p.SignedAt,
	}
	if opt.EncounterID != nil {
		mr.Encounter = &fhir.Reference{Reference: "Encounter/" + opt.EncounterID.String(), Type: "Encounter"}
	}
	if p.SignedBy != nil {
		mr.Requester = &fhir.Reference{Reference: "Practitioner/" + p.SignedBy.String(), Type: "Practitioner"}
	}
	if p.RevisionOf != nil {
		mr.PriorPrescription = &fhir.Reference{
			Identifier: &fhir.Identifier{System: fhir.SystemPrescription, Value: p.RevisionOf.String()},
		}
	}
	if notes := strings.TrimSpace(p.NotesForPatient); notes != "" {
		mr.Note = []fhir.Annotation{{Text: notes}}
	}
	if it.BrandName != nil && *it.BrandName != "" {
		mr.Extension = append(mr.Extension, fhir.Extension{URL: fhir.ExtensionBrandName, ValueString: *it.BrandName})
	}
	if it.UnitPrice != nil {
		mr.Extension = append(mr.Extension, fhir.Extension{
			URL:        fhir.ExtensionUnitPrice,
			ValueMoney: &fhir.Money{Value: *it.UnitPrice, Currency: opt.Currency},
		})
	}

	dosage := dosage(it)
	mr.DosageInstruction = []fhir.Dosage{dosage}
	mr.RenderedDosageInstruction = dosage.Text

	if it.Quantity != nil || it.DurationDays != nil {
		mr.DispenseRequest = &fhir.DispenseRequest{}
		if it.Quantity != nil {
			mr.DispenseRequest.Quantity = &fhir.Quantity{Value: float64(*it.Quantity), Unit: string(it.DoseUnit)}
		}
		if it.DurationDays != nil {
			mr.DispenseRequest.ExpectedSupplyDuration = days(*it.DurationDays)
		}
	}
	return mr, nil
}

func medicationConcept(it prescription.LineItem) *fhir.CodeableConcept {
	text := strings.Join(nonEmpty(it.GenericName, it.Strength, it.Form), " ")
	c := &fhir.CodeableConcept{Text: text}
	if it.MedicationID != nil {
		c.Coding = []fhir.Coding{{System: fhir.SystemMedication, Code: it.MedicationID.String(), Display: text}}
	}
	return c
}

func dosage(it prescription.LineItem) fhir.Dosage {
	d := fhir.Dosage{
		Sequence:           1,
		Text:               Sig(it),
		PatientInstruction: strings.TrimSpace(it.Instructions),
	}
	if c, ok := routeCodes[it.Route]; ok {
		d.Route = &fhir.CodeableConcept{Coding: []fhir.Coding{c}, Text: string(it.Route)}
	}
	if it.DoseAmount != nil {
		d.DoseAndRate = []fhir.DoseAndRate{{
			DoseQuantity: &fhir.Quantity{Value: *it.DoseAmount, Unit: string(it.DoseUnit)},
		}}
	}

	if it.FrequencyCode == prescription.FreqPRN {
		d.AsNeeded = true
	}
	if it.FrequencyCode != "" {
		t := &fhir.Timing{
			Code: &fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: fhir.SystemTimingAbbrev, Code: string(it.FrequencyCode)}},
			},
		}
		if n := int(it.FrequencyCode.DosesPerDay()); n > 0 {
			t.Repeat = &fhir.TimingRepeat{Frequency: n, Period: 1, PeriodUnit: "d"}
			if it.FrequencyCode == prescription.FreqHS {
				t.Repeat.When = []string{"HS"}
			}
			if it.DurationDays != nil {
				t.Repeat.BoundsDuration = days(*it.DurationDays)
			}
		}
		d.Timing = t
	}
	return d
}

// Sig renders the human-readable dosing line, e.g. "1 tab PO BID x 7 days".
func Sig(it prescription.LineItem) string {
	var parts []string
	if it.DoseAmount != nil {
		parts = append(parts, strings.TrimSpace(strconv.FormatFloat(*it.DoseAmount, 'f', -1, 64)+" "+string(it.DoseUnit)))
	}
	parts = append(parts, nonEmpty(string(it.Route), string(it.FrequencyCode))...)
	if it.DurationDays != nil && *it.DurationDays > 0 {
		unit := "days"
		if *it.DurationDays == 1 {
			unit = "day"
		}
		parts = append(parts, fmt.Sprintf("x %d %s", *it.DurationDays, unit))
	}
	return strings.Join(parts, " ")
}

func days(n int) *fhir.Duration {
	return &fhir.Duration{Value: float64(n), Unit: "days", System: fhir.SystemUCUM, Code: "d"}
}

func status(s prescription.Status) string {
	switch s {
	case prescription.StatusSigned:
		return fhir.StatusActive
	case prescription.StatusSuperseded:
		return fhir.StatusStopped
	default:
		return fhir.StatusDraft
	}
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
