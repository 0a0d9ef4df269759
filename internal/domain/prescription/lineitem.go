package prescription

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Route is the administration route of a line item.
type Route string

const (
	RoutePO      Route = "PO"
	RouteIM      Route = "IM"
	RouteIV      Route = "IV"
	RouteSC      Route = "SC"
	RouteTopical Route = "Topical"
	RouteInhale  Route = "Inhale"
)

// DoseUnit is the unit of a single dose.
type DoseUnit string

const (
	UnitTab  DoseUnit = "tab"
	UnitCap  DoseUnit = "cap"
	UnitML   DoseUnit = "mL"
	UnitPuff DoseUnit = "puff"
)

// Frequency is a dosing frequency code.
type Frequency string

const (
	FreqOD  Frequency = "OD"
	FreqBID Frequency = "BID"
	FreqTID Frequency = "TID"
	FreqQID Frequency = "QID"
	FreqHS  Frequency = "HS"
	FreqPRN Frequency = "PRN"
)

var dosesPerDay = map[Frequency]float64{
	FreqOD:  1,
	FreqBID: 2,
	FreqTID: 3,
	FreqQID: 4,
	FreqHS:  1,
	FreqPRN: 0,
}

var validRoutes = map[Route]bool{
	RoutePO: true, RouteIM: true, RouteIV: true, RouteSC: true, RouteTopical: true, RouteInhale: true,
}

var validUnits = map[DoseUnit]bool{
	UnitTab: true, UnitCap: true, UnitML: true, UnitPuff: true,
}

// DosesPerDay returns the fixed number of doses per day for the code.
// PRN and unknown codes return 0.
func (f Frequency) DosesPerDay() float64 { return dosesPerDay[f] }

// Valid reports whether f is a known frequency code.
func (f Frequency) Valid() bool {
	_, ok := dosesPerDay[f]
	return ok
}

// Valid reports whether r is a known route.
func (r Route) Valid() bool { return validRoutes[r] }

// Valid reports whether u is a known dose unit.
func (u DoseUnit) Valid() bool { return validUnits[u] }

// Catalog defaults applied to a freshly added line item.
const (
	DefaultRoute        = RoutePO
	DefaultDoseAmount   = 1.0
	DefaultDoseUnit     = UnitTab
	DefaultFrequency    = FreqBID
	DefaultDurationDays = 7
	DefaultQuantity     = 14
)

// LineItem is one medication line of a prescription.
type LineItem struct {
	MedicationID  *uuid.UUID `json:"medication_id"`
	GenericName   string     `json:"generic_name"`
	Strength      string     `json:"strength"`
	Form          string     `json:"form"`
	BrandName     *string    `json:"brand_name,omitempty"`
	Route         Route      `json:"route"`
	DoseAmount    *float64   `json:"dose_amount"`
	DoseUnit      DoseUnit   `json:"dose_unit"`
	FrequencyCode Frequency  `json:"frequency_code"`
	DurationDays  *int       `json:"duration_days"`
	Quantity      *int       `json:"quantity"`
	Instructions  string     `json:"instructions"`
	UnitPrice     *float64   `json:"unit_price"`
}

// NewLineItem returns a line item pre-filled with the catalog defaults.
func NewLineItem(generic, strength, form string) LineItem {
	dose := DefaultDoseAmount
	days := DefaultDurationDays
	qty := DefaultQuantity
	return LineItem{
		GenericName:   strings.TrimSpace(generic),
		Strength:      strings.TrimSpace(strength),
		Form:          strings.TrimSpace(form),
		Route:         DefaultRoute,
		DoseAmount:    &dose,
		DoseUnit:      DefaultDoseUnit,
		FrequencyCode: DefaultFrequency,
		DurationDays:  &days,
		Quantity:      &qty,
	}
}

// ParseCustom parses the "generic, strength, form" shorthand used for
// free-text entries. Strength and form may be omitted.
func ParseCustom(text string) (LineItem, error) {
	parts := strings.Split(text, ",")
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	generic := strings.TrimSpace(parts[0])
	if generic == "" {
		return LineItem{}, &ValidationError{Field: "generic_name", Message: "generic name is required"}
	}
	return NewLineItem(generic, parts[1], strings.Join(parts[2:], ",")), nil
}

// ItemKey identifies a line item for duplicate detection.
type ItemKey struct {
	Generic  string
	Strength string
	Form     string
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s %s %s", k.Generic, k.Strength, k.Form)
}

// Key returns the duplicate-detection key of the item. The generic name is
// compared case-insensitively, strength and form exactly.
func (li LineItem) Key() ItemKey {
	return ItemKey{
		Generic:  strings.ToLower(strings.TrimSpace(li.GenericName)),
		Strength: strings.TrimSpace(li.Strength),
		Form:     strings.TrimSpace(li.Form),
	}
}

// ContainsKey reports whether any item in items has the given key.
func ContainsKey(items []LineItem, key ItemKey) bool {
	for _, it := range items {
		if it.Key() == key {
			return true
		}
	}
	return false
}

// FindDuplicate returns the first key that occurs more than once.
func FindDuplicate(items []LineItem) (ItemKey, bool) {
	seen := make(map[ItemKey]struct{}, len(items))
	for _, it := range items {
		k := it.Key()
		if _, ok := seen[k]; ok {
			return k, true
		}
		seen[k] = struct{}{}
	}
	return ItemKey{}, false
}

// CalcSuggestedQty computes round(dose * doses_per_day * days), clamped at
// zero. It returns nil when an input is missing or the frequency has no
// fixed daily count (PRN).
func CalcSuggestedQty(dose *float64, freq Frequency, days *int) *int {
	if dose == nil || days == nil {
		return nil
	}
	perDay := freq.DosesPerDay()
	if perDay == 0 {
		return nil
	}
	q := math.Round(*dose * perDay * float64(*days))
	if q < 0 {
		q = 0
	}
	n := int(q)
	return &n
}

// SuggestedQty is CalcSuggestedQty applied to the item's own fields.
func (li LineItem) SuggestedQty() *int {
	return CalcSuggestedQty(li.DoseAmount, li.FrequencyCode, li.DurationDays)
}

// Subtotal returns unit_price * quantity when both are present.
func (li LineItem) Subtotal() (float64, bool) {
	if li.UnitPrice == nil || li.Quantity == nil {
		return 0, false
	}
	return *li.UnitPrice * float64(*li.Quantity), true
}

// Subtotal sums the line subtotals. Lines missing a price or quantity
// contribute zero.
func Subtotal(items []LineItem) float64 {
	var total float64
	for _, it := range items {
		if v, ok := it.Subtotal(); ok {
			total += v
		}
	}
	return total
}

// Validate checks a single line item.
func (li LineItem) Validate() error {
	if strings.TrimSpace(li.GenericName) == "" {
		return &ValidationError{Field: "generic_name", Message: "generic name is required"}
	}
	if li.Route != "" && !li.Route.Valid() {
		return &ValidationError{Field: "route", Message: fmt.Sprintf("unknown route %q", li.Route)}
	}
	if li.DoseUnit != "" && !li.DoseUnit.Valid() {
		return &ValidationError{Field: "dose_unit", Message: fmt.Sprintf("unknown dose unit %q", li.DoseUnit)}
	}
	if li.FrequencyCode != "" && !li.FrequencyCode.Valid() {
		return &ValidationError{Field: "frequency_code", Message: fmt.Sprintf("unknown frequency %q", li.FrequencyCode)}
	}
	if li.DoseAmount != nil && *li.DoseAmount <= 0 {
		return &ValidationError{Field: "dose_amount", Message: "dose amount must be positive"}
	}
	if li.DurationDays != nil && *li.DurationDays < 0 {
		return &ValidationError{Field: "duration_days", Message: "duration cannot be negative"}
	}
	if li.Quantity != nil && *li.Quantity < 0 {
		return &ValidationError{Field: "quantity", Message: "quantity cannot be negative"}
	}
	if li.UnitPrice != nil && *li.UnitPrice < 0 {
		return &ValidationError{Field: "unit_price", Message: "unit price cannot be negative"}
	}
	return nil
}

// ValidateItems validates every item and rejects duplicate keys.
func ValidateItems(items []LineItem) error {
	for i, it := range items {
		if err := it.Validate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Field = fmt.Sprintf("items[%d].%s", i, ve.Field)
			}
			return err
		}
	}
	if k, dup := FindDuplicate(items); dup {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, k)
	}
	return nil
}
