// Package catalog provides medication catalog search.
package catalog

import (
	"github.com/google/uuid"

	"github.com/drfirst/go-clinic/internal/domain/prescription"
)

// Medication is a catalog entry.
type Medication struct {
	ID          uuid.UUID `json:"id"`
	GenericName string    `json:"generic_name"`
	Strength    string    `json:"strength"`
	Form        string    `json:"form"`
	BrandName   *string   `json:"brand_name,omitempty"`
	UnitPrice   *float64  `json:"unit_price,omitempty"`
}

// LineItem returns a prescription line pre-filled with the catalog
// defaults and this entry's unit price.
func (m Medication) LineItem() prescription.LineItem {
	li := prescription.NewLineItem(m.GenericName, m.Strength, m.Form)
	id := m.ID
	li.MedicationID = &id
	li.BrandName = m.BrandName
	li.UnitPrice = m.UnitPrice
	return li
}
