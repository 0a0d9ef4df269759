package prescription

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func TestCalcSuggestedQty(t *testing.T) {
	tests := []struct {
		name string
		dose *float64
		freq Frequency
		days *int
		want *int
	}{
		{"bid one week", ptrF(1), FreqBID, ptrI(7), ptrI(14)},
		{"tid half tab", ptrF(0.5), FreqTID, ptrI(5), ptrI(8)},
		{"qid", ptrF(2), FreqQID, ptrI(3), ptrI(24)},
		{"hs counts once", ptrF(1), FreqHS, ptrI(10), ptrI(10)},
		{"prn is unavailable", ptrF(1), FreqPRN, ptrI(7), nil},
		{"unknown code", ptrF(1), Frequency("Q6H"), ptrI(7), nil},
		{"missing dose", nil, FreqOD, ptrI(7), nil},
		{"missing days", ptrF(1), FreqOD, nil, nil},
		{"zero days", ptrF(1), FreqOD, ptrI(0), ptrI(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalcSuggestedQty(tt.dose, tt.freq, tt.days))
		})
	}
}

func TestSubtotal_MissingPriceContributesZero(t *testing.T) {
	items := []LineItem{
		{GenericName: "a", UnitPrice: ptrF(10), Quantity: ptrI(2)},
		{GenericName: "b", UnitPrice: nil, Quantity: ptrI(5)},
	}
	assert.Equal(t, 20.0, Subtotal(items))

	_, ok := items[1].Subtotal()
	assert.False(t, ok)
}

func TestNewLineItem_Defaults(t *testing.T) {
	li := NewLineItem(" Amoxicillin ", "500 mg", "cap")

	assert.Equal(t, "Amoxicillin", li.GenericName)
	assert.Equal(t, RoutePO, li.Route)
	assert.Equal(t, 1.0, *li.DoseAmount)
	assert.Equal(t, UnitTab, li.DoseUnit)
	assert.Equal(t, FreqBID, li.FrequencyCode)
	assert.Equal(t, 7, *li.DurationDays)
	assert.Equal(t, 14, *li.Quantity)
	assert.Equal(t, 14, *li.SuggestedQty())
}

func TestParseCustom(t *testing.T) {
	li, err := ParseCustom("Paracetamol, 500 mg, tab")
	require.NoError(t, err)
	assert.Equal(t, ItemKey{"paracetamol", "500 mg", "tab"}, li.Key())
	assert.Nil(t, li.MedicationID)

	li, err = ParseCustom("ORS")
	require.NoError(t, err)
	assert.Equal(t, "ORS", li.GenericName)
	assert.Empty(t, li.Strength)
	assert.Empty(t, li.Form)

	_, err = ParseCustom(" , 5 mg")
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestDuplicateKey_CaseInsensitiveGeneric(t *testing.T) {
	a := LineItem{GenericName: "Amoxicillin", Strength: "500 mg", Form: "cap"}
	b := LineItem{GenericName: " amoxicillin", Strength: "500 mg", Form: "cap"}
	c := LineItem{GenericName: "amoxicillin", Strength: "250 mg", Form: "cap"}

	assert.Equal(t, a.Key(), b.Key())
	assert.True(t, ContainsKey([]LineItem{a}, b.Key()))
	assert.False(t, ContainsKey([]LineItem{a}, c.Key()))

	_, dup := FindDuplicate([]LineItem{a, c})
	assert.False(t, dup)
	k, dup := FindDuplicate([]LineItem{a, c, b})
	assert.True(t, dup)
	assert.Equal(t, a.Key(), k)
}

func TestValidateItems(t *testing.T) {
	good := NewLineItem("Ibuprofen", "400 mg", "tab")
	require.NoError(t, ValidateItems([]LineItem{good}))

	bad := good
	bad.Route = "Nasal"
	err := ValidateItems([]LineItem{good, bad})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "items[1].route", ve.Field)

	neg := NewLineItem("Cetirizine", "10 mg", "tab")
	neg.DoseAmount = ptrF(0)
	assert.Error(t, ValidateItems([]LineItem{neg}))

	assert.ErrorIs(t, ValidateItems([]LineItem{good, good}), ErrDuplicateItem)
}
