package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(v float64) *float64 { return &v }

func fixture() *StaticRepository {
	return NewStaticRepository(
		Medication{ID: uuid.New(), GenericName: "Amoxicillin", Strength: "500 mg", Form: "cap", UnitPrice: f64Ptr(4.25)},
		Medication{ID: uuid.New(), GenericName: "Co-amoxiclav", Strength: "625 mg", Form: "tab", BrandName: strPtr("Augmentin")},
		Medication{ID: uuid.New(), GenericName: "Paracetamol", Strength: "500 mg", Form: "tab", BrandName: strPtr("Biogesic")},
	)
}

func TestSearch_PrefixMatchesFirst(t *testing.T) {
	svc := NewService(fixture())

	meds, err := svc.Search(context.Background(), "amox")
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, "Amoxicillin", meds[0].GenericName)
	assert.Equal(t, "Co-amoxiclav", meds[1].GenericName)
}

func TestSearch_BrandAndShortQuery(t *testing.T) {
	svc := NewService(fixture())

	meds, err := svc.Search(context.Background(), "biogesic")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "Paracetamol", meds[0].GenericName)

	meds, err = svc.Search(context.Background(), " a ")
	require.NoError(t, err)
	assert.Empty(t, meds)
}

func TestMedication_LineItemDefaults(t *testing.T) {
	m := Medication{ID: uuid.New(), GenericName: "Amoxicillin", Strength: "500 mg", Form: "cap", UnitPrice: f64Ptr(4.25)}
	li := m.LineItem()

	require.NotNil(t, li.MedicationID)
	assert.Equal(t, m.ID, *li.MedicationID)
	assert.Equal(t, 4.25, *li.UnitPrice)
	assert.Equal(t, 14, *li.Quantity)
	sub, ok := li.Subtotal()
	assert.True(t, ok)
	assert.InDelta(t, 59.5, sub, 1e-9)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_x\\`, escapeLike(`50% off_x\`))
}
