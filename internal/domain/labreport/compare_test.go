package labreport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func glucose(v, unit string) Item {
	return Item{Key: "glucose", Label: "Glucose", Value: Value(v), Unit: unit}
}

func TestValue_DecodesNumbersAndStrings(t *testing.T) {
	var items []Item
	require.NoError(t, json.Unmarshal([]byte(`[{"key":"a","value":5.5},{"key":"b","value":"1,200"},{"key":"c","value":null}]`), &items))

	f, ok := items[0].Value.Float()
	assert.True(t, ok)
	assert.Equal(t, 5.5, f)
	f, ok = items[1].Value.Float()
	assert.True(t, ok)
	assert.Equal(t, 1200.0, f)
	_, ok = items[2].Value.Float()
	assert.False(t, ok)
	_, ok = Value("<0.5").Float()
	assert.False(t, ok)
}

func TestRender_ComparesWithNearestPrior(t *testing.T) {
	reports := []Report{
		report("2024-03-01", glucose("110", "mg/dL")),
		report("2024-01-01", glucose("100", "mg/dL")),
		report("2023-06-01", glucose("90", "mg/dL")),
		report("2023-01-01", glucose("85", "mg/dL")),
		report("2022-01-01", glucose("80", "mg/dL")),
	}

	v, err := Render(reports, "", true)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", v.Selected)
	require.Len(t, v.Sections, 1)
	row := v.Sections[0].Rows[0]

	require.NotNil(t, row.Delta)
	assert.InDelta(t, 10.0, *row.Delta, 1e-9)
	require.NotNil(t, row.Percent)
	assert.InDelta(t, 10.0, *row.Percent, 1e-9)
	require.Len(t, row.History, HistoryDepth)
	assert.Equal(t, "2024-01-01", row.History[0].Date)
	assert.Equal(t, "2023-01-01", row.History[2].Date)
}

func TestRender_SameDayReportIsNotPrior(t *testing.T) {
	reports := []Report{
		report("01/05/24", glucose("12", "mg/dL")),
		report("01/05/2024", glucose("10", "mg/dL")),
		report("12/31/23", glucose("11", "mg/dL")),
	}

	v, err := Render(reports, "01/05/24", true)
	require.NoError(t, err)
	row := v.Sections[0].Rows[0]

	require.Len(t, row.History, 1)
	assert.Equal(t, "12/31/23", row.History[0].Date)
	require.NotNil(t, row.Delta)
	assert.InDelta(t, 1.0, *row.Delta, 1e-9)
}

func TestRender_UnparseableDatesAreNotCompared(t *testing.T) {
	reports := []Report{
		report("2024-03-01", glucose("110", "mg/dL")),
		report("last spring", glucose("95", "mg/dL")),
		report("2024-01-01", glucose("100", "mg/dL")),
	}

	v, err := Render(reports, "2024-03-01", true)
	require.NoError(t, err)
	row := v.Sections[0].Rows[0]
	require.Len(t, row.History, 1)
	assert.Equal(t, "2024-01-01", row.History[0].Date)

	v, err = Render(reports, "last spring", true)
	require.NoError(t, err)
	row = v.Sections[0].Rows[0]
	assert.Empty(t, row.History)
	assert.Nil(t, row.Delta)
}

func TestRender_SkipsMismatchedUnits(t *testing.T) {
	reports := []Report{
		report("2024-03-01", glucose("6.1", "mmol/L")),
		report("2024-01-01", glucose("100", "mg/dL")),
		report("2023-06-01", glucose("5.0", "mmol/L")),
	}

	v, err := Render(reports, "2024-03-01", true)
	require.NoError(t, err)
	row := v.Sections[0].Rows[0]
	require.Len(t, row.History, 1)
	assert.Equal(t, "2023-06-01", row.History[0].Date)
	assert.InDelta(t, 1.1, *row.Delta, 1e-9)
}

func TestRender_ZeroPreviousHasNoPercent(t *testing.T) {
	reports := []Report{
		report("2024-03-01", Item{Key: "crp", Value: "3"}),
		report("2024-01-01", Item{Key: "crp", Value: "0"}),
	}
	v, err := Render(reports, "", true)
	require.NoError(t, err)
	row := v.Sections[0].Rows[0]
	require.NotNil(t, row.Delta)
	assert.Equal(t, 3.0, *row.Delta)
	assert.Nil(t, row.Percent)
}

func TestRender_FreeformAndCompareOff(t *testing.T) {
	reports := []Report{
		report("2024-03-01", glucose("110", "mg/dL"), Item{Key: "doctor_remarks", Label: "Remarks", Value: "Fasting sample"}),
		report("2024-01-01", glucose("100", "mg/dL")),
	}

	v, err := Render(reports, "", false)
	require.NoError(t, err)
	rows := v.Sections[0].Rows
	require.Len(t, rows, 2)
	assert.NotNil(t, rows[0].Current)
	assert.Nil(t, rows[0].Delta)
	assert.True(t, rows[1].Freeform)
	assert.Equal(t, "Fasting sample", rows[1].Text)
	assert.Nil(t, rows[1].Current)
}

func TestIsFreeform(t *testing.T) {
	assert.True(t, IsFreeform(Item{Key: "interpretation"}))
	assert.True(t, IsFreeform(Item{Key: "x", Label: "Clinical Impression"}))
	assert.False(t, IsFreeform(Item{Key: "hba1c", Label: "HbA1c"}))
}

func TestTrendChart(t *testing.T) {
	reports := []Report{
		report("2024-03-01", glucose("110", "mg/dL")),
		report("2023-06-01", glucose("90", "mg/dL")),
		report("2024-01-01", glucose("100", "mg/dL")),
	}

	label, points := Series(reports, "glucose")
	assert.Equal(t, "Glucose", label)
	require.Len(t, points, 3)
	assert.Equal(t, "2023-06-01", points[0].Date)
	assert.Equal(t, "2024-03-01", points[2].Date)

	html, err := TrendChart(reports, "glucose")
	require.NoError(t, err)
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "Glucose")

	html, err = TrendChart(reports, "missing")
	require.NoError(t, err)
	assert.Empty(t, html)
}

func TestService_View(t *testing.T) {
	repo := NewMemoryRepository()
	pid := uuid.New()
	repo.Add(pid, report("2024-03-01", glucose("110", "mg/dL")), report("2024-01-01", glucose("100", "mg/dL")))
	svc := NewService(repo, nil)

	v, err := svc.View(context.Background(), pid, "2024-01-01", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01", "2024-01-01"}, v.Visits)
	assert.Nil(t, v.Sections[0].Rows[0].Delta)

	_, err = svc.Trend(context.Background(), uuid.New(), "glucose")
	assert.ErrorIs(t, err, ErrNoReports)
}
