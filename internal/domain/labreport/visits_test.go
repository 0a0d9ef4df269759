package labreport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(date string, items ...Item) Report {
	return Report{
		Patient:  Patient{ID: "p-1"},
		Visit:    Visit{Date: date},
		Sections: []Section{{Name: "Chemistry", Items: items}},
	}
}

func TestParseVisitDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-05", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"01/05/24", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"01/05/2024", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"12/31/23", time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"25/03/2024", time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC), true},
		{"Mar 4, 2024", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), true},
		{"4 Mar 2024", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), true},
		{"03/15/98", time.Date(1998, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"02/31/2024", time.Time{}, false},
		{"13/13/2024", time.Time{}, false},
		{"last tuesday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseVisitDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestVisits_ChronologicalNotLexical(t *testing.T) {
	reports := []Report{
		report("01/05/24"),
		report("12/31/23"),
		report("01/05/2024"),
	}

	got := Visits(reports)
	require.Len(t, got, 3)
	assert.ElementsMatch(t, []string{"01/05/24", "01/05/2024"}, got[:2])
	assert.Equal(t, "12/31/23", got[2])
}

func TestVisits_DedupesAndPutsUnparseableLast(t *testing.T) {
	reports := []Report{
		report("pending"),
		report("2023-06-01"),
		report("2024-02-10"),
		report("2023-06-01"),
	}
	assert.Equal(t, []string{"2024-02-10", "2023-06-01", "pending"}, Visits(reports))
}

func TestSelect(t *testing.T) {
	reports := []Report{report("2023-06-01"), report("2024-02-10")}

	r, err := Select(reports, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-10", r.Visit.Date)

	r, err = Select(reports, "2023-06-01")
	require.NoError(t, err)
	assert.Equal(t, "2023-06-01", r.Visit.Date)

	_, err = Select(reports, "1999-01-01")
	assert.ErrorIs(t, err, ErrVisitNotFound)

	_, err = Select(nil, "")
	assert.ErrorIs(t, err, ErrNoReports)
}
