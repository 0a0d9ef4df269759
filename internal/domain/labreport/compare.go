package labreport

import "strings"

// HistoryDepth is how many prior values a compared row carries for context.
const HistoryDepth = 3

// Prior is a value of the same analyte at an earlier visit.
type Prior struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Row is one rendered result row. Freeform rows carry only Text and span
// the full width; numeric rows may carry a comparison against the nearest
// earlier visit.
type Row struct {
	Item     Item     `json:"item"`
	Freeform bool     `json:"freeform"`
	Text     string   `json:"text,omitempty"`
	Current  *float64 `json:"current,omitempty"`
	History  []Prior  `json:"history,omitempty"`
	Delta    *float64 `json:"delta,omitempty"`
	Percent  *float64 `json:"percent,omitempty"`
}

// SectionView is a section with its rendered rows.
type SectionView struct {
	Name string `json:"name"`
	Rows []Row  `json:"rows"`
}

// View is what the report viewer renders for one visit.
type View struct {
	Visits   []string      `json:"visits"`
	Selected string        `json:"selected"`
	Patient  Patient       `json:"patient"`
	Compare  bool          `json:"compare"`
	Sections []SectionView `json:"sections"`
}

// Render builds the view of the selected visit (the most recent when visit
// is empty). With compare set, numeric rows are compared with earlier visits.
func Render(reports []Report, visit string, compare bool) (*View, error) {
	current, err := Select(reports, visit)
	if err != nil {
		return nil, err
	}
	var older []Report
	if compare {
		older = priorReports(reports, current.Visit.Date)
	}

	v := &View{
		Visits:   Visits(reports),
		Selected: current.Visit.Date,
		Patient:  current.Patient,
		Compare:  compare,
		Sections: make([]SectionView, 0, len(current.Sections)),
	}
	for _, s := range current.Sections {
		sv := SectionView{Name: s.Name, Rows: make([]Row, 0, len(s.Items))}
		for _, it := range s.Items {
			sv.Rows = append(sv.Rows, compareItem(it, older, compare))
		}
		v.Sections = append(v.Sections, sv)
	}
	return v, nil
}

// priorReports returns the reports dated strictly before date, closest
// first. Reports on the same calendar day are not prior visits. Without a
// parseable date there is nothing to order against, so an unparseable
// selected date or report date takes no part in comparison.
func priorReports(reports []Report, date string) []Report {
	at, ok := ParseVisitDate(date)
	if !ok {
		return nil
	}
	var out []Report
	for _, r := range ordered(reports) {
		t, ok := ParseVisitDate(r.Visit.Date)
		if ok && t.Before(at) {
			out = append(out, r)
		}
	}
	return out
}

// Compare builds the comparison row of one item against older reports,
// which must be ordered closest first.
func Compare(it Item, older []Report) Row {
	return compareItem(it, older, true)
}

func compareItem(it Item, older []Report, compare bool) Row {
	if IsFreeform(it) {
		return Row{Item: it, Freeform: true, Text: string(it.Value)}
	}
	row := Row{Item: it}
	cur, ok := it.Value.Float()
	if !ok {
		return row
	}
	row.Current = &cur
	if !compare {
		return row
	}

	for _, r := range older {
		prev, found := r.find(it.Key)
		if !found || !unitsCompatible(it.Unit, prev.Unit) {
			continue
		}
		val, ok := prev.Value.Float()
		if !ok {
			continue
		}
		row.History = append(row.History, Prior{Date: r.Visit.Date, Value: val, Unit: prev.Unit})
		if len(row.History) == HistoryDepth {
			break
		}
	}
	if len(row.History) == 0 {
		return row
	}

	nearest := row.History[0].Value
	delta := cur - nearest
	row.Delta = &delta
	if nearest != 0 {
		pct := delta / nearest * 100
		row.Percent = &pct
	}
	return row
}

// unitsCompatible is false only when both units are present and differ.
func unitsCompatible(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}
