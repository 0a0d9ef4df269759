package labreport

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

var visitLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
}

// ParseVisitDate parses a visit date as labs write it. Slash or dash
// separated numeric dates are month-first unless the first token is above
// 12, in which case they are read day-first. Two digit years fall in
// 2000-2069 or 1970-1999.
func ParseVisitDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range visitLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return parseNumericDate(s)
}

func parseNumericDate(s string) (time.Time, bool) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' || r == '.' })
	if len(parts) != 3 {
		return time.Time{}, false
	}
	n := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return time.Time{}, false
		}
		n[i] = v
	}

	month, day, year := n[0], n[1], n[2]
	if month > 12 {
		month, day = day, month
	}
	switch len(parts[2]) {
	case 2:
		if year < 70 {
			year += 2000
		} else {
			year += 1900
		}
	case 4:
	default:
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// reject rollovers such as 02/31
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// Visits returns the distinct visit dates of reports, most recent first by
// calendar date. Dates that cannot be parsed sort last in input order.
func Visits(reports []Report) []string {
	seen := make(map[string]bool, len(reports))
	dates := make([]string, 0, len(reports))
	for _, r := range reports {
		d := strings.TrimSpace(r.Visit.Date)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		dates = append(dates, d)
	}
	sort.SliceStable(dates, func(i, j int) bool { return newer(dates[i], dates[j]) })
	return dates
}

// newer orders parseable dates before unparseable ones and parseable dates
// by calendar time, latest first.
func newer(a, b string) bool {
	ta, oka := ParseVisitDate(a)
	tb, okb := ParseVisitDate(b)
	if oka && okb {
		return ta.After(tb)
	}
	return oka && !okb
}

// ordered returns reports sorted like Visits, most recent first.
func ordered(reports []Report) []Report {
	out := append([]Report(nil), reports...)
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i].Visit.Date, out[j].Visit.Date) })
	return out
}

// Select returns the report for the visit date. An empty date selects the
// most recent visit.
func Select(reports []Report, date string) (*Report, error) {
	if len(reports) == 0 {
		return nil, ErrNoReports
	}
	sorted := ordered(reports)
	date = strings.TrimSpace(date)
	if date == "" {
		return &sorted[0], nil
	}
	for i := range sorted {
		if strings.TrimSpace(sorted[i].Visit.Date) == date {
			return &sorted[i], nil
		}
	}
	return nil, ErrVisitNotFound
}
