// Package labreport groups lab results by visit and compares a visit with
// earlier ones.
package labreport

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var (
	ErrVisitNotFound = errors.New("no report for visit")
	ErrNoReports     = errors.New("patient has no lab reports")
)

// Report is the lab report of one patient visit.
type Report struct {
	Patient  Patient   `json:"patient"`
	Visit    Visit     `json:"visit"`
	Sections []Section `json:"sections"`
}

// Patient identifies the report subject.
type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Visit carries the raw visit date as recorded by the lab.
type Visit struct {
	Date string `json:"date"`
}

// Section is a named panel of results, e.g. "Complete Blood Count".
type Section struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Item is one analyte result.
type Item struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value Value  `json:"value"`
	Unit  string `json:"unit,omitempty"`
	Flag  string `json:"flag,omitempty"`
	Ref   string `json:"ref,omitempty"`
}

// Value is a result value. Labs send numbers and strings interchangeably,
// so both JSON forms decode into the textual representation.
type Value string

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	*v = Value(strings.TrimSpace(string(b)))
	return nil
}

// Float parses the value as a number. Thousands separators are accepted;
// qualified values such as "<0.5" are not numeric.
func (v Value) Float() (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(string(v)), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// find returns the first item with key across all sections.
func (r *Report) find(key string) (Item, bool) {
	for _, s := range r.Sections {
		for _, it := range s.Items {
			if it.Key == key {
				return it, true
			}
		}
	}
	return Item{}, false
}

var freeformKeys = map[string]bool{
	"remarks":        true,
	"remark":         true,
	"interpretation": true,
	"comments":       true,
	"comment":        true,
	"notes":          true,
	"impression":     true,
	"conclusion":     true,
}

var freeformFragments = []string{"remark", "interpret", "comment", "impression", "note"}

// IsFreeform reports whether the item is a narrative row (remarks,
// interpretation and the like) that is shown as text and never compared.
func IsFreeform(it Item) bool {
	key := strings.ToLower(strings.TrimSpace(it.Key))
	label := strings.ToLower(strings.TrimSpace(it.Label))
	if freeformKeys[key] || freeformKeys[label] {
		return true
	}
	for _, f := range freeformFragments {
		if strings.Contains(key, f) || strings.Contains(label, f) {
			return true
		}
	}
	return false
}
