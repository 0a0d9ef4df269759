package r5

import "time"

// Bundle is a FHIR R5 Bundle.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Identifier   *Identifier   `json:"identifier,omitempty"`
	Type         string        `json:"type"` // document | message | transaction | batch | collection | ...
	Timestamp    time.Time     `json:"timestamp"`
	Total        int           `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry holds one resource of a bundle.
type BundleEntry struct {
	FullURL  string             `json:"fullUrl,omitempty"`
	Resource *MedicationRequest `json:"resource"`
}

// NewCollection creates an empty collection bundle.
func NewCollection(id string, at time.Time) *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		ID:           id,
		Type:         "collection",
		Timestamp:    at,
	}
}

// Add appends a resource and keeps Total in step.
func (b *Bundle) Add(fullURL string, mr *MedicationRequest) {
	b.Entry = append(b.Entry, BundleEntry{FullURL: fullURL, Resource: mr})
	b.Total = len(b.Entry)
}

// MedicationRequests returns the bundled requests in order.
func (b *Bundle) MedicationRequests() []*MedicationRequest {
	out := make([]*MedicationRequest, 0, len(b.Entry))
	for _, e := range b.Entry {
		if e.Resource != nil {
			out = append(out, e.Resource)
		}
	}
	return out
}
