package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventRevisionCreated    EventType = "PrescriptionRevisionCreated"
	EventPrescriptionSigned EventType = "PrescriptionSigned"
)

// Event is a domain event written to the outbox in the same transaction as
// the state change it describes.
type Event struct {
	ID             string          `json:"id"`
	AggregateID    string          `json:"aggregate_id"`
	AggregateType  string          `json:"aggregate_type"`
	EventType      EventType       `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	Timestamp      time.Time       `json:"timestamp"`
	ConsultationID string          `json:"consultation_id"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(p *Prescription, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:             uuid.New().String(),
		AggregateID:    p.ID.String(),
		AggregateType:  "Prescription",
		EventType:      eventType,
		EventData:      eventData,
		Timestamp:      time.Now().UTC(),
		ConsultationID: p.ConsultationID.String(),
	}, nil
}

// WithCorrelation tags the event with the originating request id.
func (e *Event) WithCorrelation(id string) *Event {
	e.CorrelationID = id
	return e
}

// SignedData is the payload of PrescriptionSigned.
type SignedData struct {
	PrescriptionID string     `json:"prescription_id"`
	ConsultationID string     `json:"consultation_id"`
	PatientID      string     `json:"patient_id"`
	SignedBy       string     `json:"signed_by"`
	SignedAt       time.Time  `json:"signed_at"`
	ItemCount      int        `json:"item_count"`
	Subtotal       float64    `json:"subtotal"`
	RevisionOf     *uuid.UUID `json:"revision_of,omitempty"`
	Superseded     *uuid.UUID `json:"superseded,omitempty"`
}

// RevisionData is the payload of PrescriptionRevisionCreated.
type RevisionData struct {
	PrescriptionID string `json:"prescription_id"`
	ConsultationID string `json:"consultation_id"`
	RevisionOf     string `json:"revision_of"`
}
