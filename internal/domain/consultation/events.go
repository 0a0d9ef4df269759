package consultation

import (
	"time"

	"github.com/google/uuid"
)

// EventFinalized is the outbox event type written when a consultation is
// finished.
const EventFinalized = "ConsultationFinalized"

// FinalizedEvent is the payload of EventFinalized.
type FinalizedEvent struct {
	ID               string    `json:"id"`
	EventType        string    `json:"event_type"`
	ConsultationID   uuid.UUID `json:"consultation_id"`
	EncounterID      uuid.UUID `json:"encounter_id"`
	PatientID        uuid.UUID `json:"patient_id"`
	FinalizedAt      time.Time `json:"finalized_at"`
	WithPrescription bool      `json:"with_prescription"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
}
