package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists consultations and reads their follow-ups.
type Repository interface {
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id uuid.UUID) (*Consultation, error)
	HasScheduledFollowUp(ctx context.Context, consultationID uuid.UUID) (bool, error)
	// MarkFinished sets the consultation finished and writes ev to the
	// outbox in one transaction. It returns the stored finalization time,
	// which is the original one if the consultation was already finished.
	MarkFinished(ctx context.Context, id uuid.UUID, at time.Time, ev *FinalizedEvent) (time.Time, error)
}
