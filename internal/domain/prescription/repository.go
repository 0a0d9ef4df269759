package prescription

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists prescriptions. Implementations must enforce at most
// one draft and at most one signed record per consultation.
type Repository interface {
	// GetDraft returns ErrDraftNotFound when the consultation has no draft.
	GetDraft(ctx context.Context, consultationID uuid.UUID) (*Prescription, error)
	// GetActiveSigned returns ErrNoSignedPrescription when nothing is signed.
	GetActiveSigned(ctx context.Context, consultationID uuid.UUID) (*Prescription, error)
	// GetByID returns ErrNotFound for unknown ids.
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// SaveDraft inserts or updates a draft and replaces its items.
	SaveDraft(ctx context.Context, p *Prescription) error
	// CreateRevision stores a new revision draft and its outbox event.
	CreateRevision(ctx context.Context, p *Prescription, ev *Event) error
	// DeleteDraft removes the consultation's draft and reports whether one existed.
	DeleteDraft(ctx context.Context, consultationID uuid.UUID) (bool, error)
	// Sign stores p as signed, supersedes the consultation's previous signed
	// record and writes ev to the outbox in one transaction.
	Sign(ctx context.Context, p *Prescription, ev *Event) error
}
