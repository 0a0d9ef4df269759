package consent

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists consent records and stored doctor signatures.
type Repository interface {
	// Create returns ErrAlreadyRecorded for a second record of the same
	// consultation and encounter.
	Create(ctx context.Context, rec *Record) error
	ExistsForEncounter(ctx context.Context, encounterID uuid.UUID) (bool, error)
	Exists(ctx context.Context, consultationID, encounterID uuid.UUID) (bool, error)
	// GetDoctorSignature returns ErrNoStoredSignature when none is on file.
	GetDoctorSignature(ctx context.Context, doctorID uuid.UUID) ([]byte, error)
	SaveDoctorSignature(ctx context.Context, doctorID uuid.UUID, png []byte) error
}
