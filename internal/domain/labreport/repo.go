package labreport

import (
	"context"

	"github.com/google/uuid"
)

// Repository loads a patient's lab reports.
type Repository interface {
	ListReports(ctx context.Context, patientID uuid.UUID) ([]Report, error)
}
