package catalog

import "context"

// Repository searches the medication catalog.
type Repository interface {
	Search(ctx context.Context, query string, limit int) ([]Medication, error)
}
