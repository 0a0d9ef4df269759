package labreport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type labRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the PostgreSQL Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &labRepoPG{pool: pool}
}

// ListReports folds the flat lab_results rows into one Report per visit,
// keeping section and item order as recorded.
func (r *labRepoPG) ListReports(ctx context.Context, patientID uuid.UUID) ([]Report, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.full_name, lr.visit_date, lr.section, lr.item_key, lr.label,
		       lr.value, COALESCE(lr.unit, ''), COALESCE(lr.flag, ''), COALESCE(lr.ref_range, '')
		FROM lab_results lr
		JOIN patients p ON p.id = lr.patient_id
		WHERE lr.patient_id = $1
		ORDER BY lr.visit_date, lr.section_position, lr.position`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query lab results: %w", err)
	}
	defer rows.Close()

	reports := []Report{}
	byVisit := map[string]int{}
	for rows.Next() {
		var (
			name, visit, section string
			it                   Item
			value                string
		)
		if err := rows.Scan(&name, &visit, &section, &it.Key, &it.Label, &value, &it.Unit, &it.Flag, &it.Ref); err != nil {
			return nil, fmt.Errorf("scan lab result: %w", err)
		}
		it.Value = Value(value)

		idx, ok := byVisit[visit]
		if !ok {
			reports = append(reports, Report{
				Patient: Patient{ID: patientID.String(), Name: name},
				Visit:   Visit{Date: visit},
			})
			idx = len(reports) - 1
			byVisit[visit] = idx
		}
		rep := &reports[idx]
		if n := len(rep.Sections); n == 0 || rep.Sections[n-1].Name != section {
			rep.Sections = append(rep.Sections, Section{Name: section})
		}
		s := &rep.Sections[len(rep.Sections)-1]
		s.Items = append(s.Items, it)
	}
	return reports, rows.Err()
}
