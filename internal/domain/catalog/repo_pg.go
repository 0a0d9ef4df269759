package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type catalogRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the PostgreSQL Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &catalogRepoPG{pool: pool}
}

func (r *catalogRepoPG) Search(ctx context.Context, query string, limit int) ([]Medication, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := r.pool.Query(ctx, `
		SELECT id, generic_name, strength, form, brand_name, unit_price
		FROM medications
		WHERE generic_name ILIKE $1 OR brand_name ILIKE $1
		ORDER BY (generic_name ILIKE $2) DESC, generic_name, strength
		LIMIT $3`, pattern, escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search medications: %w", err)
	}
	defer rows.Close()

	meds := []Medication{}
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.GenericName, &m.Strength, &m.Form, &m.BrandName, &m.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
