package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const (
	MinQueryLength = 2
	DefaultLimit   = 20
)

// Service answers medication searches.
type Service struct {
	repo Repository
}

// NewService creates a catalog service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Search returns up to DefaultLimit matches. Queries shorter than
// MinQueryLength return no results without touching the repository.
func (s *Service) Search(ctx context.Context, query string) ([]Medication, error) {
	q := strings.TrimSpace(query)
	if len([]rune(q)) < MinQueryLength {
		return []Medication{}, nil
	}
	return s.repo.Search(ctx, q, DefaultLimit)
}

// StaticRepository serves a fixed catalog from memory.
type StaticRepository struct {
	mu   sync.RWMutex
	meds []Medication
}

// NewStaticRepository returns a repository over meds.
func NewStaticRepository(meds ...Medication) *StaticRepository {
	return &StaticRepository{meds: meds}
}

func (r *StaticRepository) Search(_ context.Context, query string, limit int) ([]Medication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	out := []Medication{}
	for _, m := range r.meds {
		brand := ""
		if m.BrandName != nil {
			brand = strings.ToLower(*m.BrandName)
		}
		if strings.Contains(strings.ToLower(m.GenericName), q) || strings.Contains(brand, q) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi := strings.HasPrefix(strings.ToLower(out[i].GenericName), q)
		pj := strings.HasPrefix(strings.ToLower(out[j].GenericName), q)
		if pi != pj {
			return pi
		}
		return out[i].GenericName < out[j].GenericName
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
