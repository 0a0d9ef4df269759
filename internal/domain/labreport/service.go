package labreport

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service serves report views and trend charts.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a lab report service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// View renders the patient's report for visit, optionally compared with
// earlier visits.
func (s *Service) View(ctx context.Context, patientID uuid.UUID, visit string, compare bool) (*View, error) {
	reports, err := s.repo.ListReports(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return Render(reports, visit, compare)
}

// Trend renders the trend chart of one analyte.
func (s *Service) Trend(ctx context.Context, patientID uuid.UUID, key string) (string, error) {
	reports, err := s.repo.ListReports(ctx, patientID)
	if err != nil {
		return "", err
	}
	if len(reports) == 0 {
		return "", ErrNoReports
	}
	html, err := TrendChart(reports, key)
	if err != nil {
		s.logger.Error("trend chart failed", zap.String("patient_id", patientID.String()), zap.String("key", key), zap.Error(err))
		return "", err
	}
	return html, nil
}

// MemoryRepository keeps reports in memory, keyed by patient.
type MemoryRepository struct {
	mu      sync.RWMutex
	reports map[uuid.UUID][]Report
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{reports: make(map[uuid.UUID][]Report)}
}

// Add stores reports for a patient.
func (m *MemoryRepository) Add(patientID uuid.UUID, reports ...Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[patientID] = append(m.reports[patientID], reports...)
}

func (m *MemoryRepository) ListReports(_ context.Context, patientID uuid.UUID) ([]Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Report{}, m.reports[patientID]...), nil
}
