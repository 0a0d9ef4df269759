package prescription

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and local
// demos. Events passed to Sign and CreateRevision are kept in order.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Prescription
	Events []*Event
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]*Prescription)}
}

var _ Repository = (*MemoryRepository)(nil)

func clone(p *Prescription) *Prescription {
	cp := *p
	cp.Items = append([]LineItem{}, p.Items...)
	return &cp
}

func (m *MemoryRepository) find(consultationID uuid.UUID, status Status) *Prescription {
	for _, p := range m.byID {
		if p.ConsultationID == consultationID && p.Status == status {
			return p
		}
	}
	return nil
}

func (m *MemoryRepository) GetDraft(_ context.Context, consultationID uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(consultationID, StatusDraft); p != nil {
		return clone(p), nil
	}
	return nil, ErrDraftNotFound
}

func (m *MemoryRepository) GetActiveSigned(_ context.Context, consultationID uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(consultationID, StatusSigned); p != nil {
		return clone(p), nil
	}
	return nil, ErrNoSignedPrescription
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		return clone(p), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) saveDraftLocked(p *Prescription) error {
	if existing, ok := m.byID[p.ID]; ok && existing.Status != StatusDraft {
		return ErrLocked
	}
	if other := m.find(p.ConsultationID, StatusDraft); other != nil && other.ID != p.ID {
		return ErrDraftConflict
	}
	m.byID[p.ID] = clone(p)
	return nil
}

func (m *MemoryRepository) SaveDraft(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveDraftLocked(p)
}

func (m *MemoryRepository) CreateRevision(_ context.Context, p *Prescription, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveDraftLocked(p); err != nil {
		return err
	}
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MemoryRepository) DeleteDraft(_ context.Context, consultationID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.find(consultationID, StatusDraft)
	if p == nil {
		return false, nil
	}
	delete(m.byID, p.ID)
	return true, nil
}

func (m *MemoryRepository) Sign(_ context.Context, p *Prescription, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[p.ID]
	if !ok || stored.Status != StatusDraft {
		return ErrNotDraft
	}
	if prev := m.find(p.ConsultationID, StatusSigned); prev != nil {
		prev.Status = StatusSuperseded
	}
	m.byID[p.ID] = clone(p)
	m.Events = append(m.Events, ev)
	return nil
}
