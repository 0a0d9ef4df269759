package consultation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu            sync.Mutex
	consultations map[uuid.UUID]*Consultation
	followUps     []FollowUp
	Events        []*FinalizedEvent
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{consultations: make(map[uuid.UUID]*Consultation)}
}

// Put stores or replaces a consultation.
func (m *MemoryRepository) Put(c Consultation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consultations[c.ID] = &c
}

// AddFollowUp stores a follow-up.
func (m *MemoryRepository) AddFollowUp(f FollowUp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followUps = append(m.followUps, f)
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) HasScheduledFollowUp(_ context.Context, consultationID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.followUps {
		if f.ConsultationID == consultationID && f.Status == FollowUpScheduled {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) MarkFinished(_ context.Context, id uuid.UUID, at time.Time, ev *FinalizedEvent) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	c.Status = StatusFinished
	if c.FinalizedAt == nil {
		at = at.UTC()
		c.FinalizedAt = &at
	}
	ev.FinalizedAt = *c.FinalizedAt
	m.Events = append(m.Events, ev)
	return *c.FinalizedAt, nil
}
