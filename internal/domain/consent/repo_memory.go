package consent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pairKey struct{ consultation, encounter uuid.UUID }

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu         sync.Mutex
	records    map[pairKey]*Record
	signatures map[uuid.UUID][]byte
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:    make(map[pairKey]*Record),
		signatures: make(map[uuid.UUID][]byte),
	}
}

func (m *MemoryRepository) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{rec.ConsultationID, rec.EncounterID}
	if _, ok := m.records[k]; ok {
		return ErrAlreadyRecorded
	}
	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	m.records[k] = &cp
	return nil
}

func (m *MemoryRepository) ExistsForEncounter(_ context.Context, encounterID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.records {
		if k.encounter == encounterID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) Exists(_ context.Context, consultationID, encounterID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[pairKey{consultationID, encounterID}]
	return ok, nil
}

func (m *MemoryRepository) GetDoctorSignature(_ context.Context, doctorID uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.signatures[doctorID]
	if !ok {
		return nil, ErrNoStoredSignature
	}
	return sig, nil
}

func (m *MemoryRepository) SaveDoctorSignature(_ context.Context, doctorID uuid.UUID, png []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signatures[doctorID] = append([]byte(nil), png...)
	return nil
}
