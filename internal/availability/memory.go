package availability

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps templates in process. Used by tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]WeekTemplate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[uuid.UUID]WeekTemplate)}
}

func (s *MemoryStore) Get(_ context.Context, facultyID uuid.UUID) (WeekTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[facultyID]
	if !ok {
		return WeekTemplate{Days: []DaySchedule{}}, nil
	}
	return tpl.Normalized(), nil
}

func (s *MemoryStore) Replace(_ context.Context, facultyID uuid.UUID, tpl WeekTemplate) (WeekTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return WeekTemplate{}, err
	}
	tpl = tpl.Normalized()

	s.mu.Lock()
	s.templates[facultyID] = tpl
	s.mu.Unlock()

	return tpl.Normalized(), nil
}
