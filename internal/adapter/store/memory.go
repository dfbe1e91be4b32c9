package store

import (
	"context"
	"sync"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"
)

// MemoryStore loses its content on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]domain.MetricState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]domain.MetricState)}
}

func (s *MemoryStore) Load(_ context.Context, metricId string) (domain.MetricState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[metricId]
	return st, ok, nil
}

func (s *MemoryStore) LoadAll(_ context.Context) (map[string]domain.MetricState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.MetricState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, metricId string, state domain.MetricState) error {
	return s.SaveAll(ctx, map[string]domain.MetricState{metricId: state})
}

func (s *MemoryStore) SaveAll(_ context.Context, states map[string]domain.MetricState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range states {
		if v.IsEmpty() {
			delete(s.states, k)
			continue
		}
		s.states[k] = v
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance
var _ port.StateStore = (*MemoryStore)(nil)
