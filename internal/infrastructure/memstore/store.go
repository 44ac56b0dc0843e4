package memstore

import (
	"context"
	"sync"

	"github.com/snaphub-notify/internal/domain"
)

// ReadStateStore keeps read state in process memory. State does not survive
// a restart; it backs local development and tests.
type ReadStateStore struct {
	mu     sync.Mutex
	states map[string]domain.ReadState
}

func NewReadStateStore() *ReadStateStore {
	return &ReadStateStore{states: make(map[string]domain.ReadState)}
}

// Load returns a copy so callers cannot mutate stored state.
func (s *ReadStateStore) Load(_ context.Context, userID string) (domain.ReadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := domain.NewReadState()
	st, ok := s.states[userID]
	if !ok {
		return out, nil
	}
	for id := range st.Acknowledged {
		out.Acknowledged[id] = struct{}{}
	}
	for id, status := range st.LastSeen {
		out.LastSeen[id] = status
	}
	return out, nil
}

func (s *ReadStateStore) ReplaceLastSeen(_ context.Context, userID string, snapshot map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(userID)
	st.LastSeen = make(map[string]string, len(snapshot))
	for id, status := range snapshot {
		st.LastSeen[id] = status
	}
	s.states[userID] = st
	return nil
}

func (s *ReadStateStore) Acknowledge(_ context.Context, userID string, statuses map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(userID)
	for id, status := range statuses {
		st.Acknowledged[id] = struct{}{}
		st.LastSeen[id] = status
	}
	return nil
}

func (s *ReadStateStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

func (s *ReadStateStore) stateLocked(userID string) domain.ReadState {
	st, ok := s.states[userID]
	if !ok {
		st = domain.NewReadState()
		s.states[userID] = st
	}
	return st
}
