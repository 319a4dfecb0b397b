package store

import (
	"context"
	"sync"
	"time"

	"github.com/syedmozamilshah/healthverse/internal/triage"
)

// InMemory is the default session store: a mutex-guarded map. Sessions are
// stored as deep copies so callers can never mutate stored state through a
// returned pointer.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]*triage.Session
}

// NewInMemory creates an empty in-memory session store.
func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[string]*triage.Session)}
}

func (s *InMemory) Create(_ context.Context, sess *triage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemory) Get(_ context.Context, id string) (*triage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, triage.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemory) Update(_ context.Context, sess *triage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return triage.ErrSessionNotFound
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return triage.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Sweep removes sessions whose last update predates the cutoff.
func (s *InMemory) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
