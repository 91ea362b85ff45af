package persistence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySessionStore is an in-memory implementation of SessionStore.
// Suitable for development and testing. Data is lost on restart.
type MemorySessionStore struct {
	sessions map[string]map[string]Record
	mu       sync.RWMutex
	closed   bool
}

// NewMemorySessionStore creates a new in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]map[string]Record),
	}
}

// Close closes the store
func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemorySessionStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put inserts or replaces a record
func (s *MemorySessionStore) Put(ctx context.Context, sessionID string, rec Record) error {
	if err := validateKey(sessionID, rec.ID); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	records, ok := s.sessions[sessionID]
	if !ok {
		records = make(map[string]Record)
		s.sessions[sessionID] = records
	}
	records[rec.ID] = rec.clone()
	return nil
}

// Get returns one record
func (s *MemorySessionStore) Get(ctx context.Context, sessionID, id string) (Record, error) {
	if err := validateKey(sessionID, id); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrStoreClosed
	}
	rec, ok := s.sessions[sessionID][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

// List returns every record of a session ordered by id
func (s *MemorySessionStore) List(ctx context.Context, sessionID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	records := s.sessions[sessionID]
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes records
func (s *MemorySessionStore) Delete(ctx context.Context, sessionID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	records, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(records, id)
	}
	if len(records) == 0 {
		delete(s.sessions, sessionID)
	}
	return nil
}

// Sessions returns the ids of non-empty sessions
func (s *MemorySessionStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
