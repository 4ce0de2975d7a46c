package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	info      Info
	expiresAt time.Time
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store whose sessions expire after ttl (0 = never).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) expired(e *memoryEntry) bool {
	return !e.expiresAt.IsZero() && s.now().After(e.expiresAt)
}

func (s *MemoryStore) deadline() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

// Get returns a copy of the session.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[sessionID]
	if !ok || s.expired(e) {
		return nil, ErrNotFound
	}
	info := e.info
	return &info, nil
}

// Touch extends the session by the store ttl.
func (s *MemoryStore) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok || s.expired(e) {
		delete(s.entries, sessionID)
		return ErrNotFound
	}
	e.expiresAt = s.deadline()
	return nil
}

// Put stores or replaces a session.
func (s *MemoryStore) Put(_ context.Context, info *Info) error {
	if info == nil || info.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *info
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.entries[info.SessionID] = &memoryEntry{info: stored, expiresAt: s.deadline()}
	return nil
}
