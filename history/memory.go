package history

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps history in process. Duplicate (session, turn, role, seq)
// lines are rejected like the relational unique index does.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	reports []TurnReport
	seen    map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]Entry),
		seen:    make(map[string]struct{}),
	}
}

// Append stores a copy of entry.
func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	key := fmt.Sprintf("%s\x00%s\x00%s\x00%d", entry.SessionID, entry.TurnID, entry.Role, entry.Seq)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return fmt.Errorf("duplicate %s line %d for turn %s", entry.Role, entry.Seq, entry.TurnID)
	}
	s.seen[key] = struct{}{}
	s.entries[entry.SessionID] = append(s.entries[entry.SessionID], entry)
	return nil
}

// List returns the newest limit lines of a session in chronological order.
func (s *MemoryStore) List(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Entry, len(all))
	copy(out, all)
	return out, nil
}

// HasTurn reports whether the turn has a line or a report.
func (s *MemoryStore) HasTurn(_ context.Context, sessionID, turnID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries[sessionID] {
		if e.TurnID == turnID {
			return true, nil
		}
	}
	for _, r := range s.reports {
		// 与 turn_reports 的唯一索引一致，报告按 turn id 全局匹配
		if r.TurnID == turnID {
			return true, nil
		}
	}
	return false, nil
}

// SaveReport records a turn report.
func (s *MemoryStore) SaveReport(_ context.Context, report TurnReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// Reports returns the recorded turn reports.
func (s *MemoryStore) Reports() []TurnReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TurnReport, len(s.reports))
	copy(out, s.reports)
	return out
}
