// Package history keeps a bounded, insertion-ordered log of chat turns per
// correspondent.
package history

import (
	"sync"

	"whatsapp-agent/internal/domain"
)

const DefaultMaxHistory = 20

// Store is safe for concurrent use. Content length is not limited here;
// callers truncate before building prompts.
type Store struct {
	mu         sync.RWMutex
	maxEntries int
	entries    map[string][]domain.ChatMessage
}

func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxHistory
	}
	return &Store{
		maxEntries: maxEntries,
		entries:    make(map[string][]domain.ChatMessage),
	}
}

// Append adds a turn and drops the oldest turns beyond the bound.
func (s *Store) Append(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.entries[id], domain.ChatMessage{Role: role, Content: content})
	if over := len(log) - s.maxEntries; over > 0 {
		// Copy into a fresh slice so the evicted prefix is not retained by
		// the backing array.
		trimmed := make([]domain.ChatMessage, s.maxEntries)
		copy(trimmed, log[over:])
		log = trimmed
	}
	s.entries[id] = log
}

// Get returns a copy of the turns for id, oldest first.
func (s *Store) Get(id string) []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.entries[id]
	out := make([]domain.ChatMessage, len(log))
	copy(out, log)
	return out
}

func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *Store) Len(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[id])
}

func (s *Store) MaxEntries() int { return s.maxEntries }
