package history

import (
	"context"
	"sync"
	"time"

	"medichat/internal/chat"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*inMemoryEntry
	cap     int
	ttl     time.Duration
	now     func() time.Time
}

type inMemoryEntry struct {
	turns     []chat.Turn
	expiresAt time.Time
}

func NewInMemoryStore(capTurns int, ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*inMemoryEntry),
		cap:     capTurns,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemoryStore) Load(_ context.Context, userID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[storageKey(userID)]
	if !ok || s.now().After(e.expiresAt) {
		return nil, nil
	}
	out := make([]chat.Turn, len(e.turns))
	copy(out, e.turns)
	return out, nil
}

func (s *InMemoryStore) Commit(_ context.Context, userID string, turns ...chat.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storageKey(userID)
	var existing []chat.Turn
	if e, ok := s.entries[key]; ok && !s.now().After(e.expiresAt) {
		existing = e.turns
	}

	window := trimToCap(append(existing, turns...), s.cap)
	s.entries[key] = &inMemoryEntry{
		turns:     window,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storageKey(userID))
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
