package history

import (
	"context"

	"medichat/internal/chat"
)

// serializedStore wraps a backend with per-user locking. Two concurrent
// requests for the same user each run a load → append → persist cycle; without
// the lock the later persist silently drops the other request's turns.
type serializedStore struct {
	inner Store
	locks *userLocks
}

// Serialize returns a store whose Commit and Clear operations are serialized
// per user.
func Serialize(inner Store) Store {
	if _, ok := inner.(*serializedStore); ok {
		return inner
	}
	return &serializedStore{inner: inner, locks: newUserLocks()}
}

func (s *serializedStore) Load(ctx context.Context, userID string) ([]chat.Turn, error) {
	return s.inner.Load(ctx, userID)
}

func (s *serializedStore) Commit(ctx context.Context, userID string, turns ...chat.Turn) error {
	mu := s.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.inner.Commit(ctx, userID, turns...)
}

func (s *serializedStore) Clear(ctx context.Context, userID string) error {
	mu := s.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.inner.Clear(ctx, userID)
}

func (s *serializedStore) Close() error {
	return s.inner.Close()
}
