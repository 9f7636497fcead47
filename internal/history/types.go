package history

import (
	"context"

	"medichat/internal/chat"
)

// KeyPrefix is the key namespace shared by all backends.
const KeyPrefix = "chat_history:"

// Store owns the bounded, TTL-expiring per-user conversation window.
//
// Load returns turns oldest first. Backends report transport problems as
// errors; callers are expected to degrade to an empty history rather than
// fail the request. Commit re-reads the stored window, appends the given
// turns, trims to the most recent cap whole turns and persists with a
// refreshed TTL. Clear is idempotent and succeeds for unknown users.
type Store interface {
	Load(ctx context.Context, userID string) ([]chat.Turn, error)
	Commit(ctx context.Context, userID string, turns ...chat.Turn) error
	Clear(ctx context.Context, userID string) error
	Close() error
}

func storageKey(userID string) string {
	return KeyPrefix + userID
}

// trimToCap keeps the most recent limit turns, dropping oldest first.
func trimToCap(turns []chat.Turn, limit int) []chat.Turn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}
