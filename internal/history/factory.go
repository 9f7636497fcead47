package history

import (
	"context"
	"strings"
	"time"
)

// NewStore picks the backend from configuration: Redis when a redis URL is
// set, Postgres when a database URL is set, otherwise in-memory. Every
// backend is wrapped with per-user commit serialization.
func NewStore(ctx context.Context, redisURL, databaseURL string, capTurns int, ttl time.Duration) (Store, error) {
	if strings.TrimSpace(redisURL) != "" {
		s, err := NewRedisStore(ctx, redisURL, capTurns, ttl)
		if err != nil {
			return nil, err
		}
		return Serialize(s), nil
	}
	if strings.TrimSpace(databaseURL) != "" {
		s, err := NewPostgresStore(ctx, databaseURL, capTurns, ttl)
		if err != nil {
			return nil, err
		}
		return Serialize(s), nil
	}
	return Serialize(NewInMemoryStore(capTurns, ttl)), nil
}
