package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"medichat/internal/chat"
)

// RedisStore persists each user's window as one JSON value under
// chat_history:<userID> with a TTL refreshed on every commit.
type RedisStore struct {
	client *redis.Client
	cap    int
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, redisURL string, capTurns int, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisStore{client: client, cap: capTurns, ttl: ttl}, nil
}

// NewRedisStoreFromClient wires an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client, capTurns int, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, cap: capTurns, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, userID string) ([]chat.Turn, error) {
	raw, err := s.client.Get(ctx, storageKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var turns []chat.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		// A corrupt value is treated as absent; the next commit overwrites it.
		log.Printf("history: discarding corrupt value for user %s: %v", userID, err)
		return nil, nil
	}
	return turns, nil
}

func (s *RedisStore) Commit(ctx context.Context, userID string, turns ...chat.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	existing, err := s.Load(ctx, userID)
	if err != nil {
		// Degrade to stateless: the fresh turns still get persisted.
		log.Printf("history: re-read before commit failed for user %s: %v", userID, err)
		existing = nil
	}

	window := trimToCap(append(existing, turns...), s.cap)
	payload, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if err := s.client.SetEx(ctx, storageKey(userID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, storageKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
