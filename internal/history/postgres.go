package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medichat/internal/chat"
)

// PostgresStore keeps one row per user holding the serialized window. Rows
// past their expiry are logically absent and overwritten on the next commit.
type PostgresStore struct {
	pool *pgxpool.Pool
	cap  int
	ttl  time.Duration
}

func NewPostgresStore(ctx context.Context, databaseURL string, capTurns int, ttl time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, cap: capTurns, ttl: ttl}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_histories (
			user_id TEXT PRIMARY KEY,
			turns JSONB NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_histories_expires ON chat_histories (expires_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, userID string) ([]chat.Turn, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT turns FROM chat_histories WHERE user_id=$1 AND expires_at > now()`,
		userID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var turns []chat.Turn
	if err := json.Unmarshal(payload, &turns); err != nil {
		log.Printf("history: discarding corrupt row for user %s: %v", userID, err)
		return nil, nil
	}
	return turns, nil
}

func (s *PostgresStore) Commit(ctx context.Context, userID string, turns ...chat.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	existing, err := s.Load(ctx, userID)
	if err != nil {
		log.Printf("history: re-read before commit failed for user %s: %v", userID, err)
		existing = nil
	}

	window := trimToCap(append(existing, turns...), s.cap)
	payload, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_histories (user_id, turns, expires_at)
		 VALUES ($1, $2, now() + $3)
		 ON CONFLICT (user_id) DO UPDATE SET turns = EXCLUDED.turns, expires_at = EXCLUDED.expires_at`,
		userID,
		payload,
		s.ttl,
	)
	if err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_histories WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
