package generate

import (
	"context"
	"strings"

	"medichat/internal/chat"
)

// Client generates assistant replies from an assembled prompt.
type Client interface {
	// Complete returns the full reply text in one call.
	Complete(ctx context.Context, turns []chat.Turn) (string, error)
	// Stream starts an incremental generation. An upstream failure before any
	// fragment is produced surfaces as the returned error.
	Stream(ctx context.Context, turns []chat.Turn) (Stream, error)
}

// Stream is a finite, forward-only sequence of reply fragments. Recv returns
// the next non-empty fragment, io.EOF exactly once after the last one, or a
// terminal error. After an error no further fragments are produced; fragments
// already received stand as a genuine partial reply. Streams are not
// restartable.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Config controls client construction.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewClient returns the OpenAI-backed client when an API key is configured,
// otherwise a deterministic mock so the service stays usable locally.
func NewClient(cfg Config) Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewMockClient()
	}
	return NewOpenAIClient(cfg)
}
