package generate

import (
	"context"
	"fmt"
	"io"
	"strings"

	"medichat/internal/chat"
)

// MockClient provides deterministic local replies when no API key is
// configured. Streaming yields the reply split into word fragments so the
// incremental path gets exercised end to end.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, turns []chat.Turn) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(turns), nil
}

func (c *MockClient) Stream(ctx context.Context, turns []chat.Turn) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	text := buildMockReply(turns)
	fields := strings.Fields(text)
	fragments := make([]string, 0, len(fields))
	for i, f := range fields {
		if i < len(fields)-1 {
			f += " "
		}
		fragments = append(fragments, f)
	}
	return NewSliceStream(fragments...), nil
}

func buildMockReply(turns []chat.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != chat.RoleUser {
			continue
		}
		text := strings.TrimSpace(turns[i].Content.Flatten())
		if text == "" {
			return "I received your image. A language model is not configured, so no analysis is available."
		}
		return fmt.Sprintf("You said: %s. A language model is not configured, so this is an echo reply.", text)
	}
	return "I am listening."
}

// SliceStream replays a fixed fragment sequence; handy for mocks and tests.
type SliceStream struct {
	fragments []string
	next      int
	// Err, when set, is returned after the fragments instead of io.EOF.
	Err error
}

func NewSliceStream(fragments ...string) *SliceStream {
	return &SliceStream{fragments: fragments}
}

func (s *SliceStream) Recv() (string, error) {
	if s.next >= len(s.fragments) {
		if s.Err != nil {
			return "", s.Err
		}
		return "", io.EOF
	}
	f := s.fragments[s.next]
	s.next++
	return f, nil
}

func (s *SliceStream) Close() error { return nil }
