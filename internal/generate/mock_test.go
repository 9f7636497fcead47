package generate

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"medichat/internal/chat"
)

func drain(t *testing.T, s Stream) string {
	t.Helper()
	var b strings.Builder
	for {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String()
		}
		if err != nil {
			t.Fatalf("Recv error = %v", err)
		}
		if fragment == "" {
			t.Fatalf("Recv yielded an empty fragment")
		}
		b.WriteString(fragment)
	}
}

func TestMockStreamMatchesComplete(t *testing.T) {
	client := NewMockClient()
	prompt := []chat.Turn{
		chat.SystemTurn("persona"),
		chat.UserTurn("does this rash look serious"),
	}

	full, err := client.Complete(context.Background(), prompt)
	if err != nil {
		t.Fatalf("Complete error = %v", err)
	}

	stream, err := client.Stream(context.Background(), prompt)
	if err != nil {
		t.Fatalf("Stream error = %v", err)
	}
	defer stream.Close()

	if got := drain(t, stream); got != full {
		t.Fatalf("streamed reply = %q, want %q", got, full)
	}
}

func TestNewClientFallsBackToMock(t *testing.T) {
	if _, ok := NewClient(Config{}).(*MockClient); !ok {
		t.Fatalf("NewClient without key should return the mock client")
	}
	if _, ok := NewClient(Config{APIKey: "k"}).(*OpenAIClient); !ok {
		t.Fatalf("NewClient with key should return the openai client")
	}
}

func TestSliceStreamTerminalError(t *testing.T) {
	s := NewSliceStream("a", "b")
	s.Err = errors.New("upstream broke")

	for i := 0; i < 2; i++ {
		if _, err := s.Recv(); err != nil {
			t.Fatalf("Recv %d error = %v", i, err)
		}
	}
	if _, err := s.Recv(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Recv after fragments = %v, want terminal error", err)
	}
}
