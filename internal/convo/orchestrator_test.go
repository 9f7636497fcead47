package convo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"medichat/internal/chat"
	"medichat/internal/generate"
	"medichat/internal/history"
	"medichat/internal/ingest"
	"medichat/internal/observability"
)

// stubClient plays scripted generations and records every prompt it was
// given.
type stubClient struct {
	mu          sync.Mutex
	prompts     [][]chat.Turn
	reply       string
	fragments   []string
	terminalErr error
	startErr    error
}

func (c *stubClient) record(turns []chat.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, turns)
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func (c *stubClient) Complete(_ context.Context, turns []chat.Turn) (string, error) {
	c.record(turns)
	if c.startErr != nil {
		return "", c.startErr
	}
	if c.reply != "" {
		return c.reply, nil
	}
	return strings.Join(c.fragments, ""), nil
}

func (c *stubClient) Stream(_ context.Context, turns []chat.Turn) (generate.Stream, error) {
	c.record(turns)
	if c.startErr != nil {
		return nil, c.startErr
	}
	s := generate.NewSliceStream(c.fragments...)
	s.Err = c.terminalErr
	return s, nil
}

// recordingSink captures emitted events and can simulate a client that goes
// away after a number of chunks.
type recordingSink struct {
	chunks     []string
	done       bool
	errMsg     string
	failAfter  int // -1: never fail
	chunkCalls int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failAfter: -1}
}

func (s *recordingSink) Chunk(text string) error {
	s.chunkCalls++
	if s.failAfter >= 0 && s.chunkCalls > s.failAfter {
		return errors.New("client went away")
	}
	s.chunks = append(s.chunks, text)
	return nil
}

func (s *recordingSink) Done() error {
	s.done = true
	return nil
}

func (s *recordingSink) Error(message string) error {
	s.errMsg = message
	return nil
}

type stubUploader struct{}

func (stubUploader) Upload(_ context.Context, data []byte, _ string) (string, error) {
	return fmt.Sprintf("https://blob.example/%s", data), nil
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, []byte, string) (string, error) {
	return "", errors.New("blob store is down")
}

func b64(payload string) string {
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

type testEnv struct {
	orch   *Orchestrator
	store  history.Store
	client *stubClient
}

func newTestEnv(t *testing.T, client *stubClient, uploader ingest.Uploader) *testEnv {
	t.Helper()
	store := history.NewInMemoryStore(20, time.Hour)
	metrics := observability.NewMetrics("test_convo_" + t.Name())
	orch := New(
		store,
		client,
		ingest.NewIngestor(uploader, time.Second),
		metrics,
		"you are a careful medical assistant",
		time.Minute,
	)
	return &testEnv{orch: orch, store: store, client: client}
}

func TestSingleShotCommitsTurnPair(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "hi"}, stubUploader{})

	sink := newRecordingSink()
	res := env.orch.Respond(context.Background(), "u1", Request{Message: "hello", Stream: false}, sink)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
	if res.Reply != "hi" {
		t.Fatalf("reply = %q, want %q", res.Reply, "hi")
	}

	turns, err := env.store.Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("stored turns = %d, want 2", len(turns))
	}
	if turns[0].Role != chat.RoleUser || turns[0].Content.Text != "hello" {
		t.Fatalf("user turn = %+v, want role=user text=hello", turns[0])
	}
	if turns[1].Role != chat.RoleAssistant || turns[1].Content.Text != "hi" {
		t.Fatalf("assistant turn = %+v, want role=assistant text=hi", turns[1])
	}
}

func TestNoContentShortCircuits(t *testing.T) {
	client := &stubClient{reply: "should never be called"}
	env := newTestEnv(t, client, stubUploader{})

	res := env.orch.Respond(context.Background(), "u1", Request{Message: "   ", Stream: true}, newRecordingSink())

	if res.Outcome != OutcomeNoContent {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeNoContent)
	}
	if res.Message != MsgNoContent {
		t.Fatalf("message = %q, want %q", res.Message, MsgNoContent)
	}
	if client.callCount() != 0 {
		t.Fatalf("generation calls = %d, want 0", client.callCount())
	}

	turns, _ := env.store.Load(context.Background(), "u1")
	if len(turns) != 0 {
		t.Fatalf("stored turns = %d, want 0", len(turns))
	}
}

func TestStreamingImageOnlyRequest(t *testing.T) {
	client := &stubClient{fragments: []string{"A", "B"}}
	env := newTestEnv(t, client, stubUploader{})

	sink := newRecordingSink()
	res := env.orch.Respond(context.Background(), "u1", Request{
		Images: []string{b64("scan")},
		Stream: true,
	}, sink)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
	if len(sink.chunks) != 2 || sink.chunks[0] != "A" || sink.chunks[1] != "B" {
		t.Fatalf("chunks = %v, want [A B]", sink.chunks)
	}
	if !sink.done {
		t.Fatalf("done event not emitted")
	}
	if sink.errMsg != "" {
		t.Fatalf("unexpected error event %q", sink.errMsg)
	}

	turns, _ := env.store.Load(context.Background(), "u1")
	if len(turns) != 2 {
		t.Fatalf("stored turns = %d, want 2", len(turns))
	}
	blocks := turns[0].Content.Blocks
	if len(blocks) != 1 || blocks[0].Type != chat.BlockTypeImage {
		t.Fatalf("user turn blocks = %+v, want a single image block", blocks)
	}
	if blocks[0].ImageURL.URL != "https://blob.example/scan" {
		t.Fatalf("image url = %q, want uploaded url", blocks[0].ImageURL.URL)
	}
	if turns[1].Content.Text != "AB" {
		t.Fatalf("assistant turn = %q, want %q", turns[1].Content.Text, "AB")
	}
}

func TestUploadFailureAbortsWithoutCommit(t *testing.T) {
	client := &stubClient{reply: "unused"}
	env := newTestEnv(t, client, failingUploader{})

	res := env.orch.Respond(context.Background(), "u1", Request{
		Message: "what is this",
		Images:  []string{b64("scan")},
		Stream:  false,
	}, nil)

	if res.Outcome != OutcomeIngestFailed {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeIngestFailed)
	}
	if !strings.Contains(res.Message, "image 1") {
		t.Fatalf("message = %q, want it to identify image 1", res.Message)
	}
	if client.callCount() != 0 {
		t.Fatalf("generation calls = %d, want 0", client.callCount())
	}

	turns, _ := env.store.Load(context.Background(), "u1")
	if len(turns) != 0 {
		t.Fatalf("stored turns = %d, want 0", len(turns))
	}
}

func TestStreamErrorDiscardsPartialReply(t *testing.T) {
	client := &stubClient{fragments: []string{"par", "tial"}, terminalErr: errors.New("upstream broke")}
	env := newTestEnv(t, client, stubUploader{})

	sink := newRecordingSink()
	res := env.orch.Respond(context.Background(), "u1", Request{Message: "hello", Stream: true}, sink)

	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeFailed)
	}
	if sink.errMsg != MsgGenerationFailed {
		t.Fatalf("error event = %q, want %q", sink.errMsg, MsgGenerationFailed)
	}
	if sink.done {
		t.Fatalf("done event emitted after a failed stream")
	}

	// The partial text reached the client but must not reach history.
	turns, _ := env.store.Load(context.Background(), "u1")
	if len(turns) != 0 {
		t.Fatalf("stored turns = %d, want 0", len(turns))
	}
}

func TestGenerationStartFailureEmitsErrorEvent(t *testing.T) {
	client := &stubClient{startErr: errors.New("connect refused")}
	env := newTestEnv(t, client, stubUploader{})

	sink := newRecordingSink()
	res := env.orch.Respond(context.Background(), "u1", Request{Message: "hello", Stream: true}, sink)

	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeFailed)
	}
	if len(sink.chunks) != 0 {
		t.Fatalf("chunks = %v, want none", sink.chunks)
	}
	if sink.errMsg != MsgGenerationFailed {
		t.Fatalf("error event = %q, want %q", sink.errMsg, MsgGenerationFailed)
	}
	if strings.Contains(sink.errMsg, "refused") {
		t.Fatalf("error event leaked upstream detail: %q", sink.errMsg)
	}
}

func TestStreamAndSingleShotCommitSameReply(t *testing.T) {
	client := &stubClient{fragments: []string{"he", "llo ", "there"}}
	env := newTestEnv(t, client, stubUploader{})

	sink := newRecordingSink()
	streamRes := env.orch.Respond(context.Background(), "stream-user", Request{Message: "hi", Stream: true}, sink)
	singleRes := env.orch.Respond(context.Background(), "single-user", Request{Message: "hi", Stream: false}, nil)

	if streamRes.Reply != singleRes.Reply {
		t.Fatalf("stream reply %q != single reply %q", streamRes.Reply, singleRes.Reply)
	}
	if got := strings.Join(sink.chunks, ""); got != singleRes.Reply {
		t.Fatalf("concatenated chunks = %q, want %q", got, singleRes.Reply)
	}

	streamTurns, _ := env.store.Load(context.Background(), "stream-user")
	singleTurns, _ := env.store.Load(context.Background(), "single-user")
	if len(streamTurns) != 2 || len(singleTurns) != 2 {
		t.Fatalf("stored turns = %d/%d, want 2/2", len(streamTurns), len(singleTurns))
	}
	if streamTurns[1].Content.Text != singleTurns[1].Content.Text {
		t.Fatalf("committed replies differ: %q vs %q", streamTurns[1].Content.Text, singleTurns[1].Content.Text)
	}
}

func TestClientDisconnectDrainsAndCommits(t *testing.T) {
	client := &stubClient{fragments: []string{"A", "B", "C"}}
	env := newTestEnv(t, client, stubUploader{})

	sink := newRecordingSink()
	sink.failAfter = 1 // client vanishes after the first chunk
	res := env.orch.Respond(context.Background(), "u1", Request{Message: "hello", Stream: true}, sink)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
	if len(sink.chunks) != 1 {
		t.Fatalf("forwarded chunks = %d, want 1", len(sink.chunks))
	}
	if sink.done {
		t.Fatalf("done event emitted to a disconnected client")
	}

	// The full reply is still committed.
	turns, _ := env.store.Load(context.Background(), "u1")
	if len(turns) != 2 || turns[1].Content.Text != "ABC" {
		t.Fatalf("stored turns = %+v, want full assistant reply ABC", turns)
	}
}

func TestPromptIncludesSystemAndHistory(t *testing.T) {
	client := &stubClient{reply: "noted"}
	env := newTestEnv(t, client, stubUploader{})

	ctx := context.Background()
	seed := []chat.Turn{chat.UserTurn("earlier question"), chat.AssistantTurn("earlier answer")}
	if err := env.store.Commit(ctx, "u1", seed...); err != nil {
		t.Fatalf("seed commit error = %v", err)
	}

	env.orch.Respond(ctx, "u1", Request{Message: "follow-up", Stream: false}, nil)

	if client.callCount() != 1 {
		t.Fatalf("generation calls = %d, want 1", client.callCount())
	}
	prompt := client.prompts[0]
	if len(prompt) != 4 {
		t.Fatalf("prompt length = %d, want 4 (system + 2 history + user)", len(prompt))
	}
	if prompt[0].Role != chat.RoleSystem {
		t.Fatalf("prompt[0].Role = %q, want system", prompt[0].Role)
	}
	if prompt[1].Content.Text != "earlier question" || prompt[2].Content.Text != "earlier answer" {
		t.Fatalf("history not replayed in order: %+v", prompt[1:3])
	}
	if prompt[3].Content.Text != "follow-up" {
		t.Fatalf("prompt[3] = %+v, want the new user turn", prompt[3])
	}

	// The system turn is injected at prompt time, never persisted.
	turns, _ := env.store.Load(ctx, "u1")
	for _, turn := range turns {
		if turn.Role == chat.RoleSystem {
			t.Fatalf("system turn leaked into history: %+v", turns)
		}
	}
}
