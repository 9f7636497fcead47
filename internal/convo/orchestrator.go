package convo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"medichat/internal/chat"
	"medichat/internal/generate"
	"medichat/internal/history"
	"medichat/internal/ingest"
	"medichat/internal/observability"
)

// User-facing messages. Upstream error details never reach these.
const (
	MsgNoContent        = "Please provide a message or an image."
	MsgGenerationFailed = "Sorry, something went wrong while generating a reply. Please try again later."

	commitTimeout = 10 * time.Second
)

// Request is the normalized inbound chat request: message text plus an
// ordered list of raw image payloads.
type Request struct {
	Message string
	Images  []string
	Stream  bool
}

// Sink receives the client-visible events of one streamed response. A Chunk
// error means the client is gone; the orchestrator stops forwarding but
// keeps draining the upstream stream so the full turn still gets committed.
type Sink interface {
	Chunk(text string) error
	Done() error
	Error(message string) error
}

// Outcome describes how a request terminated.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeFailed       Outcome = "failed"
	OutcomeNoContent    Outcome = "no_content"
	OutcomeIngestFailed Outcome = "ingest_failed"
)

// Result carries the reply text for completed requests and the user-facing
// message for everything else.
type Result struct {
	Outcome Outcome
	Reply   string
	Message string
}

// Orchestrator drives one request through prompt assembly, generation and
// history commit. All collaborators are injected so tests can run it against
// stubs.
type Orchestrator struct {
	history      history.Store
	client       generate.Client
	ingestor     *ingest.Ingestor
	metrics      *observability.Metrics
	systemPrompt string
	genTimeout   time.Duration
}

func New(
	hist history.Store,
	client generate.Client,
	ingestor *ingest.Ingestor,
	metrics *observability.Metrics,
	systemPrompt string,
	genTimeout time.Duration,
) *Orchestrator {
	if genTimeout <= 0 {
		genTimeout = 60 * time.Second
	}
	return &Orchestrator{
		history:      hist,
		client:       client,
		ingestor:     ingestor,
		metrics:      metrics,
		systemPrompt: systemPrompt,
		genTimeout:   genTimeout,
	}
}

// Respond handles one chat request. The sink is only used once streaming
// begins; earlier failures (no content, bad image) come back in the Result so
// the transport can answer with a plain JSON body.
func (o *Orchestrator) Respond(ctx context.Context, userID string, req Request, sink Sink) Result {
	mode := "single"
	if req.Stream {
		mode = "stream"
	}

	res := o.respond(ctx, userID, req, sink)
	o.metrics.ChatRequests.WithLabelValues(mode, string(res.Outcome)).Inc()
	return res
}

func (o *Orchestrator) respond(ctx context.Context, userID string, req Request, sink Sink) Result {
	message := strings.TrimSpace(req.Message)
	if message == "" && len(req.Images) == 0 {
		return Result{Outcome: OutcomeNoContent, Message: MsgNoContent}
	}

	stored, err := o.history.Load(ctx, userID)
	if err != nil {
		// A degraded store only costs context, never the reply.
		log.Printf("convo: history load failed for user %s: %v", userID, err)
		stored = nil
	}

	urls, err := o.ingestor.IngestAll(ctx, req.Images)
	if err != nil {
		return o.ingestFailure(err)
	}

	userTurn := buildUserTurn(message, urls)

	prompt := make([]chat.Turn, 0, len(stored)+2)
	prompt = append(prompt, chat.SystemTurn(o.systemPrompt))
	prompt = append(prompt, stored...)
	prompt = append(prompt, userTurn)

	// Generation runs detached from the request context so a client
	// disconnect mid-stream cannot truncate the turn we commit.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.genTimeout)
	defer cancel()

	if req.Stream {
		return o.respondStreaming(genCtx, userID, prompt, userTurn, sink)
	}
	return o.respondSingle(genCtx, userID, prompt, userTurn)
}

func (o *Orchestrator) respondStreaming(ctx context.Context, userID string, prompt []chat.Turn, userTurn chat.Turn, sink Sink) Result {
	o.metrics.ActiveStreams.Inc()
	defer o.metrics.ActiveStreams.Dec()

	start := time.Now()
	stream, err := o.client.Stream(ctx, prompt)
	if err != nil {
		log.Printf("convo: generation start failed for user %s: %v", userID, err)
		_ = sink.Error(MsgGenerationFailed)
		return Result{Outcome: OutcomeFailed, Message: MsgGenerationFailed}
	}
	defer stream.Close()

	var reply strings.Builder
	forwarding := true
	first := true
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Partial text is discarded, not committed: a truncated answer
			// replayed as context can contradict what the user actually saw.
			log.Printf("convo: stream failed for user %s after %d bytes: %v", userID, reply.Len(), err)
			if forwarding {
				_ = sink.Error(MsgGenerationFailed)
			}
			return Result{Outcome: OutcomeFailed, Message: MsgGenerationFailed}
		}

		if first {
			o.metrics.ObserveFirstChunkLatency(time.Since(start))
			first = false
		}
		reply.WriteString(fragment)
		if forwarding {
			if err := sink.Chunk(fragment); err != nil {
				// Client gone. Keep draining so the full reply reaches history.
				forwarding = false
			} else {
				o.metrics.StreamChunks.Inc()
			}
		}
	}
	o.metrics.ObserveGenerationLatency(time.Since(start))

	if forwarding {
		_ = sink.Done()
	}
	o.commit(userID, userTurn, chat.AssistantTurn(reply.String()))
	return Result{Outcome: OutcomeCompleted, Reply: reply.String()}
}

func (o *Orchestrator) respondSingle(ctx context.Context, userID string, prompt []chat.Turn, userTurn chat.Turn) Result {
	start := time.Now()
	reply, err := o.client.Complete(ctx, prompt)
	if err != nil {
		log.Printf("convo: generation failed for user %s: %v", userID, err)
		return Result{Outcome: OutcomeFailed, Message: MsgGenerationFailed}
	}
	o.metrics.ObserveGenerationLatency(time.Since(start))

	o.commit(userID, userTurn, chat.AssistantTurn(reply))
	return Result{Outcome: OutcomeCompleted, Reply: reply}
}

// commit persists the turn pair after the client-visible response is settled.
// Losing history is an acceptable degradation; the reply already went out.
func (o *Orchestrator) commit(userID string, turns ...chat.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := o.history.Commit(ctx, userID, turns...); err != nil {
		o.metrics.PersistFailures.Inc()
		log.Printf("convo: history commit failed for user %s: %v", userID, err)
	}
}

func (o *Orchestrator) ingestFailure(err error) Result {
	var ingErr *ingest.Error
	if !errors.As(err, &ingErr) {
		o.metrics.IngestFailures.WithLabelValues("upload").Inc()
		log.Printf("convo: image ingestion failed: %v", err)
		return Result{Outcome: OutcomeIngestFailed, Message: "Sorry, an image could not be processed. Please try again."}
	}

	kind := "upload"
	msg := fmt.Sprintf("Sorry, image %d could not be uploaded. Please try again.", ingErr.Index+1)
	if ingErr.Malformed {
		kind = "malformed"
		msg = fmt.Sprintf("Image %d is not a valid image payload.", ingErr.Index+1)
	}
	o.metrics.IngestFailures.WithLabelValues(kind).Inc()
	log.Printf("convo: image ingestion failed: %v", err)
	return Result{Outcome: OutcomeIngestFailed, Message: msg}
}

func buildUserTurn(message string, urls []string) chat.Turn {
	if len(urls) == 0 {
		return chat.UserTurn(message)
	}

	blocks := make([]chat.ContentBlock, 0, len(urls)+1)
	if message != "" {
		blocks = append(blocks, chat.TextBlock(message))
	}
	for _, url := range urls {
		blocks = append(blocks, chat.ImageBlock(url))
	}
	return chat.UserBlocksTurn(blocks...)
}
