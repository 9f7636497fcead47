package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"medichat/internal/chat"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// Matches the upstream call parameters of the original deployment.
	temperature        = 0.5
	completeMaxTokens  = 800
	streamDoneSentinel = "[DONE]"
)

// OpenAIClient is a focused chat-completions client. Only the fields this
// service needs are modelled; request deadlines come from the caller's
// context, not a client-wide timeout, because streamed responses stay open
// for the whole generation.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &OpenAIClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    base,
		model:      cfg.Model,
		httpClient: &http.Client{},
	}
}

// HTTPStatusError captures non-2xx upstream responses. The body is kept for
// logs; user-facing messages never include it.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Body)
}

type chatRequest struct {
	Model       string      `json:"model"`
	Messages    []chat.Turn `json:"messages"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, turns []chat.Turn) (string, error) {
	res, err := c.post(ctx, chatRequest{
		Model:       c.model,
		Messages:    turns,
		Temperature: temperature,
		MaxTokens:   completeMaxTokens,
	})
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, turns []chat.Turn) (Stream, error) {
	res, err := c.post(ctx, chatRequest{
		Model:       c.model,
		Messages:    turns,
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &openaiStream{body: res.Body, scanner: scanner}, nil
}

func (c *OpenAIClient) post(ctx context.Context, req chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		_ = res.Body.Close()
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: string(body)}
	}
	return res, nil
}

// openaiStream consumes the SSE body line by line, yielding one delta per
// Recv call.
type openaiStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *openaiStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == streamDoneSentinel {
			s.done = true
			return "", io.EOF
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.done = true
		return "", fmt.Errorf("openai: stream read: %w", err)
	}
	// Upstream closed without the done sentinel; treat the stream as complete.
	s.done = true
	return "", io.EOF
}

func (s *openaiStream) Close() error {
	return s.body.Close()
}
