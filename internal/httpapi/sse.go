package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseSink writes response events as server-sent events. Headers go out
// lazily on the first event so pre-stream failures can still answer with a
// plain JSON body.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	active  bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	flusher, _ := w.(http.Flusher)
	return &sseSink{w: w, flusher: flusher}
}

func (s *sseSink) started() bool { return s.active }

func (s *sseSink) Chunk(text string) error {
	return s.event(struct {
		Chunk string `json:"chunk"`
	}{text})
}

func (s *sseSink) Done() error {
	return s.event(struct {
		Done bool `json:"done"`
	}{true})
}

func (s *sseSink) Error(message string) error {
	return s.event(struct {
		Error string `json:"error"`
	}{message})
}

func (s *sseSink) event(v any) error {
	if !s.active {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.active = true
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
