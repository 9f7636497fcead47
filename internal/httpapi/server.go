package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"medichat/internal/config"
	"medichat/internal/convo"
	"medichat/internal/history"
	"medichat/internal/observability"
)

// Orchestrator drives one chat request through generation and history commit.
type Orchestrator interface {
	Respond(ctx context.Context, userID string, req convo.Request, sink convo.Sink) convo.Result
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	store        history.Store
	metrics      *observability.Metrics
	storeMode    string
}

func New(cfg config.Config, orchestrator Orchestrator, store history.Store, metrics *observability.Metrics, storeMode string) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		metrics:      metrics,
		storeMode:    storeMode,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	if s.cfg.AllowAnyOrigin {
		r.Use(cors.Handler(cors.Options{
			AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.withIdentity)
		r.Post("/api/chat", s.handleChat)
		r.Post("/api/clear", s.handleClear)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"history_backend": s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"history_backend": s.storeMode,
	})
}

type chatRequest struct {
	Message string   `json:"message"`
	Image   string   `json:"image"`
	Images  []string `json:"images"`
	Stream  *bool    `json:"stream"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}

	// A single image and an image list are both accepted; normalize into one
	// ordered list before handing off.
	images := make([]string, 0, len(req.Images)+1)
	if strings.TrimSpace(req.Image) != "" {
		images = append(images, req.Image)
	}
	images = append(images, req.Images...)

	streaming := true
	if req.Stream != nil {
		streaming = *req.Stream
	}

	userID := userIDFrom(r.Context())
	convoReq := convo.Request{
		Message: req.Message,
		Images:  images,
		Stream:  streaming,
	}

	if !streaming {
		res := s.orchestrator.Respond(r.Context(), userID, convoReq, nil)
		switch res.Outcome {
		case convo.OutcomeCompleted:
			respondJSON(w, http.StatusOK, chatResponse{Response: res.Reply})
		default:
			// Input and generation failures are normal responses, not HTTP
			// errors, mirroring the non-streamed wire contract.
			respondJSON(w, http.StatusOK, chatResponse{Response: res.Message})
		}
		return
	}

	sink := newSSESink(w)
	res := s.orchestrator.Respond(r.Context(), userID, convoReq, sink)
	if !sink.started() {
		// Streaming never began (no content, bad image); answer with a plain
		// JSON body instead of an event stream.
		respondJSON(w, http.StatusOK, chatResponse{Response: res.Message})
	}
}

type clearResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	if err := s.store.Clear(r.Context(), userID); err != nil {
		s.metrics.ClearRequests.WithLabelValues("error").Inc()
		respondJSON(w, http.StatusOK, clearResponse{
			Status:  "error",
			Message: "Could not clear the conversation. Please try again.",
		})
		return
	}

	s.metrics.ClearRequests.WithLabelValues("success").Inc()
	respondJSON(w, http.StatusOK, clearResponse{
		Status:  "success",
		Message: "Conversation cleared.",
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
