// Package llamatest runs an in-process stand-in for llama-server so client
// and operations tests need neither a GPU nor model weights. It mimics the
// endpoints the tooling touches: /health, /props, /completion,
// /v1/chat/completions and /metrics.
package llamatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server wraps an httptest.Server that speaks just enough llama-server.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	loading     bool
	chatReply   string
	modelPath   string
	metrics     map[string]float64
	seenAuth    string
	seenPaths   []string
	failMetrics bool
}

// Option tweaks the fake before it starts serving.
type Option func(*Server)

// Loading makes /health answer 503 "loading model" until SetReady is called.
func Loading() Option {
	return func(s *Server) { s.loading = true }
}

// ChatReply sets the canned assistant answer.
func ChatReply(content string) Option {
	return func(s *Server) { s.chatReply = content }
}

// ModelPath sets what /props reports.
func ModelPath(p string) Option {
	return func(s *Server) { s.modelPath = p }
}

// Metric overrides one exported sample.
func Metric(name string, value float64) Option {
	return func(s *Server) { s.metrics[name] = value }
}

// NoMetrics makes /metrics answer 404, like a server started without
// --metrics.
func NoMetrics() Option {
	return func(s *Server) { s.failMetrics = true }
}

// New starts the fake. Callers own Close.
func New(opts ...Option) *Server {
	s := &Server{
		chatReply: "All systems nominal.",
		modelPath: "/srv/models/test.gguf",
		metrics: map[string]float64{
			"llamacpp:prompt_tokens_total":    1024,
			"llamacpp:tokens_predicted_total": 2048,
			"llamacpp:requests_processing":    0,
			"llamacpp:kv_cache_usage_ratio":   0.25,
		},
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(s.record)

	r.Get("/health", s.handleHealth)
	r.Get("/props", s.handleProps)
	r.Post("/completion", s.handleCompletion)
	r.Post("/v1/chat/completions", s.handleChat)
	r.Get("/metrics", s.handleMetrics)

	s.Server = httptest.NewServer(r)
	return s
}

// SetReady flips a Loading server to healthy.
func (s *Server) SetReady() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

// SeenAuth returns the last Authorization header observed.
func (s *Server) SeenAuth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenAuth
}

// SeenPaths returns every request path in arrival order.
func (s *Server) SeenPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seenPaths...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.seenPaths = append(s.seenPaths, r.URL.Path)
		s.seenAuth = r.Header.Get("Authorization")
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	loading := s.loading
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if loading {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "loading model"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleProps(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	mp := s.modelPath
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model_path":  mp,
		"total_slots": 2,
		"build_info":  "b4567-abcdef0",
	})
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	reply := s.chatReply
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"content":          reply,
		"stop":             true,
		"model":            "test",
		"tokens_predicted": 12,
		"tokens_evaluated": len(req.Prompt) / 4,
		"timings": map[string]float64{
			"prompt_per_second":    150.0,
			"predicted_per_second": 25.5,
			"prompt_ms":            80.0,
			"predicted_ms":         470.0,
		},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []map[string]string `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "messages required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	reply := s.chatReply
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"model":   "test",
		"created": 1700000000,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": reply},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{
			"prompt_tokens":     9,
			"completion_tokens": 12,
			"total_tokens":      21,
		},
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failMetrics
	names := make([]string, 0, len(s.metrics))
	for name := range s.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	vals := make(map[string]float64, len(s.metrics))
	for k, v := range s.metrics {
		vals[k] = v
	}
	s.mu.Unlock()

	if fail {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, name := range names {
		fmt.Fprintf(w, "# TYPE %s gauge\n%s %g\n", name, name, vals[name])
	}
}
