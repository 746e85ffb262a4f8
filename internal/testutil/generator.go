// Package testutil provides an in-memory Ollama-compatible HTTP server for
// exercising pkg/inference and pkg/orchestrator without a real inference
// server.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

// OllamaServer is a scriptable fake of the Ollama HTTP API surface used by
// this codebase: /api/generate, /api/chat, /api/pull, /api/delete,
// /api/tags, /api/show, /api/version.
type OllamaServer struct {
	Server *httptest.Server

	mu      sync.Mutex
	models  map[string]ModelDetails
	version string

	// GenerateFunc, when set, is called for every /api/generate request and
	// its return value used as the response body fields. A nil func returns
	// a default canned response.
	GenerateFunc func(model, prompt string) GenerateResponse

	// ChatFunc, when set, is called for every /api/chat request.
	ChatFunc func(model string, messages []ChatMessage) ChatResponse

	// PullDelay, if set, emits this many synthetic progress events before
	// completing a pull.
	PullDelay int

	generateCalls int64
	chatCalls     int64
	pullCalls     int64
	deleteCalls   int64
}

// ModelDetails mirrors inference.ModelDetails plus Size for /api/tags.
type ModelDetails struct {
	Family            string
	ParameterSize     string
	QuantizationLevel string
	Size              int64
}

// GenerateResponse is the scriptable result of a /api/generate call.
type GenerateResponse struct {
	Response        string
	Logprobs        []LogprobEntry
	Error           string
	PromptEvalCount int
	EvalCount       int
}

// LogprobEntry mirrors inference.LogprobEntry.
type LogprobEntry struct {
	Token   string
	Logprob float64
}

// ChatMessage mirrors the request shape of one chat message.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResponse is the scriptable result of a /api/chat call.
type ChatResponse struct {
	Content string
	Error   string
}

// NewOllamaServer starts a test server with no models registered. Use
// AddModel to seed its /api/tags and /api/show responses.
func NewOllamaServer() *OllamaServer {
	s := &OllamaServer{
		models:  make(map[string]ModelDetails),
		version: "0.5.1-test",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/pull", s.handlePull)
	mux.HandleFunc("/api/delete", s.handleDelete)
	mux.HandleFunc("/api/tags", s.handleTags)
	mux.HandleFunc("/api/show", s.handleShow)
	mux.HandleFunc("/api/version", s.handleVersion)
	s.Server = httptest.NewServer(mux)
	return s
}

// URL returns the server's base URL.
func (s *OllamaServer) URL() string { return s.Server.URL }

// Close shuts down the underlying httptest.Server.
func (s *OllamaServer) Close() { s.Server.Close() }

// AddModel registers name as present on the server with the given details.
func (s *OllamaServer) AddModel(name string, details ModelDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[name] = details
}

// RemoveModel deletes name from the server's model list, simulating a
// successful /api/delete.
func (s *OllamaServer) RemoveModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, name)
}

// GenerateCalls, ChatCalls, PullCalls, and DeleteCalls report how many times
// each endpoint has been hit, for assertions about retry/skip behavior.
func (s *OllamaServer) GenerateCalls() int64 { return atomic.LoadInt64(&s.generateCalls) }
func (s *OllamaServer) ChatCalls() int64     { return atomic.LoadInt64(&s.chatCalls) }
func (s *OllamaServer) PullCalls() int64     { return atomic.LoadInt64(&s.pullCalls) }
func (s *OllamaServer) DeleteCalls() int64   { return atomic.LoadInt64(&s.deleteCalls) }

func (s *OllamaServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.generateCalls, 1)
	var req struct {
		Model    string `json:"model"`
		Prompt   string `json:"prompt"`
		Logprobs bool   `json:"logprobs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := GenerateResponse{Response: "default response", PromptEvalCount: 10, EvalCount: 10}
	if s.GenerateFunc != nil {
		resp = s.GenerateFunc(req.Model, req.Prompt)
	}

	out := map[string]any{
		"response":          resp.Response,
		"done":              true,
		"prompt_eval_count": resp.PromptEvalCount,
		"eval_count":        resp.EvalCount,
		"total_duration":    int64(1_000_000),
	}
	if resp.Error != "" {
		out["error"] = resp.Error
	}
	if req.Logprobs && len(resp.Logprobs) > 0 {
		lps := make([]map[string]any, len(resp.Logprobs))
		for i, lp := range resp.Logprobs {
			lps[i] = map[string]any{"token": lp.Token, "logprob": lp.Logprob}
		}
		out["logprobs"] = lps
	}
	writeJSON(w, out)
}

func (s *OllamaServer) handleChat(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.chatCalls, 1)
	var req struct {
		Model    string `json:"model"`
		Messages []ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := ChatResponse{Content: `{"score": 75, "reason": "similar enough"}`}
	if s.ChatFunc != nil {
		resp = s.ChatFunc(req.Model, req.Messages)
	}

	out := map[string]any{
		"message": map[string]any{"role": "assistant", "content": resp.Content},
		"done":    true,
	}
	if resp.Error != "" {
		out["error"] = resp.Error
	}
	writeJSON(w, out)
}

func (s *OllamaServer) handlePull(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.pullCalls, 1)
	var req struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	for i := 0; i < s.PullDelay; i++ {
		fmt.Fprintf(w, `{"status":"downloading","completed":%d,"total":%d}`+"\n", i+1, s.PullDelay)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprintln(w, `{"status":"success"}`)

	// Freshly pulled models carry no family/size metadata by default so a
	// pull never trips the base-variant family/size mismatch check; tests
	// that care about that check register metadata explicitly beforehand.
	s.mu.Lock()
	if _, exists := s.models[req.Model]; !exists {
		s.models[req.Model] = ModelDetails{}
	}
	s.mu.Unlock()
}

func (s *OllamaServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.deleteCalls, 1)
	var req struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, ok := s.models[req.Model]
	delete(s.models, req.Model)
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"status": "success"})
}

func (s *OllamaServer) handleTags(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	models := make([]map[string]any, 0, len(s.models))
	for name, d := range s.models {
		models = append(models, map[string]any{"name": name, "size": d.Size})
	}
	writeJSON(w, map[string]any{"models": models})
}

func (s *OllamaServer) handleShow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	d, ok := findCaseInsensitive(s.models, req.Name)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "model not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"details": map[string]any{
			"family":             d.Family,
			"parameter_size":     d.ParameterSize,
			"quantization_level": d.QuantizationLevel,
		},
	})
}

func (s *OllamaServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"version": s.version})
}

func findCaseInsensitive(models map[string]ModelDetails, name string) (ModelDetails, bool) {
	if d, ok := models[name]; ok {
		return d, true
	}
	for k, d := range models {
		if strings.EqualFold(k, name) {
			return d, true
		}
	}
	return ModelDetails{}, false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
