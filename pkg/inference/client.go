// Package inference implements C1, the client that speaks the bit-exact
// Ollama-style HTTP surface (§6) used for both the model under test and,
// when configured, the judge model.
//
// Streaming endpoints (chat/generate with stream=true is never used by this
// client — only pull streams) are consumed incrementally: the HTTP response
// body is handed to a line scanner as bytes arrive, never buffered whole
// (§4.1, §9 "Streaming HTTP").
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mann1x/osync/pkg/message"
)

// httpDoer is the minimal transport surface Client needs. *http.Client
// satisfies it directly; so does pkg/ratelimit.RateLimitedHTTPClient, which
// the orchestrator wraps around it for the judge server when judge calls are
// allowed to fan out concurrently (§5 "bounded backpressure").
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a small JSON-first HTTP client for one inference server.
type Client struct {
	httpClient httpDoer
	baseURL    string
}

// New constructs a Client pointed at baseURL with the given per-call
// timeout. A zero timeout means no timeout, appropriate for the caller
// wrapping pull (§5 "Timeouts": pull has no per-request timeout).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// NewWithDoer constructs a Client that issues requests through doer instead
// of a plain *http.Client, e.g. a rate-limited transport wrapper.
func NewWithDoer(baseURL string, doer httpDoer) *Client {
	return &Client{httpClient: doer, baseURL: baseURL}
}

type generateRequest struct {
	Model    string   `json:"model"`
	Prompt   string   `json:"prompt"`
	Stream   bool     `json:"stream"`
	Logprobs bool     `json:"logprobs,omitempty"`
	Options  *Options `json:"options,omitempty"`
}

type generateResponse struct {
	Response            string         `json:"response"`
	Done                bool           `json:"done"`
	Logprobs            []LogprobEntry `json:"logprobs,omitempty"`
	Error               string         `json:"error,omitempty"`
	TotalDuration       int64          `json:"total_duration"`
	LoadDuration        int64          `json:"load_duration"`
	PromptEvalCount     int            `json:"prompt_eval_count"`
	PromptEvalDuration  int64          `json:"prompt_eval_duration"`
	EvalCount           int            `json:"eval_count"`
	EvalDuration        int64          `json:"eval_duration"`
}

// Generate issues a single, non-streamed generation request (§4.1).
// Returns ErrUnsupported if logprobs was requested but the server's
// response carries none.
func (c *Client) Generate(ctx context.Context, model, prompt string, opts Options) (*GenerateResult, error) {
	reqBody := generateRequest{
		Model:    model,
		Prompt:   prompt,
		Stream:   false,
		Logprobs: opts.Logprobs,
		Options:  &opts,
	}

	var resp generateResponse
	if err := c.postJSON(ctx, "/api/generate", reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("inference: generate: %s", resp.Error)
	}
	if opts.Logprobs && len(resp.Logprobs) == 0 {
		return nil, fmt.Errorf("%w: server returned empty logprobs for model %q; upgrade the inference server to a version that supports logprobs", ErrUnsupported, model)
	}

	return &GenerateResult{
		Response: resp.Response,
		Logprobs: resp.Logprobs,
		Timings: Timings{
			TotalNs:              resp.TotalDuration,
			LoadNs:               resp.LoadDuration,
			PromptEvalCount:      resp.PromptEvalCount,
			PromptEvalDurationNs: resp.PromptEvalDuration,
			EvalCount:            resp.EvalCount,
			EvalDurationNs:       resp.EvalDuration,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *Options      `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done                bool   `json:"done"`
	Error               string `json:"error,omitempty"`
	TotalDuration       int64  `json:"total_duration"`
	LoadDuration        int64  `json:"load_duration"`
	PromptEvalCount     int    `json:"prompt_eval_count"`
	PromptEvalDuration  int64  `json:"prompt_eval_duration"`
	EvalCount           int    `json:"eval_count"`
	EvalDuration        int64  `json:"eval_duration"`
}

// Chat issues a single, non-streamed chat request (§4.1). schema, when
// non-nil, is forwarded verbatim as the "format" JSON-schema hint.
func (c *Client) Chat(ctx context.Context, model string, messages []message.Message, opts Options, schema json.RawMessage) (*ChatResult, error) {
	msgs := make([]chatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}

	reqBody := chatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
		Format:   schema,
		Options:  &opts,
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/api/chat", reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("inference: chat: %s", resp.Error)
	}

	return &ChatResult{
		Message: message.Message{Role: message.Role(resp.Message.Role), Content: resp.Message.Content},
		Timings: Timings{
			TotalNs:              resp.TotalDuration,
			LoadNs:               resp.LoadDuration,
			PromptEvalCount:      resp.PromptEvalCount,
			PromptEvalDurationNs: resp.PromptEvalDuration,
			EvalCount:            resp.EvalCount,
			EvalDurationNs:       resp.EvalDuration,
		},
	}, nil
}

type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// Pull requests that the server fetch model and returns a lazy, finite,
// non-restartable stream of progress events. The returned channels are
// closed when the pull finishes, the context is cancelled, or an error
// occurs; callers must drain events until the channel closes (§4.1, §9).
func (c *Client) Pull(ctx context.Context, model string) (<-chan PullEvent, <-chan error) {
	events := make(chan PullEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		body, err := json.Marshal(pullRequest{Model: model, Stream: true})
		if err != nil {
			errs <- fmt.Errorf("inference: marshal pull request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("inference: build pull request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			errs <- newStatusError(resp, b)
			return
		}

		// Headers are already read; the body is consumed incrementally as
		// bytes arrive so pull progress is observed in real time, never
		// buffered whole.
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var ev PullEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}
			if ev.Error != "" {
				errs <- fmt.Errorf("inference: pull %s: %s", model, ev.Error)
				return
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("inference: pull stream: %w", err)
		}
	}()

	return events, errs
}

type deleteRequest struct {
	Model string `json:"model"`
}

// Delete removes model from the server. A 404 is treated as success — the
// model is already gone, which is the caller's desired end state.
func (c *Client) Delete(ctx context.Context, model string) error {
	body, err := json.Marshal(deleteRequest{Model: model})
	if err != nil {
		return fmt.Errorf("inference: marshal delete request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("inference: build delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return newStatusError(resp, b)
	}
	return nil
}

// List returns every model currently present on the server.
func (c *Client) List(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Models []ModelInfo `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Show resolves a model's family/parameter-size/quantization metadata.
func (c *Client) Show(ctx context.Context, name string) (*ModelDetails, error) {
	req := struct {
		Name string `json:"name"`
	}{Name: name}

	var resp struct {
		Details ModelDetails `json:"details"`
	}
	if err := c.postJSON(ctx, "/api/show", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Details, nil
}

// Version returns the server's reported version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("inference: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("inference: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return newStatusError(resp, respBody)
	}
	if len(respBody) == 0 {
		return fmt.Errorf("inference: empty response body from %s", path)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("inference: decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("inference: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("inference: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return newStatusError(resp, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("inference: decode response from %s: %w", path, err)
	}
	return nil
}
