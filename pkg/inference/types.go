package inference

import "github.com/mann1x/osync/pkg/message"

// Options enumerates the generation parameters forwarded to the inference
// server's /api/generate and /api/chat endpoints (§4.1, §6).
type Options struct {
	Temperature      float64 `json:"temperature,omitempty"`
	Seed             int     `json:"seed,omitempty"`
	TopP             float64 `json:"top_p,omitempty"`
	TopK             int     `json:"top_k,omitempty"`
	RepeatPenalty    float64 `json:"repeat_penalty,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
	NumPredict       int     `json:"num_predict,omitempty"`
	NumCtx           int     `json:"num_ctx,omitempty"`

	// Logprobs is transport-level for /api/generate only: it asks the
	// server to return per-token log-probabilities. /api/chat never
	// requests logprobs (the judge doesn't need them).
	Logprobs bool `json:"-"`
}

// LogprobEntry is one (token, logprob) pair from a generate response, with
// the server's raw byte sequence for the token when it differs from the
// UTF-8 encoding of Token (e.g. a partial multi-byte rune).
type LogprobEntry struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
	Bytes   []byte  `json:"bytes,omitempty"`
}

// Timings is the server-reported performance data attached to a completed
// (non-streamed) generation.
type Timings struct {
	TotalNs              int64 `json:"total_ns"`
	LoadNs               int64 `json:"load_ns"`
	PromptEvalCount      int   `json:"prompt_eval_count"`
	PromptEvalDurationNs int64 `json:"prompt_eval_duration_ns"`
	EvalCount            int   `json:"eval_count"`
	EvalDurationNs       int64 `json:"eval_duration_ns"`
}

// PromptTokensPerSecond computes the prompt-processing throughput, or 0 when
// the duration is unknown (§4.6 step 3).
func (t Timings) PromptTokensPerSecond() float64 {
	return ratePerSecond(t.PromptEvalCount, t.PromptEvalDurationNs)
}

// EvalTokensPerSecond computes the generation throughput, or 0 when the
// duration is unknown.
func (t Timings) EvalTokensPerSecond() float64 {
	return ratePerSecond(t.EvalCount, t.EvalDurationNs)
}

func ratePerSecond(count int, durationNs int64) float64 {
	if durationNs <= 0 {
		return 0
	}
	return float64(count) / (float64(durationNs) / 1e9)
}

// GenerateResult is the parsed response to a /api/generate call.
type GenerateResult struct {
	Response string
	Logprobs []LogprobEntry
	Timings  Timings
}

// ChatResult is the parsed response to a /api/chat call.
type ChatResult struct {
	Message message.Message
	Timings Timings
}

// PullEvent is one line of the NDJSON stream from /api/pull.
type PullEvent struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ModelInfo is one entry from /api/tags.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ModelDetails is the /api/show response needed to resolve VariantMetadata.
type ModelDetails struct {
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}
