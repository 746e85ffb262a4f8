// Package ledger implements the crash-safe, resumable results ledger (C3):
// a versioned JSON document recording, for every candidate model variant,
// the per-question generation output and optional judge score.
package ledger

import "time"

// TokenLogprob is a single emitted token and the log-probability the server
// assigned to it.
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
	// Bytes is the raw UTF-8 byte sequence the server reported for Token,
	// when it differs from []byte(Token) (e.g. partial multi-byte runes).
	Bytes []byte `json:"bytes,omitempty"`
}

// Judgment is the judge model's similarity verdict for one QuestionResult,
// comparing a variant's answer against the base variant's answer.
type Judgment struct {
	JudgeModel string    `json:"judgeModel"`
	Score      int       `json:"score"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`

	// RawResponse preserves the judge's verbatim response body, populated
	// only when Reason could not be extracted after every parsing fallback
	// (§4.5 step 4) — kept strictly for diagnostics.
	RawResponse string `json:"rawResponse,omitempty"`
}

// QuestionResult is the per-question record of a variant's run.
type QuestionResult struct {
	QuestionID   string         `json:"questionId"`
	CategoryName string         `json:"categoryName"`
	Prompt       string         `json:"prompt"`
	Answer       string         `json:"answer"`
	Logprobs     []TokenLogprob `json:"logprobs,omitempty"`

	PromptTokensPerSecond float64 `json:"promptTokensPerSecond"`
	EvalTokensPerSecond   float64 `json:"evalTokensPerSecond"`
	TotalTokens           int     `json:"totalTokens"`

	// EffectiveContextLength is the context length actually used for this
	// question, after resolving question > category > suite precedence.
	EffectiveContextLength int `json:"effectiveContextLength"`

	Judgment *Judgment `json:"judgment,omitempty"`
}

// VariantResult is the per-variant aggregate: identity, resolved metadata,
// and the ordered list of QuestionResults appended as the executor runs.
type VariantResult struct {
	Tag            string `json:"tag"`
	ModelName      string `json:"modelName"`
	SizeBytes      int64  `json:"sizeBytes"`
	Family         string `json:"family"`
	ParameterSize  string `json:"parameterSize"`
	Quantization   string `json:"quantization"`
	IsBase         bool   `json:"isBase"`
	PulledOnDemand bool   `json:"pulledOnDemand"`

	QuestionResults []QuestionResult `json:"questionResults"`
}

// GenerationOptions is the generation-options snapshot recorded in the
// ledger so a later run can detect drift from the run that produced it.
type GenerationOptions struct {
	Temperature      float64 `json:"temperature"`
	Seed             int     `json:"seed"`
	TopP             float64 `json:"top_p"`
	TopK             int     `json:"top_k"`
	RepeatPenalty    float64 `json:"repeat_penalty,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
}

// ResultsLedger is the persisted root document (§6 "Persisted state").
type ResultsLedger struct {
	// RunID identifies the run that first created this ledger file. It is
	// stamped once, on creation, and never changes across resumes, so two
	// ledgers for the same test suite and model can still be told apart.
	RunID string `json:"runId,omitempty"`

	TestSuiteName string `json:"testSuiteName"`
	ModelName     string `json:"modelName"`
	RepositoryURL string `json:"repositoryUrl,omitempty"`

	OsyncVersion       string `json:"osyncVersion,omitempty"`
	OllamaVersion      string `json:"ollamaVersion,omitempty"`
	OllamaJudgeVersion string `json:"ollamaJudgeVersion,omitempty"`

	NumPredict    int `json:"numPredict,omitempty"`
	ContextLength int `json:"contextLength,omitempty"`

	Options GenerationOptions `json:"options"`

	Results []VariantResult `json:"results"`
}

// IsComplete reports whether v has an answer for every question in the
// suite — the resume predicate from §3.
func (v *VariantResult) IsComplete(totalQuestions int) bool {
	return len(v.QuestionResults) == totalQuestions
}

// FindVariant returns a pointer to the VariantResult for tag, or nil.
func (l *ResultsLedger) FindVariant(tag string) *VariantResult {
	for i := range l.Results {
		if l.Results[i].Tag == tag {
			return &l.Results[i]
		}
	}
	return nil
}

// BaseVariant returns the VariantResult marked IsBase, or nil if none is.
func (l *ResultsLedger) BaseVariant() *VariantResult {
	for i := range l.Results {
		if l.Results[i].IsBase {
			return &l.Results[i]
		}
	}
	return nil
}

// HasQuestion reports whether v already has a QuestionResult for id.
func (v *VariantResult) HasQuestion(id string) bool {
	for _, qr := range v.QuestionResults {
		if qr.QuestionID == id {
			return true
		}
	}
	return false
}
