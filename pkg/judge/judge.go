// Package judge implements C5: scoring a candidate variant's answer against
// the base variant's answer for one question, using a configured judge
// model. Judge output is free-form LLM text that is nominally JSON but
// frequently truncated or lightly malformed, so parsing goes through a
// tolerant fallback pipeline (§4.5) before a question is given up on.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mann1x/osync/pkg/inference"
	"github.com/mann1x/osync/pkg/ledger"
	"github.com/mann1x/osync/pkg/message"
	"github.com/mann1x/osync/pkg/retry"
)

// Client is the subset of inference.Client the judge depends on.
type Client interface {
	Chat(ctx context.Context, model string, messages []message.Message, opts inference.Options, schema json.RawMessage) (*inference.ChatResult, error)
}

// responseSchema is forwarded as the "format" field on every judge chat
// call, asking servers that support structured output to honor the shape
// directly; the tolerant parsing pipeline below exists for the servers (and
// judge models) that don't (§4.5).
var responseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"score": {"type": "integer"},
		"reason": {"type": "string"}
	},
	"required": ["score", "reason"]
}`)

// systemPrompt establishes the judge's role as a similarity evaluator: it
// compares two answers to each other, never to some external notion of
// correctness (§4.5).
const systemPrompt = `You are an impartial judge comparing two candidate answers to the same question ` +
	`for SIMILARITY, not correctness. You are not grading whether either answer is right; you are ` +
	`scoring how closely RESPONSE B matches RESPONSE A in meaning and substance, on a scale from ` +
	`1 (completely different) to 100 (equivalent). Respond with a single JSON object: ` +
	`{"score": <integer 1-100>, "reason": "<one sentence>"}.`

const responseMarkerA = "--- RESPONSE A ---"
const responseMarkerAEnd = "--- END RESPONSE A ---"
const responseMarkerB = "--- RESPONSE B ---"
const responseMarkerBEnd = "--- END RESPONSE B ---"

// Judge scores candidate answers against a reference, using model.
type Judge struct {
	client        Client
	model         string
	retryCfg      retry.NamedConfig
	maxEmptyRetry int
}

// New constructs a Judge. retryCfg governs transport-level retry of the
// underlying chat call (§4.5, reusing C4's named-retry contract).
func New(client Client, model string, retryCfg retry.NamedConfig) *Judge {
	if retryCfg.RetryableFunc == nil {
		retryCfg.RetryableFunc = inference.IsRetryable
	}
	return &Judge{
		client:        client,
		model:         model,
		retryCfg:      retryCfg,
		maxEmptyRetry: 5,
	}
}

// Model returns the judge model tag this Judge scores with, used by callers
// to decide whether a prior Judgment needs re-scoring (§4.7 "a judgment is
// needed iff ... prior Judgment's judgeModel differs from the current one").
func (j *Judge) Model() string { return j.model }

// Score judges candidateAnswer against referenceAnswer for question and
// returns a populated ledger.Judgment. If every parsing fallback fails to
// recover a non-empty reason, the call is retried (same prompt) up to
// maxEmptyRetry times before giving up and recording the raw response
// (§4.5 step 4, "Empty-reason retry").
func (j *Judge) Score(ctx context.Context, question, referenceAnswer, candidateAnswer string) (*ledger.Judgment, error) {
	prompt := buildPrompt(question, referenceAnswer, candidateAnswer)
	messages := []message.Message{
		message.System(systemPrompt),
		message.User(prompt),
	}

	var last parsedJudgment
	var lastRaw string
	for attempt := 0; attempt <= j.maxEmptyRetry; attempt++ {
		var result *inference.ChatResult
		err := retry.DoNamed(ctx, j.retryCfg, "judge.chat", func() error {
			var callErr error
			result, callErr = j.client.Chat(ctx, j.model, messages, inference.Options{}, responseSchema)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("judge: chat call: %w", err)
		}

		raw := result.Message.Content
		lastRaw = raw
		parsed := parseJudgment(raw)
		last = parsed
		if parsed.reason != "" {
			return &ledger.Judgment{
				JudgeModel: j.model,
				Score:      normalizeScore(parsed.score),
				Reason:     parsed.reason,
				Timestamp:  time.Now(),
			}, nil
		}
	}

	return &ledger.Judgment{
		JudgeModel:  j.model,
		Score:       normalizeScore(last.score),
		Reason:      "",
		Timestamp:   time.Now(),
		RawResponse: lastRaw,
	}, nil
}

// buildPrompt lays out the question (for context only) and the two answers
// delimited by the literal markers the judge is instructed to read (§4.5
// "Prompting protocol"). Response A is always the base/reference answer;
// Response B is always the candidate being scored.
func buildPrompt(question, referenceAnswer, candidateAnswer string) string {
	var b strings.Builder
	b.WriteString("QUESTION (for context only, do not grade correctness):\n")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(responseMarkerA)
	b.WriteString("\n")
	b.WriteString(referenceAnswer)
	b.WriteString("\n")
	b.WriteString(responseMarkerAEnd)
	b.WriteString("\n\n")
	b.WriteString(responseMarkerB)
	b.WriteString("\n")
	b.WriteString(candidateAnswer)
	b.WriteString("\n")
	b.WriteString(responseMarkerBEnd)
	return b.String()
}

type parsedJudgment struct {
	score  float64
	reason string
}

var (
	// Fallback cascade for when direct JSON decode fails. Ordered from most
	// to least specific so a well-formed field wins over a bare number.
	// score/similarity accept an integer or decimal value (§4.5 step 3).
	scoreFieldPattern = regexp.MustCompile(`(?i)"?(?:score|similarity)"?\s*[:=]\s*(\d+(?:\.\d+)?)`)
	bareScorePattern  = regexp.MustCompile(`\b(\d{1,3})\s*/\s*100\b`)

	// Reason extraction cascade (§4.5 step 4), most specific first:
	// 1. a properly escaped JSON string value for reason/response/explanation.
	reasonEscapedJSON = regexp.MustCompile(`(?is)"(?:reason|response|explanation)"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	// 2. the same keys with lenient (possibly unescaped) single or double quotes.
	reasonLenientQuotes = regexp.MustCompile(`(?is)['"]?(?:reason|response|explanation)['"]?\s*[:=]\s*['"](.*?)['"]\s*[,}]`)
	// 3. a bare "key: <text to end of line>" form with no closing quote.
	reasonKeyColon = regexp.MustCompile(`(?i)(?:reason|response|explanation)\s*[:\-]\s*"?(.+)`)
	// 4. a truncated value: an opening quote after the key with no closer,
	// running to the end of the string (e.g. num_predict cut the model off
	// mid-sentence).
	reasonTruncatedTrailing = regexp.MustCompile(`(?is)"(?:reason|response|explanation)"\s*:\s*"((?:[^"\\]|\\.)*)$`)
)

// parseJudgment runs the tolerant parsing pipeline over one judge response:
// a direct JSON decode, then a truncation repair pass, then regex
// extraction of score and reason independently (§4.5 steps 1-3).
func parseJudgment(raw string) parsedJudgment {
	trimmed := strings.TrimSpace(raw)
	trimmed = stripCodeFence(trimmed)

	if pj, ok := decodeJudgment(trimmed); ok {
		return pj
	}

	if repaired := repairTruncatedJSON(trimmed); repaired != trimmed {
		if pj, ok := decodeJudgment(repaired); ok {
			return pj
		}
	}

	return parsedJudgment{
		score:  extractScore(trimmed),
		reason: extractReason(trimmed),
	}
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// decodeJudgment parses s as a JSON object and reads the score/similarity
// and reason/response/explanation fields case-insensitively (§4.5 step 1,
// §9 "Judge response variance"). encoding/json already matches field names
// case-insensitively when no exact match exists, but it only tries one tag
// per struct field, so the two accepted aliases for each value need their
// own fields tried in turn.
func decodeJudgment(s string) (parsedJudgment, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return parsedJudgment{}, false
	}

	score, hasScore := lookupNumber(doc, "score")
	if !hasScore {
		score, hasScore = lookupNumber(doc, "similarity")
	}

	reason, hasReason := lookupString(doc, "reason")
	if !hasReason {
		reason, hasReason = lookupString(doc, "response")
	}
	if !hasReason {
		reason, hasReason = lookupString(doc, "explanation")
	}

	if !hasScore && !hasReason {
		return parsedJudgment{}, false
	}
	return parsedJudgment{score: score, reason: strings.TrimSpace(reason)}, true
}

// lookupNumber finds key in doc case-insensitively and parses its value as a
// number, accepting either a JSON number or a numeric string.
func lookupNumber(doc map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := lookupRaw(doc, key)
	if !ok {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func lookupString(doc map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := lookupRaw(doc, key)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func lookupRaw(doc map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	for k, v := range doc {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// repairTruncatedJSON handles the common case of a judge model's response
// being cut off mid-string or mid-object by num_predict: it tracks
// string/escape state while scanning, counts unmatched quotes and closing
// braces/brackets, and appends whatever closers are missing so the document
// becomes parseable (§4.5 step 2).
func repairTruncatedJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	s = s[start:]

	inString := false
	escaped := false
	depthObj := 0
	depthArr := 0
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if r == '\\' {
				escaped = true
				continue
			}
			if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depthObj++
		case '}':
			depthObj--
		case '[':
			depthArr++
		case ']':
			depthArr--
		}
	}

	if inString {
		s += `"`
	}
	for i := 0; i < depthArr; i++ {
		s += "]"
	}
	for i := 0; i < depthObj; i++ {
		s += "}"
	}
	return s
}

func extractScore(s string) float64 {
	if m := scoreFieldPattern.FindStringSubmatch(s); len(m) == 2 {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return f
		}
	}
	if m := bareScorePattern.FindStringSubmatch(s); len(m) == 2 {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return f
		}
	}
	return 0
}

// extractReason runs the four-pattern cascade of §4.5 step 4, most specific
// first, returning the first non-empty match.
func extractReason(s string) string {
	for _, pattern := range []*regexp.Regexp{reasonEscapedJSON, reasonLenientQuotes, reasonKeyColon, reasonTruncatedTrailing} {
		if m := pattern.FindStringSubmatch(s); len(m) == 2 {
			if r := strings.TrimSpace(unescapeJSON(m[1])); r != "" {
				return r
			}
		}
	}
	return ""
}

func unescapeJSON(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err == nil {
		return out
	}
	return s
}

// normalizeScore applies the single, well-ordered normalization pipeline
// (§4.5 step 5, §9 "do not mix strategies"): a value in (0, 1] is treated as
// a fraction and scaled to the 1-100 range, then everything is clamped to
// [1, 100], with zero or negative values floored to 1.
func normalizeScore(score float64) int {
	if score > 0 && score <= 1.0 {
		score *= 100
	}
	rounded := int(score + 0.5)
	if rounded < 1 {
		return 1
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}
