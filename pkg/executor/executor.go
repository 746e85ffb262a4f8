// Package executor implements C6: driving one model variant through every
// question in a test suite, appending QuestionResults to the ledger as
// answers arrive so progress survives a crash or interruption (§4.6).
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mann1x/osync/pkg/inference"
	"github.com/mann1x/osync/pkg/ledger"
	"github.com/mann1x/osync/pkg/message"
	"github.com/mann1x/osync/pkg/metrics"
	"github.com/mann1x/osync/pkg/retry"
	"github.com/mann1x/osync/pkg/suite"
)

// preloadMaxAttempts is the retry budget for the warm-up chat call, smaller
// than the 5-attempt budget used for per-question generation (§4.6
// "Preload retries up to 3 times").
const preloadMaxAttempts = 3

// ErrPreloadFailed marks a preload failure: a permanent per-variant problem
// the orchestrator must skip rather than treat as a run-aborting error
// (§4.6 step 1, §7).
var ErrPreloadFailed = errors.New("executor: preload failed")

// Client is the subset of inference.Client the executor depends on.
type Client interface {
	Generate(ctx context.Context, model, prompt string, opts inference.Options) (*inference.GenerateResult, error)
	Chat(ctx context.Context, model string, messages []message.Message, opts inference.Options, schema json.RawMessage) (*inference.ChatResult, error)
}

// SaveFunc persists the ledger; the executor calls it after every question
// so partial progress is never lost (§3 "Save").
type SaveFunc func() error

// Options configures one executor run, derived from the suite defaults and
// the run's configured generation options (§4.6, §6).
type Options struct {
	NumPredict    int
	ContextLength int
	Generation    inference.Options
	WithLogprobs  bool
	RetryCfg      retry.NamedConfig

	// OnAnswer, if non-nil, is invoked synchronously right after a
	// QuestionResult is appended and saved, before the next question starts
	// generating. In-flight judgeMode uses this to dispatch that question's
	// judgment without waiting for the rest of the variant to finish
	// generating (§4.6 step 5, §4.7 "in-flight"). The callback must not
	// block the generation loop; it's expected to enqueue work (e.g. onto an
	// errgroup the caller owns) and return immediately.
	OnAnswer func(qr *ledger.QuestionResult)
}

// Executor runs a single variant against a test suite.
type Executor struct {
	client  Client
	opts    Options
	save    SaveFunc
	metrics *metrics.Metrics
}

// New constructs an Executor. m may be nil, in which case progress is not
// tracked.
func New(client Client, opts Options, save SaveFunc, m *metrics.Metrics) *Executor {
	return &Executor{client: client, opts: opts, save: save, metrics: m}
}

// RunVariant generates answers for every question in ts that variant does
// not already have, in suite order, appending each to variant and saving
// after every question. Preloading (a trivial chat request with "Hi") happens
// once, before the first question, retried up to 3 times with linear
// backoff; a preload failure aborts the whole variant (§4.6 step 1, §7).
func (e *Executor) RunVariant(ctx context.Context, ts *suite.TestSuite, model string, variant *ledger.VariantResult) error {
	if err := e.preload(ctx, model); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPreloadFailed, model, err)
	}

	// Reserve enough capacity up front that appending never reallocates the
	// backing array mid-run: OnAnswer callbacks may hold a pointer into this
	// slice (e.g. to attach a judgment concurrently), and a reallocation
	// would silently detach that pointer from what RunVariant later returns.
	if total := ts.NumQuestions(); cap(variant.QuestionResults) < total {
		grown := make([]ledger.QuestionResult, len(variant.QuestionResults), total)
		copy(grown, variant.QuestionResults)
		variant.QuestionResults = grown
	}

	lastEffectiveCtx := -1

	for ci := range ts.Categories {
		cat := &ts.Categories[ci]
		for qi := range cat.Questions {
			q := &cat.Questions[qi]
			qid := suite.QuestionID(cat.Name, q.ID)
			if variant.HasQuestion(qid) {
				continue
			}

			effectiveCtx := suite.EffectiveContextLength(ts, cat, q)
			if effectiveCtx != lastEffectiveCtx {
				slog.Info("effective context length changed", "variant", model, "category", cat.Name, "question", q.ID, "context_length", effectiveCtx)
				lastEffectiveCtx = effectiveCtx
			}

			qr, err := e.answerQuestion(ctx, model, qid, cat.Name, q.Prompt, effectiveCtx)
			if err != nil {
				return fmt.Errorf("executor: %s/%s: %w", cat.Name, q.ID, err)
			}

			variant.QuestionResults = append(variant.QuestionResults, *qr)
			if e.metrics != nil {
				e.metrics.IncQuestionsAnswered()
			}

			if e.save != nil {
				if err := e.save(); err != nil {
					return fmt.Errorf("executor: save after %s: %w", qid, err)
				}
			}

			if e.opts.OnAnswer != nil {
				e.opts.OnAnswer(&variant.QuestionResults[len(variant.QuestionResults)-1])
			}
		}
	}

	return nil
}

// preload issues a trivial chat request ("Hi") to warm the model on the
// server before any question is asked, using a dedicated 3-attempt retry
// budget distinct from the per-question generation budget (§4.6 step 1).
func (e *Executor) preload(ctx context.Context, model string) error {
	cfg := retry.NamedConfig{
		MaxAttempts:   preloadMaxAttempts,
		BaseDelay:     e.opts.RetryCfg.BaseDelay,
		RetryableFunc: inference.IsRetryable,
	}
	messages := []message.Message{message.User("Hi")}
	return retry.DoNamed(ctx, cfg, "executor.preload", func() error {
		_, err := e.client.Chat(ctx, model, messages, inference.Options{}, nil)
		return err
	})
}

func (e *Executor) answerQuestion(ctx context.Context, model, qid, categoryName, prompt string, effectiveCtx int) (*ledger.QuestionResult, error) {
	opts := e.opts.Generation
	if e.opts.NumPredict > 0 {
		opts.NumPredict = e.opts.NumPredict
	}
	opts.NumCtx = effectiveCtx
	opts.Logprobs = e.opts.WithLogprobs

	cfg := e.opts.RetryCfg
	cfg.RetryableFunc = inference.IsRetryable

	var result *inference.GenerateResult
	err := retry.DoNamed(ctx, cfg, "executor.generate", func() error {
		var genErr error
		result, genErr = e.client.Generate(ctx, model, prompt, opts)
		return genErr
	})
	if err != nil {
		return nil, err
	}

	qr := &ledger.QuestionResult{
		QuestionID:              qid,
		CategoryName:            categoryName,
		Prompt:                  prompt,
		Answer:                  result.Response,
		PromptTokensPerSecond:   result.Timings.PromptTokensPerSecond(),
		EvalTokensPerSecond:     result.Timings.EvalTokensPerSecond(),
		TotalTokens:             result.Timings.PromptEvalCount + result.Timings.EvalCount,
		EffectiveContextLength:  effectiveCtx,
	}

	if len(result.Logprobs) > 0 {
		qr.Logprobs = make([]ledger.TokenLogprob, len(result.Logprobs))
		for i, lp := range result.Logprobs {
			qr.Logprobs[i] = ledger.TokenLogprob{Token: lp.Token, Logprob: lp.Logprob, Bytes: lp.Bytes}
		}
	}

	return qr, nil
}
