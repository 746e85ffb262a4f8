// Package orchestrator implements C8: the top-level run loop that ties
// configuration, the model registry, the ledger, the executor, the
// judgment scheduler, and graceful cancellation together into one
// end-to-end benchmark run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mann1x/osync/pkg/executor"
	"github.com/mann1x/osync/pkg/inference"
	"github.com/mann1x/osync/pkg/judge"
	"github.com/mann1x/osync/pkg/ledger"
	"github.com/mann1x/osync/pkg/metrics"
	"github.com/mann1x/osync/pkg/modelregistry"
	"github.com/mann1x/osync/pkg/ratelimit"
	"github.com/mann1x/osync/pkg/retry"
	"github.com/mann1x/osync/pkg/scheduler"
	"github.com/mann1x/osync/pkg/suite"
)

// defaultBaseTag is used when neither the ledger nor the configuration
// names a base variant (§4.8 step 6).
const defaultBaseTag = "fp16"

// errVariantSkip marks a permanent, per-variant-only failure: the
// orchestrator logs it and continues with the next variant instead of
// aborting the whole run (§4.8 step 7, §7 "per-variant failure").
var errVariantSkip = errors.New("orchestrator: variant skipped")

// Config is the fully resolved set of inputs for one run (§6).
type Config struct {
	TestSuitePath string
	LedgerPath    string
	ModelName     string
	RepositoryURL string

	Variants []string
	BaseTag  string

	ServerURL      string
	JudgeServerURL string
	JudgeModel     string

	NumPredict    int
	ContextLength int
	WithLogprobs  bool
	Generation    inference.Options

	PullOnDemand   bool
	DeleteAfterRun bool

	// Force re-runs a variant even if the ledger already marks it complete
	// (§4.8 step 7, §9 open question: prior Judgments of other variants are
	// preserved unless Rejudge is also set).
	Force bool
	// Rejudge re-scores every QuestionResult's Judgment even if one already
	// exists from the current judge model, without touching answer text
	// (§8 "round-trip and idempotence").
	Rejudge bool

	Mode             scheduler.Mode
	JudgeConcurrency int

	RequestTimeout int // seconds; 0 = no timeout
}

// Orchestrator runs Config.Run, wiring every component together.
type Orchestrator struct {
	cfg Config

	testClient  *inference.Client
	judgeClient *inference.Client
	registry    *modelregistry.Registry
	sched       *scheduler.Scheduler
	Metrics     *metrics.Metrics

	ledgerMu sync.Mutex
	l        *ledger.ResultsLedger
}

// New constructs an Orchestrator from a resolved Config.
func New(cfg Config) *Orchestrator {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	testClient := inference.New(cfg.ServerURL, timeout)

	judgeURL := cfg.JudgeServerURL
	if judgeURL == "" {
		judgeURL = cfg.ServerURL
	}

	var judgeClient *inference.Client
	if cfg.JudgeConcurrency > 0 && cfg.Mode != scheduler.ModeSerial {
		// Smooth bursts of concurrent judge calls at the transport level
		// instead of letting JudgeConcurrency goroutines all dial the judge
		// server in the same instant (§5 "bounded backpressure").
		limiter := ratelimit.NewLimiter(float64(cfg.JudgeConcurrency), float64(cfg.JudgeConcurrency))
		doer := ratelimit.NewRateLimitedHTTPClient(&http.Client{Timeout: timeout}, limiter)
		judgeClient = inference.NewWithDoer(judgeURL, doer)
	} else {
		judgeClient = inference.New(judgeURL, timeout)
	}

	return &Orchestrator{
		cfg:         cfg,
		testClient:  testClient,
		judgeClient: judgeClient,
		registry:    modelregistry.New(testClient),
		sched:       scheduler.New(scheduler.Options{Mode: cfg.Mode, JudgeConcurrency: cfg.JudgeConcurrency}),
		Metrics:     &metrics.Metrics{},
	}
}

// saveLedger serializes concurrent saves: parallel/in-flight judgment tasks
// mutate and persist the shared ledger concurrently with each other and
// with the main loop (§5 "Saves happen only from the orchestrator thread").
func (o *Orchestrator) saveLedger() error {
	o.ledgerMu.Lock()
	defer o.ledgerMu.Unlock()
	return ledger.Save(o.cfg.LedgerPath, o.l)
}

// pendingJudgment is a background judgment fan-out for one variant, started
// without blocking the variant loop and drained after every variant has
// finished generating (§4.7 "parallel"/"in-flight", §4.8 step 8).
type pendingJudgment struct {
	tag  string
	wait func() error
}

// Run executes the full benchmark: resolve variants, load/repair the
// ledger, run each variant's generation strictly in order, score variants
// against the base per the configured judge mode, and save. ctx
// cancellation (e.g. SIGINT) aborts the request in flight, whose answer is
// not recorded, and still saves the ledger before returning, so a Ctrl-C
// never loses completed work (§7 "Cancellation").
func (o *Orchestrator) Run(ctx context.Context) error {
	ts, err := suite.Load(o.cfg.TestSuitePath)
	if err != nil {
		return fmt.Errorf("orchestrator: load test suite: %w", err)
	}

	variants, err := o.registry.ExpandAll(ctx, o.cfg.Variants)
	if err != nil {
		return fmt.Errorf("orchestrator: expand variants: %w", err)
	}
	if len(variants) == 0 {
		return fmt.Errorf("orchestrator: no variants resolved from %v", o.cfg.Variants)
	}

	if err := o.preVerifyVariants(ctx, variants); err != nil {
		return err
	}

	if o.cfg.JudgeModel != "" {
		if _, err := o.registry.Metadata(ctx, o.cfg.JudgeModel); err != nil {
			return fmt.Errorf("orchestrator: judge model %s not available: %w", o.cfg.JudgeModel, err)
		}
	}

	provisionalBase := o.cfg.BaseTag
	if provisionalBase == "" {
		provisionalBase = defaultBaseTag
	}

	o.l, err = ledger.Load(o.cfg.LedgerPath, ts.Name, o.cfg.ModelName, provisionalBase)
	if err != nil {
		return fmt.Errorf("orchestrator: load ledger: %w", err)
	}
	o.l.RepositoryURL = o.cfg.RepositoryURL
	o.l.NumPredict = o.cfg.NumPredict
	o.l.ContextLength = o.cfg.ContextLength
	o.Metrics.VariantsTotal = int64(len(variants))

	// §4.8 step 6: a base already marked in the ledger wins over the
	// configured/default tag, so a resumed run keeps using the same base
	// even if the configuration changed between runs.
	baseTag := provisionalBase
	if b := o.l.BaseVariant(); b != nil {
		baseTag = b.Tag
	}
	variants = putFirst(variants, baseTag)

	for _, tag := range variants {
		if o.l.FindVariant(tag) == nil {
			o.l.Results = append(o.l.Results, ledger.VariantResult{Tag: tag, IsBase: tag == baseTag})
		}
	}

	var pending []pendingJudgment
	for _, tag := range variants {
		if ctx.Err() != nil {
			break
		}

		inflight, err := o.runVariant(ctx, ts, tag, baseTag)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if errors.Is(err, errVariantSkip) {
				slog.Error("variant failed, skipping", "variant", tag, "error", err)
				continue
			}
			if saveErr := o.saveLedger(); saveErr != nil {
				return fmt.Errorf("orchestrator: %w (and failed to save ledger: %v)", err, saveErr)
			}
			return fmt.Errorf("orchestrator: %w", err)
		}
		o.Metrics.IncVariantsCompleted()
		if inflight != nil {
			pending = append(pending, *inflight)
		}

		// ModeInFlight dispatches judgment per question as answers are
		// generated (via executor.Options.OnAnswer), but only when
		// generation actually ran this call; a variant that was already
		// complete (e.g. resumed, or only needing a rejudge) never goes
		// through that path and still needs the batch fallback below.
		// Serial and parallel modes always judge the variant as a whole.
		if o.cfg.JudgeModel != "" && tag != baseTag && (o.sched.Mode() != scheduler.ModeInFlight || inflight == nil) {
			p, err := o.dispatchJudgment(ctx, baseTag, tag)
			if err != nil {
				if saveErr := o.saveLedger(); saveErr != nil {
					return fmt.Errorf("orchestrator: judge %s: %w (and failed to save ledger: %v)", tag, err, saveErr)
				}
				return fmt.Errorf("orchestrator: judge %s: %w", tag, err)
			}
			if p != nil {
				pending = append(pending, *p)
			}
		}
	}

	// Drain every background judgment task before the final save, in the
	// order the variants were run (§4.8 step 8).
	var drainErr error
	for _, p := range pending {
		if err := p.wait(); err != nil && drainErr == nil {
			drainErr = fmt.Errorf("judge %s: %w", p.tag, err)
		}
	}

	if saveErr := o.saveLedger(); saveErr != nil {
		if drainErr != nil {
			return fmt.Errorf("orchestrator: %w (and failed to save ledger: %v)", drainErr, saveErr)
		}
		return fmt.Errorf("orchestrator: save ledger: %w", saveErr)
	}

	if drainErr != nil {
		return fmt.Errorf("orchestrator: %w", drainErr)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// putFirst returns a copy of variants with tag moved (or inserted) to the
// front, so a base that needs generating always runs before the variants
// that will be judged against it.
func putFirst(variants []string, tag string) []string {
	out := make([]string, 0, len(variants)+1)
	out = append(out, tag)
	for _, v := range variants {
		if v != tag {
			out = append(out, v)
		}
	}
	return out
}

// preVerifyVariants checks every variant's existence before any variant runs
// (§4.8 step 4): a variant missing locally aborts the run unless on-demand
// pulling is enabled, in which case it must also exist in the remote
// registry. Every missing variant is collected so the error lists all of
// them at once, not just the first one hit. This runs to completion before
// the per-variant loop starts any generation (§8 scenario 3: "exits 1
// before any request").
func (o *Orchestrator) preVerifyVariants(ctx context.Context, variants []string) error {
	var missing []string
	for _, tag := range variants {
		exists, err := o.registry.Exists(ctx, tag)
		if err != nil {
			return fmt.Errorf("orchestrator: check existence of %s: %w", tag, err)
		}
		if exists {
			continue
		}

		if !o.cfg.PullOnDemand {
			missing = append(missing, fmt.Sprintf("%s (not present locally; pull-on-demand is disabled)", tag))
			continue
		}

		remote, err := o.registry.ExistsRemotely(ctx, tag)
		if err != nil {
			return fmt.Errorf("orchestrator: check remote existence of %s: %w", tag, err)
		}
		if !remote {
			missing = append(missing, fmt.Sprintf("%s (not present locally or in the remote registry)", tag))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing variants: %s", strings.Join(missing, "; "))
	}
	return nil
}

// runVariant resolves, (optionally) pulls, validates, and generates answers
// for one variant. Errors wrapping errVariantSkip are permanent per-variant
// failures (§7); anything else is a hard error that aborts the whole run.
// Under ModeInFlight, judgment for each question is dispatched the instant
// that question's answer is generated; the returned pendingJudgment (non-nil
// only in that mode, and only for non-base variants with a judge model
// configured) must be drained by the caller once every variant has run
// (§4.6 step 5, §4.7 "in-flight").
func (o *Orchestrator) runVariant(ctx context.Context, ts *suite.TestSuite, tag, baseTag string) (*pendingJudgment, error) {
	isBase := tag == baseTag
	actualName := tag
	pulledOnDemand := false

	exists, err := o.registry.Exists(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("check existence of %s: %w", tag, err)
	}
	if !exists {
		if !o.cfg.PullOnDemand {
			return nil, fmt.Errorf("model %s not present locally and pull-on-demand is disabled", tag)
		}
		remote, err := o.registry.ExistsRemotely(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("check remote existence of %s: %w", tag, err)
		}
		if !remote {
			return nil, fmt.Errorf("model %s not present locally or in the remote registry", tag)
		}

		// Persist pulledOnDemand before pulling so a crash mid-pull still
		// leaves the ledger knowing cleanup is owed for this variant
		// (§3 "crash-safe", GLOSSARY "On-demand").
		variant := o.l.FindVariant(tag)
		if variant != nil {
			variant.PulledOnDemand = true
			if err := o.saveLedger(); err != nil {
				return nil, fmt.Errorf("persist pulledOnDemand before pull of %s: %w", tag, err)
			}
		}

		if err := o.pull(ctx, tag); err != nil {
			return nil, fmt.Errorf("pull %s: %w", tag, err)
		}
		pulledOnDemand = true
	} else {
		actualName, err = o.registry.ResolveActualName(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("resolve name of %s: %w", tag, err)
		}
	}

	variant := o.l.FindVariant(tag)
	if variant == nil {
		return nil, fmt.Errorf("orchestrator: variant %s missing pre-created ledger entry", tag)
	}
	if isBase {
		variant.IsBase = true
	}
	variant.ModelName = actualName
	variant.PulledOnDemand = variant.PulledOnDemand || pulledOnDemand

	var base *ledger.VariantResult
	if details, err := o.registry.Metadata(ctx, actualName); err != nil {
		slog.Warn("could not resolve variant metadata", "variant", tag, "error", err)
	} else {
		if !isBase {
			if base = o.l.FindVariant(baseTag); base != nil {
				if mismatchErr := validateAgainstBase(tag, details, base); mismatchErr != nil {
					if o.cfg.DeleteAfterRun && pulledOnDemand {
						if delErr := o.testClient.Delete(ctx, actualName); delErr != nil {
							slog.Warn("failed to delete on-demand pulled model", "variant", tag, "error", delErr)
						}
					}
					return nil, fmt.Errorf("%w: %w", errVariantSkip, mismatchErr)
				}
			}
		}
		variant.Family = details.Family
		variant.ParameterSize = details.ParameterSize
		variant.Quantization = details.QuantizationLevel
	}

	var inflight *pendingJudgment
	if variant.IsComplete(ts.NumQuestions()) && !o.cfg.Force {
		slog.Info("variant already complete, skipping generation", "variant", tag)
	} else {
		if o.cfg.Force {
			variant.QuestionResults = nil
		}

		retryCfg := retry.DefaultNamedConfig()
		retryCfg.RetryableFunc = inference.IsRetryable
		execOpts := executor.Options{
			NumPredict:    o.cfg.NumPredict,
			ContextLength: o.cfg.ContextLength,
			Generation:    o.cfg.Generation,
			WithLogprobs:  o.cfg.WithLogprobs,
			RetryCfg:      retryCfg,
		}

		var judgeGroup *errgroup.Group
		if !isBase && base != nil && o.cfg.JudgeModel != "" && o.sched.Mode() == scheduler.ModeInFlight {
			var gctx context.Context
			judgeGroup, gctx = errgroup.WithContext(ctx)
			if o.cfg.JudgeConcurrency > 0 {
				judgeGroup.SetLimit(o.cfg.JudgeConcurrency)
			}
			j := judge.New(o.judgeClient, o.cfg.JudgeModel, retry.DefaultNamedConfig())
			execOpts.OnAnswer = func(qr *ledger.QuestionResult) {
				if !o.needsJudgment(qr, j.Model()) {
					return
				}
				qid := qr.QuestionID
				judgeGroup.Go(func() error {
					return o.judgeQuestion(gctx, j, base, variant, qid)
				})
			}
		}

		exec := executor.New(o.testClient, execOpts, o.saveLedger, o.Metrics)

		if err := exec.RunVariant(ctx, ts, actualName, variant); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if o.cfg.DeleteAfterRun && pulledOnDemand {
				if delErr := o.testClient.Delete(ctx, actualName); delErr != nil {
					slog.Warn("failed to delete on-demand pulled model", "variant", tag, "error", delErr)
				}
			}
			if errors.Is(err, executor.ErrPreloadFailed) || errors.Is(err, inference.ErrUnsupported) {
				return nil, fmt.Errorf("%w: %w", errVariantSkip, err)
			}
			return nil, err
		}

		if judgeGroup != nil {
			inflight = &pendingJudgment{tag: tag, wait: judgeGroup.Wait}
		}
	}

	if o.cfg.DeleteAfterRun && pulledOnDemand {
		if err := o.testClient.Delete(ctx, actualName); err != nil {
			slog.Warn("failed to delete on-demand pulled model", "variant", tag, "error", err)
		}
	}

	return inflight, nil
}

// validateAgainstBase enforces §4.8 step 7's family/parameter-size check.
// Only non-empty fields on both sides are compared, since older ledgers or
// servers without /api/show details may leave them blank.
func validateAgainstBase(tag string, details *inference.ModelDetails, base *ledger.VariantResult) error {
	if details.Family != "" && base.Family != "" && !strings.EqualFold(details.Family, base.Family) {
		return fmt.Errorf("family mismatch: %s has family %q, base has %q", tag, details.Family, base.Family)
	}
	if details.ParameterSize != "" && base.ParameterSize != "" && details.ParameterSize != base.ParameterSize {
		return fmt.Errorf("parameter size mismatch: %s has %q, base has %q", tag, details.ParameterSize, base.ParameterSize)
	}
	return nil
}

func (o *Orchestrator) pull(ctx context.Context, tag string) error {
	events, errs := o.testClient.Pull(ctx, tag)
	for ev := range events {
		if ev.Total > 0 {
			slog.Debug("pull progress", "model", tag, "status", ev.Status, "completed", ev.Completed, "total", ev.Total)
		}
	}
	return <-errs
}

// dispatchJudgment schedules judgment work for tag's answers against base's,
// for the serial and parallel modes (§4.7, §4.8 step 7). ModeInFlight
// reaches this function only for a variant whose generation did not run in
// this call (e.g. already complete); otherwise its judgment work is
// dispatched per question from inside runVariant, as each answer is
// generated.
//   - serial: judged synchronously before returning, blocking the variant
//     loop — the next variant doesn't start until this one is fully judged.
//   - parallel: a bounded fan-out over tag's questions starts in the
//     background and is returned as a pending task; the variant loop moves
//     on to the next variant immediately.
func (o *Orchestrator) dispatchJudgment(ctx context.Context, baseTag, tag string) (*pendingJudgment, error) {
	base := o.l.FindVariant(baseTag)
	if base == nil {
		return nil, fmt.Errorf("base variant %s missing from ledger after run", baseTag)
	}
	variant := o.l.FindVariant(tag)
	if variant == nil {
		return nil, fmt.Errorf("variant %s missing from ledger after run", tag)
	}

	j := judge.New(o.judgeClient, o.cfg.JudgeModel, retry.DefaultNamedConfig())

	questionIDs := make([]string, 0, len(variant.QuestionResults))
	for i := range variant.QuestionResults {
		if o.needsJudgment(&variant.QuestionResults[i], j.Model()) {
			questionIDs = append(questionIDs, variant.QuestionResults[i].QuestionID)
		}
	}
	if len(questionIDs) == 0 {
		return nil, nil
	}

	judgeOne := func(ctx context.Context, qid string) error {
		return o.judgeQuestion(ctx, j, base, variant, qid)
	}

	if o.sched.Mode() == scheduler.ModeSerial {
		if err := o.sched.FanOut(ctx, questionIDs, judgeOne); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// parallel / inflight: run the fan-out in the background so the caller
	// can move on to the next variant's generation immediately (§8 scenario
	// 5: judgment for variant N overlaps generation of variant N+1).
	done := make(chan error, 1)
	go func() {
		done <- o.sched.FanOut(ctx, questionIDs, judgeOne)
	}()

	return &pendingJudgment{
		tag: tag,
		wait: func() error {
			return <-done
		},
	}, nil
}

// needsJudgment implements §4.7's "a judgment is needed iff": no prior
// Judgment, a prior Judgment from a different judge model, or Rejudge.
func (o *Orchestrator) needsJudgment(qr *ledger.QuestionResult, judgeModel string) bool {
	if qr.Judgment == nil {
		return true
	}
	if qr.Judgment.JudgeModel != judgeModel {
		return true
	}
	return o.cfg.Rejudge
}

func (o *Orchestrator) judgeQuestion(ctx context.Context, j *judge.Judge, base, variant *ledger.VariantResult, qid string) error {
	var qr *ledger.QuestionResult
	for i := range variant.QuestionResults {
		if variant.QuestionResults[i].QuestionID == qid {
			qr = &variant.QuestionResults[i]
			break
		}
	}
	if qr == nil {
		return nil
	}

	var baseAnswer string
	found := false
	for i := range base.QuestionResults {
		if base.QuestionResults[i].QuestionID == qid {
			baseAnswer = base.QuestionResults[i].Answer
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	verdict, err := j.Score(ctx, qr.Prompt, baseAnswer, qr.Answer)
	if err != nil {
		return fmt.Errorf("%s: %w", qid, err)
	}

	o.ledgerMu.Lock()
	qr.Judgment = verdict
	o.ledgerMu.Unlock()
	o.Metrics.IncJudgmentsCompleted()

	return o.saveLedger()
}
