// Package scheduler implements C7: fanning out judgment scoring once a
// variant's answers and the base variant's answers are both available,
// under one of the three concurrency modes the orchestrator configures.
// The variant loop itself always runs sequentially (§5 "the orchestrator's
// top-level loop is sequential over variants"); only judgment work is ever
// run concurrently, bounded by the errgroup pattern used elsewhere in this
// codebase for concurrent work sharing a cancellation context.
package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Mode selects how judgment scoring is scheduled relative to generation
// (§4.7).
type Mode string

const (
	// ModeSerial judges each variant's questions sequentially, immediately
	// after that variant's generation completes, before moving on.
	ModeSerial Mode = "serial"
	// ModeParallel fans out all of a variant's missing judgments
	// concurrently once its generation completes, but does not block the
	// orchestrator from starting the next variant's generation while those
	// judgments are still running (§4.7 "parallel-per-variant").
	ModeParallel Mode = "parallel"
	// ModeInFlight dispatches a question's judgment the moment that
	// question's answer is generated, overlapping judgment with the
	// remaining questions' generation for the same variant, in addition to
	// overlapping with the next variant's generation (§4.7 "in-flight").
	ModeInFlight Mode = "inflight"
)

// Options configures a Scheduler.
type Options struct {
	Mode Mode
	// JudgeConcurrency bounds the number of concurrently in-flight judgment
	// calls. 0 means unbounded, naturally capped by the number of questions
	// per variant (§5).
	JudgeConcurrency int
}

// Scheduler fans out judgment tasks under a configured concurrency mode.
type Scheduler struct {
	opts Options
}

// New constructs a Scheduler.
func New(opts Options) *Scheduler {
	return &Scheduler{opts: opts}
}

// Mode returns the configured scheduling mode.
func (s *Scheduler) Mode() Mode { return s.opts.Mode }

// FanOut runs fn(item) for every item in items. Under ModeSerial it iterates
// one item at a time, in order, never starting the next until the current
// one returns (§4.7 "iterate questions sequentially"). JudgeConcurrency does
// not apply in this mode, since there is never more than one in-flight call
// to bound. Under any other mode it runs items concurrently,
// bounded by JudgeConcurrency goroutines (unbounded if JudgeConcurrency <=
// 0), stopping all in-flight work on the first error and propagating
// cancellation through the shared context (§5, §7 "Cancellation").
func (s *Scheduler) FanOut(ctx context.Context, items []string, fn func(ctx context.Context, item string) error) error {
	if s.opts.Mode == ModeSerial {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.opts.JudgeConcurrency > 0 {
		g.SetLimit(s.opts.JudgeConcurrency)
	}

	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}

	return g.Wait()
}
