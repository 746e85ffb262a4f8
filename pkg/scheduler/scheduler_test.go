package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Mode(t *testing.T) {
	s := New(Options{Mode: ModeParallel})
	assert.Equal(t, ModeParallel, s.Mode())
}

func TestScheduler_FanOut_RunsEveryItem(t *testing.T) {
	s := New(Options{Mode: ModeParallel})

	var count int64
	items := []string{"a", "b", "c", "d", "e"}
	err := s.FanOut(context.Background(), items, func(ctx context.Context, item string) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestScheduler_FanOut_BoundsConcurrency(t *testing.T) {
	s := New(Options{Mode: ModeParallel, JudgeConcurrency: 2})

	var current, max int64
	items := make([]string, 10)
	for i := range items {
		items[i] = "item"
	}

	err := s.FanOut(context.Background(), items, func(ctx context.Context, item string) error {
		n := atomic.AddInt64(&current, 1)
		for {
			old := atomic.LoadInt64(&max)
			if n <= old || atomic.CompareAndSwapInt64(&max, old, n) {
				break
			}
		}
		atomic.AddInt64(&current, -1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&max), int64(2))
}

func TestScheduler_FanOut_PropagatesFirstError(t *testing.T) {
	s := New(Options{Mode: ModeParallel})
	boom := errors.New("boom")

	err := s.FanOut(context.Background(), []string{"a", "b"}, func(ctx context.Context, item string) error {
		if item == "b" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestScheduler_FanOut_SerialRunsOneAtATime(t *testing.T) {
	// Even with JudgeConcurrency left unset (0 = "unbounded" for the
	// concurrent modes), ModeSerial must never let two items run at once
	// (§4.7 "iterate questions sequentially").
	s := New(Options{Mode: ModeSerial})

	var current, max int64
	items := []string{"a", "b", "c", "d", "e"}

	err := s.FanOut(context.Background(), items, func(ctx context.Context, item string) error {
		n := atomic.AddInt64(&current, 1)
		if n > atomic.LoadInt64(&max) {
			atomic.StoreInt64(&max, n)
		}
		atomic.AddInt64(&current, -1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), max)
}

func TestScheduler_FanOut_SerialRunsInOrder(t *testing.T) {
	s := New(Options{Mode: ModeSerial})

	var seen []string
	items := []string{"a", "b", "c"}
	err := s.FanOut(context.Background(), items, func(ctx context.Context, item string) error {
		seen = append(seen, item)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, items, seen)
}

func TestScheduler_FanOut_SerialStopsOnFirstError(t *testing.T) {
	s := New(Options{Mode: ModeSerial})
	boom := errors.New("boom")

	var seen []string
	err := s.FanOut(context.Background(), []string{"a", "b", "c"}, func(ctx context.Context, item string) error {
		seen = append(seen, item)
		if item == "b" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestScheduler_FanOut_CancelsOnContext(t *testing.T) {
	s := New(Options{Mode: ModeSerial})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	err := s.FanOut(ctx, []string{"a"}, func(ctx context.Context, item string) error {
		atomic.AddInt64(&ran, 1)
		return ctx.Err()
	})
	assert.Error(t, err)
}
