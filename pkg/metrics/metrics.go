// Package metrics tracks in-process run progress counters (§12
// "SUPPLEMENTED FEATURES"). There is no live metrics endpoint: a run is a
// single foreground process, so a textual summary printed at the end is
// enough, with atomic counters exposed for progress logging while it runs.
package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics tracks benchmark run progress.
type Metrics struct {
	VariantsTotal      int64
	VariantsCompleted  int64
	QuestionsAnswered  int64
	JudgmentsCompleted int64
	RetriesTotal       int64
}

// IncVariantsCompleted records one finished variant.
func (m *Metrics) IncVariantsCompleted() { atomic.AddInt64(&m.VariantsCompleted, 1) }

// IncQuestionsAnswered records one generated answer.
func (m *Metrics) IncQuestionsAnswered() { atomic.AddInt64(&m.QuestionsAnswered, 1) }

// IncJudgmentsCompleted records one completed judge score.
func (m *Metrics) IncJudgmentsCompleted() { atomic.AddInt64(&m.JudgmentsCompleted, 1) }

// IncRetries records one retried operation.
func (m *Metrics) IncRetries() { atomic.AddInt64(&m.RetriesTotal, 1) }

// Snapshot is a point-in-time read of all counters, safe to log or print
// without further synchronization.
type Snapshot struct {
	VariantsTotal      int64
	VariantsCompleted  int64
	QuestionsAnswered  int64
	JudgmentsCompleted int64
	RetriesTotal       int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		VariantsTotal:      atomic.LoadInt64(&m.VariantsTotal),
		VariantsCompleted:  atomic.LoadInt64(&m.VariantsCompleted),
		QuestionsAnswered:  atomic.LoadInt64(&m.QuestionsAnswered),
		JudgmentsCompleted: atomic.LoadInt64(&m.JudgmentsCompleted),
		RetriesTotal:       atomic.LoadInt64(&m.RetriesTotal),
	}
}

// String renders a one-line human-readable summary.
func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "variants %d/%d, questions answered %d, judgments %d, retries %d",
		s.VariantsCompleted, s.VariantsTotal, s.QuestionsAnswered, s.JudgmentsCompleted, s.RetriesTotal)
	return b.String()
}
