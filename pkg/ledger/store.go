package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrIncompatible is returned by Load when an existing ledger's identity
// fields don't match the run that's trying to load it (§3, §8 scenario 6).
var ErrIncompatible = errors.New("ledger: incompatible with current run")

// Load reads the ledger at path, or returns an empty ResultsLedger seeded
// with testSuiteName/modelName if the file doesn't exist yet. It enforces
// that an existing ledger's TestSuiteName and ModelName match the current
// run, and self-repairs a missing base-variant marker when baseTag names an
// entry that exists but isn't flagged (§3 invariant, §9 design note).
func Load(path, testSuiteName, modelName, baseTag string) (*ResultsLedger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ResultsLedger{
				RunID:         uuid.NewString(),
				TestSuiteName: testSuiteName,
				ModelName:     modelName,
				Results:       []VariantResult{},
			}, nil
		}
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}

	var l ResultsLedger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("ledger: parse %s: %w", path, err)
	}

	if l.TestSuiteName != testSuiteName {
		return nil, fmt.Errorf("%w: ledger test suite %q != requested %q", ErrIncompatible, l.TestSuiteName, testSuiteName)
	}
	if l.ModelName != modelName {
		return nil, fmt.Errorf("%w: ledger model %q != requested %q", ErrIncompatible, l.ModelName, modelName)
	}

	if l.Results == nil {
		l.Results = []VariantResult{}
	}
	if l.RunID == "" {
		l.RunID = uuid.NewString()
	}

	selfRepairBase(&l, baseTag)

	return &l, nil
}

// selfRepairBase marks the VariantResult matching baseTag as IsBase when no
// entry in the ledger already carries the flag. Older ledgers written before
// isBase existed rely on this to regain a well-formed base marker on first
// load, without rejecting the file outright (§9 "Base-variant self-repair").
func selfRepairBase(l *ResultsLedger, baseTag string) {
	if baseTag == "" {
		return
	}
	for i := range l.Results {
		if l.Results[i].IsBase {
			return
		}
	}
	for i := range l.Results {
		if l.Results[i].Tag == baseTag {
			l.Results[i].IsBase = true
			return
		}
	}
}

// Save writes l to path atomically: it writes the full document to a
// temporary sibling file and renames it over path, so a crash mid-write
// never leaves a truncated or corrupt ledger on disk (§3 "Save").
func Save(path string, l *ResultsLedger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".osync-ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("ledger: rename into place: %w", err)
	}

	return nil
}

// MergeResume extends an existing partial VariantResult with those of
// partial's QuestionResults it does not already hold, rather than replacing
// its list, and refreshes its metadata from partial. When no entry for the
// tag exists, partial is appended as a new entry. Returns the variant's
// index in l.Results.
func MergeResume(l *ResultsLedger, partial VariantResult) int {
	if existing := l.FindVariant(partial.Tag); existing != nil {
		idx := -1
		for i := range l.Results {
			if &l.Results[i] == existing {
				idx = i
				break
			}
		}
		for _, qr := range partial.QuestionResults {
			if !existing.HasQuestion(qr.QuestionID) {
				existing.QuestionResults = append(existing.QuestionResults, qr)
			}
		}
		existing.ModelName = partial.ModelName
		existing.SizeBytes = partial.SizeBytes
		existing.Family = partial.Family
		existing.ParameterSize = partial.ParameterSize
		existing.Quantization = partial.Quantization
		existing.PulledOnDemand = partial.PulledOnDemand
		if partial.IsBase {
			existing.IsBase = true
		}
		return idx
	}

	l.Results = append(l.Results, partial)
	return len(l.Results) - 1
}
