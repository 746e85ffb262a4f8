// Package suite holds the immutable test-suite data model: a named set of
// categories and questions driven against every candidate model variant.
//
// A TestSuite is loaded once at startup and never mutated; content
// generation (the process that produces questions) is an external
// collaborator referenced only through this data shape.
package suite

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TestSuite is the immutable input describing what to ask every variant.
type TestSuite struct {
	Name string `yaml:"name"`

	// DefaultNumPredict is the suite-wide generation token limit as read
	// from the suite file. The executor does not apply it: the run's
	// NumPredict option alone sets the limit sent to the server. Categories
	// and questions have no override for it.
	DefaultNumPredict int `yaml:"default_num_predict"`

	// DefaultContextLength is the suite-wide context length, overridden by
	// Category.ContextLength and then by Question.ContextLength.
	DefaultContextLength int `yaml:"default_context_length"`

	Categories []Category `yaml:"categories"`
}

// Category groups related Questions and may override the suite's context
// length for all of its questions.
type Category struct {
	Name string `yaml:"name"`

	// ContextLength, if non-zero, overrides TestSuite.DefaultContextLength
	// for every question in this category that doesn't set its own.
	ContextLength int `yaml:"context_length,omitempty"`

	Questions []Question `yaml:"questions"`
}

// Question is a single prompt within a Category.
type Question struct {
	// ID is the question's identifier within its category. The stable,
	// globally unique identifier used in QuestionResult is
	// "{categoryId}-{questionId}", computed by QuestionID.
	ID     string `yaml:"id"`
	Prompt string `yaml:"prompt"`

	// ContextLength, if non-zero, overrides the category/suite default for
	// this question only. Highest precedence of the three.
	ContextLength int `yaml:"context_length,omitempty"`
}

// QuestionID returns the stable "{categoryId}-{questionId}" identifier used
// throughout the ledger to track a question across resumed runs.
func QuestionID(categoryName, questionID string) string {
	return categoryName + "-" + questionID
}

// EffectiveContextLength resolves the context length for q within category
// cat under suite ts, honoring the question > category > suite precedence
// from §4.6 step 1.
func EffectiveContextLength(ts *TestSuite, cat *Category, q *Question) int {
	if q.ContextLength > 0 {
		return q.ContextLength
	}
	if cat.ContextLength > 0 {
		return cat.ContextLength
	}
	return ts.DefaultContextLength
}

// NumQuestions returns the total number of questions across all categories.
func (ts *TestSuite) NumQuestions() int {
	n := 0
	for _, c := range ts.Categories {
		n += len(c.Questions)
	}
	return n
}

// Load reads and parses a TestSuite from a YAML file at path.
func Load(path string) (*TestSuite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("suite: read %s: %w", path, err)
	}

	var ts TestSuite
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("suite: parse %s: %w", path, err)
	}

	if ts.Name == "" {
		return nil, fmt.Errorf("suite: %s: missing required field 'name'", path)
	}

	seen := make(map[string]struct{})
	for _, cat := range ts.Categories {
		for _, q := range cat.Questions {
			id := QuestionID(cat.Name, q.ID)
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("suite: %s: duplicate question id %q", path, id)
			}
			seen[id] = struct{}{}
		}
	}

	return &ts, nil
}
