package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionID(t *testing.T) {
	assert.Equal(t, "general-q1", QuestionID("general", "q1"))
}

func TestEffectiveContextLength_Precedence(t *testing.T) {
	ts := &TestSuite{DefaultContextLength: 2048}
	cat := &Category{ContextLength: 4096}
	q := &Question{}

	assert.Equal(t, 4096, EffectiveContextLength(ts, cat, q))

	q.ContextLength = 8192
	assert.Equal(t, 8192, EffectiveContextLength(ts, cat, q))

	cat.ContextLength = 0
	q.ContextLength = 0
	assert.Equal(t, 2048, EffectiveContextLength(ts, cat, q))
}

func TestNumQuestions(t *testing.T) {
	ts := &TestSuite{Categories: []Category{
		{Questions: []Question{{ID: "q1"}, {ID: "q2"}}},
		{Questions: []Question{{ID: "q1"}}},
	}}
	assert.Equal(t, 3, ts.NumQuestions())
}

func TestLoad_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	content := `
name: fixture suite
default_num_predict: 256
default_context_length: 2048
categories:
  - name: general
    questions:
      - id: q1
        prompt: what is go?
      - id: q2
        prompt: what is a channel?
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	ts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fixture suite", ts.Name)
	assert.Equal(t, 2, ts.NumQuestions())
}

func TestLoad_MissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories: []\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DuplicateQuestionID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	content := `
name: fixture suite
categories:
  - name: general
    questions:
      - id: q1
        prompt: a
      - id: q1
        prompt: b
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
