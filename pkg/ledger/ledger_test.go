package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariantResult_IsComplete(t *testing.T) {
	v := &VariantResult{QuestionResults: []QuestionResult{{QuestionID: "a"}, {QuestionID: "b"}}}
	assert.True(t, v.IsComplete(2))
	assert.False(t, v.IsComplete(3))
}

func TestVariantResult_HasQuestion(t *testing.T) {
	v := &VariantResult{QuestionResults: []QuestionResult{{QuestionID: "general-q1"}}}
	assert.True(t, v.HasQuestion("general-q1"))
	assert.False(t, v.HasQuestion("general-q2"))
}

func TestResultsLedger_FindVariant(t *testing.T) {
	l := &ResultsLedger{Results: []VariantResult{{Tag: "a"}, {Tag: "b"}}}
	v := l.FindVariant("b")
	require := assert.New(t)
	require.NotNil(v)
	require.Equal("b", v.Tag)
	require.Nil(l.FindVariant("c"))
}

func TestResultsLedger_BaseVariant(t *testing.T) {
	l := &ResultsLedger{Results: []VariantResult{{Tag: "a"}, {Tag: "b", IsBase: true}}}
	v := l.BaseVariant()
	require := assert.New(t)
	require.NotNil(v)
	require.Equal("b", v.Tag)
}

func TestResultsLedger_BaseVariant_None(t *testing.T) {
	l := &ResultsLedger{Results: []VariantResult{{Tag: "a"}}}
	assert.Nil(t, l.BaseVariant())
}

func TestResultsLedger_FindVariant_MutatesThroughPointer(t *testing.T) {
	l := &ResultsLedger{Results: []VariantResult{{Tag: "a"}}}
	v := l.FindVariant("a")
	v.IsBase = true
	assert.True(t, l.Results[0].IsBase)
}
