package judge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mann1x/osync/pkg/inference"
	"github.com/mann1x/osync/pkg/message"
	"github.com/mann1x/osync/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatClient struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeChatClient) Chat(ctx context.Context, model string, messages []message.Message, opts inference.Options, schema json.RawMessage) (*inference.ChatResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &inference.ChatResult{Message: message.Assistant(f.responses[idx])}, nil
}

func TestJudge_Score_WellFormedJSON(t *testing.T) {
	c := &fakeChatClient{responses: []string{`{"score": 85, "reason": "very similar"}`}}
	j := New(c, "llama3.1:70b", retry.NamedConfig{MaxAttempts: 1})

	v, err := j.Score(context.Background(), "what is go?", "a language", "a programming language")
	require.NoError(t, err)
	assert.Equal(t, 85, v.Score)
	assert.Equal(t, "very similar", v.Reason)
	assert.Equal(t, "llama3.1:70b", v.JudgeModel)
}

func TestJudge_Score_TruncatedJSON(t *testing.T) {
	c := &fakeChatClient{responses: []string{`{"score": 70, "reason": "mostly the same but cut off mid`}}
	j := New(c, "llama3.1:70b", retry.NamedConfig{MaxAttempts: 1})

	v, err := j.Score(context.Background(), "q", "ref", "cand")
	require.NoError(t, err)
	assert.Equal(t, 70, v.Score)
	assert.Contains(t, v.Reason, "mostly the same")
}

func TestJudge_Score_FractionalScoreNormalized(t *testing.T) {
	c := &fakeChatClient{responses: []string{`{"score": 0.6, "reason": "decent match"}`}}
	j := New(c, "llama3.1:70b", retry.NamedConfig{MaxAttempts: 1})

	v, err := j.Score(context.Background(), "q", "ref", "cand")
	require.NoError(t, err)
	assert.Equal(t, 60, v.Score)
}

func TestJudge_Score_FreeformFallback(t *testing.T) {
	c := &fakeChatClient{responses: []string{"score: 42/100, reason: roughly equivalent answers"}}
	j := New(c, "llama3.1:70b", retry.NamedConfig{MaxAttempts: 1})

	v, err := j.Score(context.Background(), "q", "ref", "cand")
	require.NoError(t, err)
	assert.NotEmpty(t, v.Reason)
}

func TestJudge_Score_EmptyReasonRetriesThenGivesUp(t *testing.T) {
	c := &fakeChatClient{responses: []string{"garbage with no parseable fields at all"}}
	j := New(c, "llama3.1:70b", retry.NamedConfig{MaxAttempts: 1})

	v, err := j.Score(context.Background(), "q", "ref", "cand")
	require.NoError(t, err)
	assert.Empty(t, v.Reason)
	assert.NotEmpty(t, v.RawResponse)
	assert.Equal(t, 1, v.Score)
}

func TestJudge_Score_ChatError(t *testing.T) {
	c := &fakeChatClient{err: errors.New("connection refused")}
	j := New(c, "llama3.1:70b", retry.NamedConfig{MaxAttempts: 1})

	_, err := j.Score(context.Background(), "q", "ref", "cand")
	assert.Error(t, err)
}

func TestJudge_Model(t *testing.T) {
	j := New(&fakeChatClient{}, "llama3.1:70b", retry.NamedConfig{})
	assert.Equal(t, "llama3.1:70b", j.Model())
}

func TestNormalizeScore(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{0, 1},
		{-5, 1},
		{0.5, 50},
		{1.0, 100},
		{50, 50},
		{150, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeScore(tc.in))
	}
}
