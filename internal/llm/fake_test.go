package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/errors"
)

func TestFakeLLM_Defaults(t *testing.T) {
	fake := NewFakeLLM()

	resp, err := fake.Generate(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, FakeResponse, resp.Content)
	assert.Equal(t, FakeModelName, resp.Model)
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5}, resp.Usage)
	assert.Equal(t, FakeModelName, fake.ModelName())
}

func TestFakeLLM_ScriptedResponses(t *testing.T) {
	fake := NewFakeLLM("first", "second")
	ctx := context.Background()
	msgs := []Message{UserMessage("hi")}

	for _, want := range []string{"first", "second", "second"} {
		resp, err := fake.Generate(ctx, msgs)
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
	assert.Equal(t, 3, fake.CallCount())
}

func TestFakeLLM_StreamsWordByWord(t *testing.T) {
	fake := NewFakeLLM("alpha beta gamma")

	ch, err := fake.StreamGenerate(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	contents, terminal := drain(t, ch)
	assert.Equal(t, []string{"alpha ", "beta ", "gamma "}, contents)
	assert.Equal(t, "alpha beta gamma", strings.TrimSpace(strings.Join(contents, "")))
	assert.True(t, terminal.Done)
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5}, terminal.Usage)
}

func TestFakeLLM_SetError(t *testing.T) {
	fake := NewFakeLLM()
	fake.SetError(errors.LLMError("boom", nil))

	_, err := fake.Generate(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)

	_, err = fake.StreamGenerate(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)

	fake.SetError(nil)
	_, err = fake.Generate(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
}

func TestFakeLLM_RecordsCallsAndOptions(t *testing.T) {
	fake := NewFakeLLM()

	_, err := fake.Generate(context.Background(),
		[]Message{SystemMessage("be brief"), UserMessage("hi")},
		WithTemperature(0.3), WithMaxTokens(42))
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, RoleSystem, calls[0][0].Role)
	assert.Equal(t, "hi", calls[0][1].Content)

	opts := fake.LastOptions()
	assert.InDelta(t, 0.3, opts.Temperature, 1e-9)
	assert.Equal(t, 42, opts.MaxTokens)
}

func TestFakeLLM_CanceledContext(t *testing.T) {
	fake := NewFakeLLM()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fake.Generate(ctx, []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, 0, fake.CallCount())
}
