package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/llm"
)

func TestChain_Answer(t *testing.T) {
	retriever := &fakeRetriever{result: threeChunks()}
	model := llm.NewFakeLLM("Alpha explains the borrow checker.")
	chain := NewChain(retriever, model)

	answer, err := chain.Answer(context.Background(), "what is alpha?", 5)
	require.NoError(t, err)

	assert.Equal(t, "Alpha explains the borrow checker.", answer.Answer)
	assert.Equal(t, llm.FakeModelName, answer.Model)
	assert.Equal(t, llm.Usage{InputTokens: 10, OutputTokens: 5}, answer.Usage)
	require.Len(t, answer.Sources, 3)
	assert.Equal(t, "a.md", answer.Sources[0].Source)
	require.NotNil(t, answer.Retrieval)
	assert.Equal(t, 3, answer.Retrieval.TotalCount)

	calls := model.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, llm.RoleSystem, calls[0][0].Role)
	assert.Equal(t, DefaultTemplate().SystemPrompt, calls[0][0].Content)

	user := calls[0][1].Content
	assert.Contains(t, user, "[1] Source: a.md\nalpha")
	assert.Contains(t, user, "[3] Source: c.md\ngamma")
	assert.True(t, strings.HasSuffix(user, "Question: what is alpha?"))
}

func TestChain_AnswerNoContext(t *testing.T) {
	retriever := &fakeRetriever{}
	model := llm.NewFakeLLM()
	chain := NewChain(retriever, model)

	answer, err := chain.Answer(context.Background(), "anything?", 5)
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)

	user := model.Calls()[0][1].Content
	assert.Contains(t, user, DefaultTemplate().NoContextMsg)
}

func TestChain_AnswerWithHistory(t *testing.T) {
	retriever := &fakeRetriever{result: threeChunks()}
	model := llm.NewFakeLLM()
	chain := NewChain(retriever, model)

	history := []llm.Message{
		llm.UserMessage("tell me about rust"),
		llm.AssistantMessage("Rust is a systems language."),
	}

	result, err := chain.Retriever().Retrieve(context.Background(), "what about its compiler?", 5)
	require.NoError(t, err)
	_, err = chain.AnswerFromResult(context.Background(), "what about its compiler?", result, history)
	require.NoError(t, err)

	messages := model.Calls()[0]
	require.Len(t, messages, 4)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, "tell me about rust", messages[1].Content)
	assert.Equal(t, llm.RoleAssistant, messages[2].Role)
	assert.Contains(t, messages[3].Content, "Question: what about its compiler?")
}

func TestChain_StreamAnswer(t *testing.T) {
	retriever := &fakeRetriever{result: threeChunks()}
	model := llm.NewFakeLLM("streamed answer here")
	chain := NewChain(retriever, model)

	stream, err := chain.StreamAnswer(context.Background(), "q", 5)
	require.NoError(t, err)

	// Sources and model are known before any token arrives.
	require.Len(t, stream.Sources, 3)
	assert.Equal(t, llm.FakeModelName, stream.Model)

	var parts []string
	var terminal llm.StreamChunk
	for chunk := range stream.Chunks {
		if chunk.Done || chunk.Err != nil {
			terminal = chunk
			continue
		}
		parts = append(parts, chunk.Content)
	}
	assert.Equal(t, "streamed answer here", strings.TrimSpace(strings.Join(parts, "")))
	assert.True(t, terminal.Done)
	assert.Equal(t, llm.Usage{InputTokens: 10, OutputTokens: 5}, terminal.Usage)
}

func TestChain_RetrievalErrorPropagates(t *testing.T) {
	retriever := &fakeRetriever{err: assert.AnError}
	chain := NewChain(retriever, llm.NewFakeLLM())

	_, err := chain.Answer(context.Background(), "q", 5)
	require.ErrorIs(t, err, assert.AnError)

	_, err = chain.StreamAnswer(context.Background(), "q", 5)
	require.ErrorIs(t, err, assert.AnError)
}

func TestChain_LLMErrorPropagates(t *testing.T) {
	retriever := &fakeRetriever{result: threeChunks()}
	model := llm.NewFakeLLM()
	model.SetError(assert.AnError)
	chain := NewChain(retriever, model)

	_, err := chain.Answer(context.Background(), "q", 5)
	require.ErrorIs(t, err, assert.AnError)
}

func TestChain_CustomTemplate(t *testing.T) {
	retriever := &fakeRetriever{result: threeChunks()}
	model := llm.NewFakeLLM()
	chain := NewChain(retriever, model, WithTemplate(ConciseTemplate()))

	_, err := chain.Answer(context.Background(), "q", 5)
	require.NoError(t, err)

	assert.Equal(t, "concise", chain.Template().Name)
	assert.Equal(t, ConciseTemplate().SystemPrompt, model.Calls()[0][0].Content)
}

func TestChain_PassesGenerationOptions(t *testing.T) {
	retriever := &fakeRetriever{result: threeChunks()}
	model := llm.NewFakeLLM()
	chain := NewChain(retriever, model)

	_, err := chain.Answer(context.Background(), "q", 5,
		llm.WithTemperature(0.9), llm.WithMaxTokens(128))
	require.NoError(t, err)

	opts := model.LastOptions()
	assert.InDelta(t, 0.9, opts.Temperature, 1e-9)
	assert.Equal(t, 128, opts.MaxTokens)
}
