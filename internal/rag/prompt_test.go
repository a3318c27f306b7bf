package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/llm"
)

func TestPromptTemplate_Build(t *testing.T) {
	tmpl := DefaultTemplate()
	messages := tmpl.Build("what is rust?", "[1] Source: a.md\nalpha")

	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, tmpl.SystemPrompt, messages[0].Content)
	assert.Equal(t, llm.RoleUser, messages[1].Role)
	assert.Equal(t,
		"Here is content retrieved from related documents:\n\n"+
			"[1] Source: a.md\nalpha\n\n"+
			"Question: what is rust?",
		messages[1].Content)
}

func TestPromptTemplate_BuildWithoutContext(t *testing.T) {
	tmpl := DefaultTemplate()

	for _, context := range []string{"", "   \n\t"} {
		messages := tmpl.Build("anything?", context)
		require.Len(t, messages, 2)
		assert.Equal(t,
			"No relevant documents were found.\n\nQuestion: anything?",
			messages[1].Content)
	}
}

func TestPromptTemplate_BuildWithHistory(t *testing.T) {
	tmpl := DefaultTemplate()
	history := []llm.Message{
		llm.UserMessage("tell me about rust"),
		llm.AssistantMessage("Rust is a systems language."),
	}

	messages := tmpl.BuildWithHistory("and its compiler?", "[1] Source: a.md\nalpha", history)

	require.Len(t, messages, 4)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, "tell me about rust", messages[1].Content)
	assert.Equal(t, "Rust is a systems language.", messages[2].Content)
	assert.Equal(t,
		"Here is content retrieved from related documents:\n\n"+
			"[1] Source: a.md\nalpha\n\n"+
			"Question: and its compiler?",
		messages[3].Content)
}

func TestPromptTemplate_BuildWithHistoryNoContext(t *testing.T) {
	tmpl := DefaultTemplate()
	history := []llm.Message{llm.UserMessage("hi")}

	messages := tmpl.BuildWithHistory("who are you?", "", history)

	require.Len(t, messages, 3)
	assert.Equal(t, "Question: who are you?", messages[2].Content)
}

func TestConciseTemplate(t *testing.T) {
	tmpl := ConciseTemplate()
	assert.Equal(t, "concise", tmpl.Name)
	assert.Contains(t, tmpl.SystemPrompt, "Maximum 3 sentences")
	assert.Contains(t, tmpl.SystemPrompt, "I don't know.")
}
