package rag

import (
	"strings"

	"github.com/vaultrag/vaultrag/internal/llm"
)

// PromptTemplate shapes how retrieved context and the question reach
// the model.
type PromptTemplate struct {
	Name         string
	SystemPrompt string
	// ContextIntro precedes the formatted chunks.
	ContextIntro string
	// NoContextMsg replaces the context section when retrieval found
	// nothing, so the model knows it is answering unsupported.
	NoContextMsg string
}

// DefaultTemplate is the general question-answering template.
func DefaultTemplate() PromptTemplate {
	return PromptTemplate{
		Name: "rag_qa",
		SystemPrompt: "You are a helpful assistant that answers questions based on the provided context.\n" +
			"Answer in the same language as the question.\n" +
			"If the context doesn't contain relevant information, say so honestly.",
		ContextIntro: "Here is content retrieved from related documents:",
		NoContextMsg: "No relevant documents were found.",
	}
}

// ConciseTemplate trades completeness for brevity.
func ConciseTemplate() PromptTemplate {
	return PromptTemplate{
		Name: "concise",
		SystemPrompt: "Answer concisely based on the context. Maximum 3 sentences.\n" +
			"If unsure, say \"I don't know.\" Answer in the same language as the question.",
		ContextIntro: "Here is content retrieved from related documents:",
		NoContextMsg: "No relevant documents were found.",
	}
}

// Build renders a system + user message pair for one question.
func (t PromptTemplate) Build(question, context string) []llm.Message {
	contextSection := t.NoContextMsg
	if strings.TrimSpace(context) != "" {
		contextSection = t.ContextIntro + "\n\n" + context
	}
	return []llm.Message{
		llm.SystemMessage(t.SystemPrompt),
		llm.UserMessage(contextSection + "\n\nQuestion: " + question),
	}
}

// BuildWithHistory renders system + prior turns + the current
// question. With no retrieved context the question stands alone; the
// history already carries the conversation.
func (t PromptTemplate) BuildWithHistory(question, context string, history []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemMessage(t.SystemPrompt))
	messages = append(messages, history...)

	userContent := "Question: " + question
	if strings.TrimSpace(context) != "" {
		userContent = t.ContextIntro + "\n\n" + context + "\n\n" + userContent
	}
	return append(messages, llm.UserMessage(userContent))
}
