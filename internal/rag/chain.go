package rag

import (
	"context"
	"log/slog"

	"github.com/vaultrag/vaultrag/internal/llm"
)

// Answer is a complete RAG response with its supporting chunks.
type Answer struct {
	Answer    string           `json:"answer"`
	Sources   []Source         `json:"sources"`
	Model     string           `json:"model"`
	Usage     llm.Usage        `json:"usage"`
	Retrieval *RetrievalResult `json:"-"`
}

// AnswerStream is a streaming RAG response. Sources and model are
// known before the first token; Chunks yields content increments and
// a terminal chunk carrying usage.
type AnswerStream struct {
	Sources   []Source
	Model     string
	Retrieval *RetrievalResult
	Chunks    <-chan llm.StreamChunk
}

// Chain wires a retriever and an LLM into an answer pipeline:
// retrieve, format context, prompt, generate.
type Chain struct {
	retriever Retriever
	model     llm.LLM
	template  PromptTemplate
	logger    *slog.Logger
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithTemplate swaps the prompt template.
func WithTemplate(t PromptTemplate) ChainOption {
	return func(c *Chain) { c.template = t }
}

// NewChain builds an answer pipeline with the default template.
func NewChain(retriever Retriever, model llm.LLM, opts ...ChainOption) *Chain {
	c := &Chain{
		retriever: retriever,
		model:     model,
		template:  DefaultTemplate(),
		logger:    slog.Default().With("component", "rag_chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retriever exposes the chain's retriever for callers that need the
// raw retrieval (quality checks, source listings).
func (c *Chain) Retriever() Retriever {
	return c.retriever
}

// Template returns the active prompt template.
func (c *Chain) Template() PromptTemplate {
	return c.template
}

// Model exposes the chain's LLM for callers that generate outside the
// retrieve-then-answer path (query broadening, reference resolution).
func (c *Chain) Model() llm.LLM {
	return c.model
}

// Answer retrieves topK chunks and generates a grounded response.
func (c *Chain) Answer(ctx context.Context, query string, topK int, opts ...llm.Option) (*Answer, error) {
	result, err := c.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return c.AnswerFromResult(ctx, query, result, nil, opts...)
}

// AnswerFromResult generates from an already-completed retrieval.
// history, when present, is spliced between the system prompt and the
// current question.
func (c *Chain) AnswerFromResult(ctx context.Context, query string, result *RetrievalResult, history []llm.Message, opts ...llm.Option) (*Answer, error) {
	messages := c.buildMessages(query, result, history)

	response, err := c.model.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("answer_generated",
		"model", response.Model,
		"chunks", len(result.Chunks),
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens)

	return &Answer{
		Answer:    response.Content,
		Sources:   result.Sources(),
		Model:     response.Model,
		Usage:     response.Usage,
		Retrieval: result,
	}, nil
}

// StreamAnswer retrieves topK chunks and streams the response.
func (c *Chain) StreamAnswer(ctx context.Context, query string, topK int, opts ...llm.Option) (*AnswerStream, error) {
	result, err := c.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return c.StreamAnswerFromResult(ctx, query, result, nil, opts...)
}

// StreamAnswerFromResult streams a response from an already-completed
// retrieval.
func (c *Chain) StreamAnswerFromResult(ctx context.Context, query string, result *RetrievalResult, history []llm.Message, opts ...llm.Option) (*AnswerStream, error) {
	messages := c.buildMessages(query, result, history)

	chunks, err := c.model.StreamGenerate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}

	return &AnswerStream{
		Sources:   result.Sources(),
		Model:     c.model.ModelName(),
		Retrieval: result,
		Chunks:    chunks,
	}, nil
}

func (c *Chain) buildMessages(query string, result *RetrievalResult, history []llm.Message) []llm.Message {
	context := FormatContext(result, FormatNumbered)
	if len(history) > 0 {
		return c.template.BuildWithHistory(query, context, history)
	}
	return c.template.Build(query, context)
}
