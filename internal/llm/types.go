package llm

import (
	"context"
	"time"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Generation defaults
const (
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1024
	DefaultLLMTimeout  = 120 * time.Second
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Usage reports token consumption for one generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a complete generation result.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// StreamChunk is one increment of a streaming generation. The terminal
// chunk has Done set and carries usage when the provider reports it;
// the channel is closed right after. A chunk with Err set is also
// terminal.
type StreamChunk struct {
	Content string
	Done    bool
	Usage   Usage
	Err     error
}

// Options control a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Option mutates generation options.
type Option func(*Options)

// WithTemperature overrides the sampling temperature for one call.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = t }
}

// WithMaxTokens caps the response length for one call.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// applyOptions folds per-call options over the provider defaults.
func applyOptions(defaults Options, opts []Option) Options {
	out := defaults
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

// LLM generates chat completions. Implementations must honor context
// cancellation on both entry points.
type LLM interface {
	// Generate produces a complete response for the conversation.
	Generate(ctx context.Context, messages []Message, opts ...Option) (*Response, error)

	// StreamGenerate produces the response incrementally. The returned
	// channel is closed after a terminal chunk (Done or Err set).
	StreamGenerate(ctx context.Context, messages []Message, opts ...Option) (<-chan StreamChunk, error)

	// ModelName returns the model identifier
	ModelName() string
}
