package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// Ollama defaults
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"
	ollamaPoolSize     = 4
)

// OllamaConfig configures an Ollama chat client.
type OllamaConfig struct {
	Host        string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultOllamaConfig returns a local-server configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:        DefaultOllamaHost,
		Model:       DefaultOllamaModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultLLMTimeout,
	}
}

type ollamaChatRequest struct {
	Model    string            `json:"model"`
	Messages []Message         `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  ollamaChatOptions `json:"options"`
}

type ollamaChatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

// OllamaLLM talks to a local Ollama server over /api/chat.
type OllamaLLM struct {
	client   *http.Client
	host     string
	model    string
	defaults Options
	timeout  time.Duration
	logger   *slog.Logger
}

var _ LLM = (*OllamaLLM)(nil)

// NewOllamaLLM creates an Ollama chat client. It does not touch the
// network; availability is checked lazily.
func NewOllamaLLM(cfg OllamaConfig) *OllamaLLM {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLLMTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	return &OllamaLLM{
		// No client-level timeout: streamed generations run for minutes
		// and are governed by the caller's context instead.
		client:   &http.Client{Transport: transport},
		host:     strings.TrimRight(cfg.Host, "/"),
		model:    cfg.Model,
		defaults: Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens},
		timeout:  cfg.Timeout,
		logger:   slog.Default().With("component", "ollama_llm"),
	}
}

// ModelName returns the configured chat model.
func (o *OllamaLLM) ModelName() string {
	return o.model
}

// Generate performs a blocking chat completion.
func (o *OllamaLLM) Generate(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	if len(messages) == 0 {
		return nil, errors.ValidationError("no messages to send", nil)
	}
	options := applyOptions(o.defaults, opts)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.send(ctx, messages, options, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, errors.LLMError("failed to decode chat response", err)
	}
	if chat.Error != "" {
		return nil, errors.LLMError(chat.Error, nil).WithDetail("model", o.model)
	}

	return &Response{
		Content: chat.Message.Content,
		Model:   o.model,
		Usage: Usage{
			InputTokens:  chat.PromptEvalCount,
			OutputTokens: chat.EvalCount,
		},
	}, nil
}

// StreamGenerate performs a chat completion and yields it as NDJSON
// increments. The request error path is synchronous; stream errors
// arrive as a terminal chunk.
func (o *OllamaLLM) StreamGenerate(ctx context.Context, messages []Message, opts ...Option) (<-chan StreamChunk, error) {
	if len(messages) == 0 {
		return nil, errors.ValidationError("no messages to send", nil)
	}
	options := applyOptions(o.defaults, opts)

	resp, err := o.send(ctx, messages, options, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		emit := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chat ollamaChatResponse
			if err := json.Unmarshal(line, &chat); err != nil {
				emit(StreamChunk{Err: errors.LLMError("malformed stream line", err)})
				return
			}
			if chat.Error != "" {
				emit(StreamChunk{Err: errors.LLMError(chat.Error, nil).WithDetail("model", o.model)})
				return
			}
			if chat.Done {
				emit(StreamChunk{
					Done: true,
					Usage: Usage{
						InputTokens:  chat.PromptEvalCount,
						OutputTokens: chat.EvalCount,
					},
				})
				return
			}
			if chat.Message.Content != "" {
				if !emit(StreamChunk{Content: chat.Message.Content}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			emit(StreamChunk{Err: errors.LLMError("stream read failed", err)})
			return
		}
		emit(StreamChunk{Err: errors.LLMError("stream ended without completion", nil)})
	}()

	return ch, nil
}

func (o *OllamaLLM) send(ctx context.Context, messages []Message, options Options, stream bool) (*http.Response, error) {
	reqBody := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   stream,
		Options: ollamaChatOptions{
			Temperature: options.Temperature,
			NumPredict:  options.MaxTokens,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.InternalError("failed to encode chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("failed to create chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	o.logger.Debug("chat_request",
		"model", o.model,
		"messages", len(messages),
		"stream", stream,
		"temperature", options.Temperature)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.NetworkError("cannot reach Ollama", err).
			WithDetail("host", o.host).
			WithSuggestion("start the server with: ollama serve")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errors.LLMError(
			fmt.Sprintf("chat request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			nil,
		).WithDetail("model", o.model)
	}
	return resp, nil
}

// Available reports whether the server responds and has the model.
func (o *OllamaLLM) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	want := strings.ToLower(o.model)
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == want {
			return true
		}
	}
	return false
}
