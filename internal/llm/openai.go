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

// OpenAI defaults
const (
	DefaultOpenAIBaseURL = "https://api.openai.com"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// temperatureFixedModels only accept their built-in temperature; the
// API rejects requests that set one.
var temperatureFixedModels = map[string]bool{
	"gpt-5-mini": true,
	"gpt-5-nano": true,
}

// OpenAIConfig configures an OpenAI chat client.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type openAIChatRequest struct {
	Model               string               `json:"model"`
	Messages            []Message            `json:"messages"`
	Temperature         *float64             `json:"temperature,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage     `json:"usage"`
	Error *openAIErrorBody `json:"error"`
}

type openAIStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage     `json:"usage"`
	Error *openAIErrorBody `json:"error"`
}

// OpenAILLM talks to the OpenAI chat completions API.
type OpenAILLM struct {
	client   *http.Client
	apiKey   string
	baseURL  string
	model    string
	defaults Options
	timeout  time.Duration
	logger   *slog.Logger
}

var _ LLM = (*OpenAILLM)(nil)

// NewOpenAILLM creates an OpenAI chat client. The API key is validated
// at construction so misconfiguration fails before the first query.
func NewOpenAILLM(cfg OpenAIConfig) (*OpenAILLM, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.ConfigError("OpenAI API key is not set", nil).
			WithSuggestion("export OPENAI_API_KEY or set llm.api_key_env in the config")
	}
	if !strings.HasPrefix(key, "sk-") {
		return nil, errors.ConfigError("OpenAI API key looks malformed", nil).
			WithDetail("key_prefix", safeKeyPrefix(key)).
			WithSuggestion("OpenAI keys start with sk-")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
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

	return &OpenAILLM{
		client:   &http.Client{},
		apiKey:   key,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		defaults: Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens},
		timeout:  cfg.Timeout,
		logger:   slog.Default().With("component", "openai_llm"),
	}, nil
}

func safeKeyPrefix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[:4] + "..."
}

// ModelName returns the configured chat model.
func (o *OpenAILLM) ModelName() string {
	return o.model
}

// Generate performs a blocking chat completion.
func (o *OpenAILLM) Generate(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
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

	var chat openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, errors.LLMError("failed to decode chat response", err)
	}
	if chat.Error != nil {
		return nil, errors.LLMError(chat.Error.Message, nil).WithDetail("model", o.model)
	}
	if len(chat.Choices) == 0 {
		return nil, errors.LLMError("chat response has no choices", nil).WithDetail("model", o.model)
	}

	out := &Response{
		Content: chat.Choices[0].Message.Content,
		Model:   o.model,
	}
	if chat.Usage != nil {
		out.Usage = Usage{
			InputTokens:  chat.Usage.PromptTokens,
			OutputTokens: chat.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// StreamGenerate performs a chat completion over server-sent events.
// Usage arrives in the final event before [DONE] and is surfaced on
// the terminal chunk.
func (o *OpenAILLM) StreamGenerate(ctx context.Context, messages []Message, opts ...Option) (<-chan StreamChunk, error) {
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

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			payload, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			payload = strings.TrimSpace(payload)
			if payload == "[DONE]" {
				emit(StreamChunk{Done: true, Usage: usage})
				return
			}

			var event openAIStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				emit(StreamChunk{Err: errors.LLMError("malformed stream event", err)})
				return
			}
			if event.Error != nil {
				emit(StreamChunk{Err: errors.LLMError(event.Error.Message, nil).WithDetail("model", o.model)})
				return
			}
			if event.Usage != nil {
				usage = Usage{
					InputTokens:  event.Usage.PromptTokens,
					OutputTokens: event.Usage.CompletionTokens,
				}
			}
			if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
				if !emit(StreamChunk{Content: event.Choices[0].Delta.Content}) {
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

func (o *OpenAILLM) send(ctx context.Context, messages []Message, options Options, stream bool) (*http.Response, error) {
	reqBody := openAIChatRequest{
		Model:               o.model,
		Messages:            messages,
		MaxCompletionTokens: options.MaxTokens,
		Stream:              stream,
	}
	if !temperatureFixedModels[o.model] {
		reqBody.Temperature = &options.Temperature
	}
	if stream {
		reqBody.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.InternalError("failed to encode chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("failed to create chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	o.logger.Debug("chat_request",
		"model", o.model,
		"messages", len(messages),
		"stream", stream)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.NetworkError("cannot reach OpenAI", err).WithDetail("base_url", o.baseURL)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		var apiErr struct {
			Error *openAIErrorBody `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil {
			msg = apiErr.Error.Message
		}
		return nil, errors.LLMError(
			fmt.Sprintf("chat request failed with status %d: %s", resp.StatusCode, msg),
			nil,
		).WithDetail("model", o.model)
	}
	return resp, nil
}

// Available reports whether the API accepts the configured key.
func (o *OpenAILLM) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
