package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// fakeOllamaChat is a minimal in-process Ollama chat API. Streamed
// responses are emitted word by word so chunk ordering is observable.
type fakeOllamaChat struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	models    []string
	response  string
	requests  []ollamaChatRequest
	errorBody string // in-band {"error": ...} instead of a response
	omitDone  bool   // end the stream without a done line
}

func newFakeOllamaChat(t *testing.T, response string) *fakeOllamaChat {
	f := &fakeOllamaChat{t: t, response: response, models: []string{"llama3.1:latest"}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", f.handleTags)
	mux.HandleFunc("/api/chat", f.handleChat)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOllamaChat) URL() string { return f.srv.URL }

func (f *fakeOllamaChat) handleTags(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	names := make([]string, len(f.models))
	copy(names, f.models)
	f.mu.Unlock()

	type modelInfo struct {
		Name string `json:"name"`
	}
	models := make([]modelInfo, len(names))
	for i, name := range names {
		models[i] = modelInfo{Name: name}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
}

func (f *fakeOllamaChat) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ollamaChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	response := f.response
	errorBody := f.errorBody
	omitDone := f.omitDone
	f.mu.Unlock()

	enc := json.NewEncoder(w)
	if errorBody != "" {
		_ = enc.Encode(ollamaChatResponse{Error: errorBody})
		return
	}

	if !req.Stream {
		_ = enc.Encode(ollamaChatResponse{
			Model:           req.Model,
			Message:         AssistantMessage(response),
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 26,
			EvalCount:       298,
		})
		return
	}

	flusher := w.(http.Flusher)
	for _, word := range strings.Fields(response) {
		_ = enc.Encode(ollamaChatResponse{
			Model:   req.Model,
			Message: AssistantMessage(word + " "),
		})
		flusher.Flush()
	}
	if !omitDone {
		_ = enc.Encode(ollamaChatResponse{
			Model:           req.Model,
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 26,
			EvalCount:       298,
		})
		flusher.Flush()
	}
}

func (f *fakeOllamaChat) request(call int) ollamaChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[call]
}

// drain collects a stream into its content chunks and terminal chunk.
func drain(t *testing.T, ch <-chan StreamChunk) (contents []string, terminal StreamChunk) {
	t.Helper()
	sawTerminal := false
	for chunk := range ch {
		require.False(t, sawTerminal, "chunk received after terminal chunk")
		if chunk.Done || chunk.Err != nil {
			terminal = chunk
			sawTerminal = true
			continue
		}
		contents = append(contents, chunk.Content)
	}
	require.True(t, sawTerminal, "stream closed without a terminal chunk")
	return contents, terminal
}

func TestOllamaLLM_Generate(t *testing.T) {
	fake := newFakeOllamaChat(t, "Prune roses in late winter.")
	client := NewOllamaLLM(OllamaConfig{Host: fake.URL(), Model: "llama3.1"})

	resp, err := client.Generate(context.Background(), []Message{UserMessage("when to prune roses?")})
	require.NoError(t, err)

	assert.Equal(t, "Prune roses in late winter.", resp.Content)
	assert.Equal(t, "llama3.1", resp.Model)
	assert.Equal(t, Usage{InputTokens: 26, OutputTokens: 298}, resp.Usage)

	req := fake.request(0)
	assert.False(t, req.Stream)
	assert.Equal(t, "llama3.1", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
}

func TestOllamaLLM_DefaultOptions(t *testing.T) {
	fake := newFakeOllamaChat(t, "ok")
	client := NewOllamaLLM(OllamaConfig{Host: fake.URL()})

	_, err := client.Generate(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	req := fake.request(0)
	assert.InDelta(t, DefaultTemperature, req.Options.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, req.Options.NumPredict)
}

func TestOllamaLLM_PerCallOverrides(t *testing.T) {
	fake := newFakeOllamaChat(t, "ok")
	client := NewOllamaLLM(OllamaConfig{Host: fake.URL(), Temperature: 0.2, MaxTokens: 512})

	_, err := client.Generate(context.Background(), []Message{UserMessage("hi")},
		WithTemperature(0.9), WithMaxTokens(64))
	require.NoError(t, err)

	req := fake.request(0)
	assert.InDelta(t, 0.9, req.Options.Temperature, 1e-9)
	assert.Equal(t, 64, req.Options.NumPredict)
}

func TestOllamaLLM_EmptyMessages(t *testing.T) {
	client := NewOllamaLLM(OllamaConfig{Host: "http://127.0.0.1:1"})

	_, err := client.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	_, err = client.StreamGenerate(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestOllamaLLM_InBandError(t *testing.T) {
	fake := newFakeOllamaChat(t, "")
	fake.errorBody = `model "missing" not found`
	client := NewOllamaLLM(OllamaConfig{Host: fake.URL(), Model: "missing"})

	_, err := client.Generate(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLLMFailed, errors.GetCode(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestOllamaLLM_ServerUnreachable(t *testing.T) {
	client := NewOllamaLLM(OllamaConfig{Host: "http://127.0.0.1:1", Timeout: time.Second})

	_, err := client.Generate(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNetworkTimeout, errors.GetCode(err))
}

func TestOllamaLLM_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model requires more system memory", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewOllamaLLM(OllamaConfig{Host: srv.URL})
	_, err := client.Generate(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLLMFailed, errors.GetCode(err))
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "system memory")
}

func TestOllamaLLM_StreamGenerate(t *testing.T) {
	fake := newFakeOllamaChat(t, "Prune roses in late winter.")
	client := NewOllamaLLM(OllamaConfig{Host: fake.URL()})

	ch, err := client.StreamGenerate(context.Background(), []Message{UserMessage("when?")})
	require.NoError(t, err)

	contents, terminal := drain(t, ch)
	assert.Equal(t, []string{"Prune ", "roses ", "in ", "late ", "winter. "}, contents)
	assert.True(t, terminal.Done)
	assert.Equal(t, Usage{InputTokens: 26, OutputTokens: 298}, terminal.Usage)
	assert.True(t, fake.request(0).Stream)
}

func TestOllamaLLM_StreamInBandError(t *testing.T) {
	fake := newFakeOllamaChat(t, "")
	fake.errorBody = "model is overloaded"
	client := NewOllamaLLM(OllamaConfig{Host: fake.URL()})

	ch, err := client.StreamGenerate(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	contents, terminal := drain(t, ch)
	assert.Empty(t, contents)
	require.Error(t, terminal.Err)
	assert.Equal(t, errors.ErrCodeLLMFailed, errors.GetCode(terminal.Err))
}

func TestOllamaLLM_StreamEndsWithoutDone(t *testing.T) {
	fake := newFakeOllamaChat(t, "partial answer")
	fake.omitDone = true
	client := NewOllamaLLM(OllamaConfig{Host: fake.URL()})

	ch, err := client.StreamGenerate(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	contents, terminal := drain(t, ch)
	assert.Equal(t, []string{"partial ", "answer "}, contents)
	require.Error(t, terminal.Err)
	assert.Contains(t, terminal.Err.Error(), "without completion")
}

func TestOllamaLLM_StreamCanceled(t *testing.T) {
	fake := newFakeOllamaChat(t, "a b c d e")
	client := NewOllamaLLM(OllamaConfig{Host: fake.URL()})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := client.StreamGenerate(ctx, []Message{UserMessage("hi")})
	require.NoError(t, err)

	<-ch
	cancel()

	// The channel must close once the producer observes cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("stream channel did not close after cancel")
		}
	}
}

func TestOllamaLLM_Available(t *testing.T) {
	fake := newFakeOllamaChat(t, "ok")

	matching := NewOllamaLLM(OllamaConfig{Host: fake.URL(), Model: "llama3.1"})
	assert.True(t, matching.Available(context.Background()))

	missing := NewOllamaLLM(OllamaConfig{Host: fake.URL(), Model: "qwen2.5"})
	assert.False(t, missing.Available(context.Background()))

	unreachable := NewOllamaLLM(OllamaConfig{Host: "http://127.0.0.1:1"})
	assert.False(t, unreachable.Available(context.Background()))
}

func TestOllamaLLM_ModelName(t *testing.T) {
	client := NewOllamaLLM(OllamaConfig{Model: "mistral"})
	assert.Equal(t, "mistral", client.ModelName())
}
