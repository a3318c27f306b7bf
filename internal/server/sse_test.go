package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/llm"
)

// collectEvents parses every SSE data frame in body.
func collectEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &event), "frame: %s", payload)
		events = append(events, event)
	}
	return events
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, llm.NewFakeLLM("Grounded answer."), &stubRetriever{result: alphaResult()})

	rec := doJSON(t, env.handler, http.MethodPost, "/chat", `{"message":"What is alpha?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Session struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"session"`
		Answer  string `json:"answer"`
		Sources []struct {
			Source string `json:"source"`
		} `json:"sources"`
		Model string    `json:"model"`
		Usage llm.Usage `json:"usage"`
	}
	decodeInto(t, rec, &res)
	assert.NotEmpty(t, res.Session.ID)
	assert.Equal(t, "What is alpha?", res.Session.Title)
	assert.Equal(t, "Grounded answer.", res.Answer)
	assert.Equal(t, llm.FakeModelName, res.Model)
	assert.Equal(t, llm.Usage{InputTokens: 10, OutputTokens: 5}, res.Usage)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "a.md", res.Sources[0].Source)
}

func TestChat_ReusesSession(t *testing.T) {
	env := newTestEnv(t, llm.NewFakeLLM("Answer."), &stubRetriever{result: alphaResult()})

	rec := doJSON(t, env.handler, http.MethodPost, "/sessions", `{"title":"thread"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	decodeInto(t, rec, &created)

	rec = doJSON(t, env.handler, http.MethodPost, "/chat",
		`{"message":"first question","session_id":"`+created.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	decodeInto(t, rec, &res)
	assert.Equal(t, created.ID, res.Session.ID)
}

func TestChat_EmptyMessage(t *testing.T) {
	env := newTestEnv(t, llm.NewFakeLLM(), &stubRetriever{})

	rec := doJSON(t, env.handler, http.MethodPost, "/chat", `{"message":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	decodeInto(t, rec, &body)
	assert.Equal(t, errors.ErrCodeQueryEmpty, body.Code)
}

func TestChat_UnknownSession(t *testing.T) {
	env := newTestEnv(t, llm.NewFakeLLM(), &stubRetriever{})

	rec := doJSON(t, env.handler, http.MethodPost, "/chat",
		`{"message":"hello","session_id":"no-such-id"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChat_GenerationOptions(t *testing.T) {
	fake := llm.NewFakeLLM("Tuned.")
	env := newTestEnv(t, fake, &stubRetriever{result: alphaResult()})

	rec := doJSON(t, env.handler, http.MethodPost, "/chat",
		`{"message":"tune it","temperature":0.1,"max_tokens":64}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, llm.Options{Temperature: 0.1, MaxTokens: 64}, fake.LastOptions())
}

func TestChat_ModelFailure(t *testing.T) {
	fake := llm.NewFakeLLM()
	fake.SetError(errors.LLMError("model offline", nil))
	env := newTestEnv(t, fake, &stubRetriever{result: alphaResult()})

	rec := doJSON(t, env.handler, http.MethodPost, "/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body errorResponse
	decodeInto(t, rec, &body)
	assert.Equal(t, errors.ErrCodeLLMFailed, body.Code)
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t, llm.NewFakeLLM("Streamed grounded reply."), &stubRetriever{result: alphaResult()})

	rec := doJSON(t, env.handler, http.MethodPost, "/chat/stream", `{"message":"What is alpha?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	events := collectEvents(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 3)

	start := events[0]
	assert.Equal(t, "start", start["type"])
	assert.Equal(t, llm.FakeModelName, start["model"])
	sources, ok := start["sources"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)
	firstSource, ok := sources[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a.md", firstSource["source"])

	var answer strings.Builder
	for _, event := range events[1 : len(events)-1] {
		require.Equal(t, "content", event["type"])
		content, ok := event["content"].(string)
		require.True(t, ok)
		answer.WriteString(content)
	}
	assert.Equal(t, "Streamed grounded reply.", strings.TrimSpace(answer.String()))

	done := events[len(events)-1]
	require.Equal(t, "done", done["type"])
	usage, ok := done["usage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(10), usage["input_tokens"])
	assert.Equal(t, float64(5), usage["output_tokens"])

	// The handler drains to the channel close, and the service records
	// the assistant message before closing.
	ctx := context.Background()
	sessions, err := env.chat.Store().ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	messages, err := env.chat.Store().ListMessages(ctx, sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Streamed grounded reply.", messages[1].Content)
}

func TestChatStream_EmptyMessage(t *testing.T) {
	env := newTestEnv(t, llm.NewFakeLLM(), &stubRetriever{})

	rec := doJSON(t, env.handler, http.MethodPost, "/chat/stream", `{"message":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body errorResponse
	decodeInto(t, rec, &body)
	assert.Equal(t, errors.ErrCodeQueryEmpty, body.Code)
}

// blockingLLM streams one token then parks until the request context
// ends, closing without a terminal chunk.
type blockingLLM struct{}

var _ llm.LLM = (*blockingLLM)(nil)

func (b *blockingLLM) Generate(context.Context, []llm.Message, ...llm.Option) (*llm.Response, error) {
	return &llm.Response{Content: "unused", Model: b.ModelName()}, nil
}

func (b *blockingLLM) StreamGenerate(ctx context.Context, _ []llm.Message, _ ...llm.Option) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		select {
		case ch <- llm.StreamChunk{Content: "partial "}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func (b *blockingLLM) ModelName() string {
	return "blocking-llm"
}

func TestChatStream_ClientDisconnect(t *testing.T) {
	env := newTestEnv(t, &blockingLLM{}, &stubRetriever{result: alphaResult()})

	ts := httptest.NewServer(env.handler)
	resp, err := ts.Client().Post(ts.URL+"/chat/stream", "application/json",
		strings.NewReader(`{"message":"What is alpha?"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, `"type":"content"`) {
			break
		}
	}
	require.NoError(t, resp.Body.Close())

	// Close waits for the in-flight handler, which only returns once
	// the canceled request context unparked the generation.
	ts.Close()

	ctx := context.Background()
	sessions, err := env.chat.Store().ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	messages, err := env.chat.Store().ListMessages(ctx, sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, llm.RoleUser, messages[0].Role)
}
