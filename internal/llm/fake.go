package llm

import (
	"context"
	"strings"
	"sync"
)

// FakeLLM defaults
const (
	FakeModelName    = "fake-llm"
	FakeResponse     = "This is a fake response."
	fakeInputTokens  = 10
	fakeOutputTokens = 5
)

// FakeLLM is a deterministic in-memory LLM for tests and dry runs. It
// replays scripted responses in order, repeating the last one when the
// script runs out, and records every call it receives.
type FakeLLM struct {
	mu        sync.Mutex
	responses []string
	next      int
	err       error
	calls     [][]Message
	opts      []Options
}

var _ LLM = (*FakeLLM)(nil)

// NewFakeLLM creates a fake that cycles through the given responses.
// With no arguments it always returns FakeResponse.
func NewFakeLLM(responses ...string) *FakeLLM {
	if len(responses) == 0 {
		responses = []string{FakeResponse}
	}
	return &FakeLLM{responses: responses}
}

// SetError makes every subsequent call fail with err. Pass nil to
// clear it.
func (f *FakeLLM) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the message lists of every call so far.
func (f *FakeLLM) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Message, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many calls the fake has served.
func (f *FakeLLM) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// LastOptions returns the resolved options of the most recent call.
func (f *FakeLLM) LastOptions() Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opts) == 0 {
		return Options{}
	}
	return f.opts[len(f.opts)-1]
}

// ModelName returns the fixed fake model identifier.
func (f *FakeLLM) ModelName() string {
	return FakeModelName
}

func (f *FakeLLM) take(messages []Message, opts []Option) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recorded := make([]Message, len(messages))
	copy(recorded, messages)
	f.calls = append(f.calls, recorded)
	f.opts = append(f.opts, applyOptions(Options{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}, opts))

	if f.err != nil {
		return "", f.err
	}
	response := f.responses[f.next]
	if f.next < len(f.responses)-1 {
		f.next++
	}
	return response, nil
}

// Generate returns the next scripted response.
func (f *FakeLLM) Generate(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	response, err := f.take(messages, opts)
	if err != nil {
		return nil, err
	}
	return &Response{
		Content: response,
		Model:   FakeModelName,
		Usage:   Usage{InputTokens: fakeInputTokens, OutputTokens: fakeOutputTokens},
	}, nil
}

// StreamGenerate yields the next scripted response word by word, each
// word followed by a space, then a terminal chunk with usage.
func (f *FakeLLM) StreamGenerate(ctx context.Context, messages []Message, opts ...Option) (<-chan StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	response, err := f.take(messages, opts)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, word := range strings.Fields(response) {
			select {
			case ch <- StreamChunk{Content: word + " "}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- StreamChunk{Done: true, Usage: Usage{InputTokens: fakeInputTokens, OutputTokens: fakeOutputTokens}}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
