package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vaultrag/vaultrag/internal/agent"
	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/llm"
	"github.com/vaultrag/vaultrag/internal/rag"
)

const (
	// DefaultHistoryWindow is how many trailing messages feed reference
	// resolution and the answer prompt.
	DefaultHistoryWindow = 6
	// DefaultTopK is the retrieval depth when the caller does not set one.
	DefaultTopK = 5
	// titleMaxRunes caps auto-derived session titles.
	titleMaxRunes = 50
)

// AskResult is one complete chat turn.
type AskResult struct {
	Session *Session     `json:"session"`
	Answer  string       `json:"answer"`
	Sources []rag.Source `json:"sources"`
	Model   string       `json:"model"`
	Usage   llm.Usage    `json:"usage"`
}

// AskStream is one chat turn delivered incrementally. Session, sources
// and model are known before the first token; Chunks yields content
// increments and a terminal chunk carrying usage. The assistant
// message is recorded once the stream completes cleanly.
type AskStream struct {
	Session *Session
	Sources []rag.Source
	Model   string
	Chunks  <-chan llm.StreamChunk
}

// Service runs multi-turn RAG conversations: it resolves pronoun
// references against session history, retrieves through the chain's
// retriever, generates grounded answers, and records both sides of
// each turn.
type Service struct {
	store         *Store
	chain         *rag.Chain
	rewriter      *agent.Rewriter
	historyWindow int
	topK          int
	logger        *slog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithHistoryWindow sets how many trailing messages feed each turn.
func WithHistoryWindow(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.historyWindow = n
		}
	}
}

// WithTopK sets the retrieval depth per turn.
func WithTopK(k int) ServiceOption {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// NewService builds a chat service on a session store and an answer
// chain. The reference rewriter shares the chain's model.
func NewService(store *Store, chain *rag.Chain, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		chain:         chain,
		rewriter:      agent.NewRewriter(chain.Model()),
		historyWindow: DefaultHistoryWindow,
		topK:          DefaultTopK,
		logger:        slog.Default().With("component", "chat_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the session store for the CRUD surface.
func (s *Service) Store() *Store {
	return s.store
}

// Ask answers one question inside a session and records the turn.
// An empty sessionID starts a new session titled from the question.
func (s *Service) Ask(ctx context.Context, sessionID, query string, opts ...llm.Option) (*AskResult, error) {
	turn, err := s.beginTurn(ctx, sessionID, query)
	if err != nil {
		return nil, err
	}

	answer, err := s.chain.AnswerFromResult(ctx, query, turn.retrieval, turn.history, opts...)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.AppendMessage(ctx, turn.session.ID, llm.RoleAssistant, answer.Answer, answer.Sources); err != nil {
		return nil, err
	}

	return &AskResult{
		Session: turn.session,
		Answer:  answer.Answer,
		Sources: answer.Sources,
		Model:   answer.Model,
		Usage:   answer.Usage,
	}, nil
}

// StreamAsk answers one question incrementally. The assistant message
// is recorded only when the stream reaches its terminal chunk; aborted
// generations leave just the user message behind.
func (s *Service) StreamAsk(ctx context.Context, sessionID, query string, opts ...llm.Option) (*AskStream, error) {
	turn, err := s.beginTurn(ctx, sessionID, query)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.StreamAnswerFromResult(ctx, query, turn.retrieval, turn.history, opts...)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go s.recordStream(ctx, turn.session.ID, stream, out)

	return &AskStream{
		Session: turn.session,
		Sources: stream.Sources,
		Model:   stream.Model,
		Chunks:  out,
	}, nil
}

// turn is the shared state of one question before generation.
type turn struct {
	session   *Session
	history   []llm.Message
	retrieval *rag.RetrievalResult
}

// beginTurn loads the session and its history, resolves references,
// records the user message, and retrieves. The resolved question feeds
// retrieval only; generation sees the question as asked plus history.
func (s *Service) beginTurn(ctx context.Context, sessionID, query string) (*turn, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "question must not be empty", nil)
	}

	session, err := s.ensureSession(ctx, sessionID, query)
	if err != nil {
		return nil, err
	}

	recent, err := s.store.RecentMessages(ctx, session.ID, s.historyWindow)
	if err != nil {
		return nil, err
	}
	history := historyMessages(recent)

	resolved := s.rewriter.ResolveReferences(ctx, query, history)
	if resolved != query {
		s.logger.Debug("references_resolved",
			"session_id", session.ID,
			"resolved_len", len(resolved))
	}

	if _, err := s.store.AppendMessage(ctx, session.ID, llm.RoleUser, query, nil); err != nil {
		return nil, err
	}

	retrieval, err := s.chain.Retriever().Retrieve(ctx, resolved, s.topK)
	if err != nil {
		return nil, err
	}

	return &turn{session: session, history: history, retrieval: retrieval}, nil
}

func (s *Service) ensureSession(ctx context.Context, sessionID, query string) (*Session, error) {
	if sessionID == "" {
		return s.store.CreateSession(ctx, sessionTitle(query), "")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.New(errors.ErrCodeSessionNotFound, "session not found", nil).
			WithDetail("session_id", sessionID)
	}
	return session, nil
}

// recordStream forwards chunks to the caller while accumulating the
// answer, then records the assistant message after a clean terminal
// chunk.
func (s *Service) recordStream(ctx context.Context, sessionID string, stream *rag.AnswerStream, out chan<- llm.StreamChunk) {
	defer close(out)

	var answer strings.Builder
	completed := false

	for chunk := range stream.Chunks {
		if chunk.Err == nil {
			answer.WriteString(chunk.Content)
			if chunk.Done {
				completed = true
			}
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}

	if !completed {
		return
	}

	// The record must survive the request context being canceled right
	// after the terminal chunk is delivered.
	recordCtx := context.WithoutCancel(ctx)
	content := strings.TrimSpace(answer.String())
	if _, err := s.store.AppendMessage(recordCtx, sessionID, llm.RoleAssistant, content, stream.Sources); err != nil {
		s.logger.Warn("failed to record assistant message",
			"session_id", sessionID,
			"error", err)
	}
}

func historyMessages(messages []Message) []llm.Message {
	if len(messages) == 0 {
		return nil
	}
	history := make([]llm.Message, len(messages))
	for i, m := range messages {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return history
}

// sessionTitle derives a session title from its first question.
func sessionTitle(query string) string {
	title := strings.Join(strings.Fields(query), " ")
	if runes := []rune(title); len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes]) + "..."
	}
	return title
}
