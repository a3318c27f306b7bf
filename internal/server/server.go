// Package server exposes the vault over HTTP: sync triggers, store
// status, and session-scoped chat with SSE streaming.
package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vaultrag/vaultrag/internal/chat"
	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/index"
	"github.com/vaultrag/vaultrag/internal/store"
)

// shutdownTimeout bounds the drain of in-flight requests once the
// serve context ends.
const shutdownTimeout = 10 * time.Second

// Syncer triggers sync cycles against the vault.
type Syncer interface {
	SyncWithOptions(ctx context.Context, opts index.SyncOptions) (index.SyncResult, error)
}

// Collection is the slice of the vector store the status endpoint
// reports on. Backends that persist locally additionally expose
// Path() string, surfaced as persist_path.
type Collection interface {
	Name() string
	Count(ctx context.Context) (int, error)
}

// Config wires the server's dependencies.
type Config struct {
	Syncer     Syncer
	Chat       *chat.Service
	Collection Collection
	Embedder   store.Embedder
	Logger     *slog.Logger
}

// Server is the HTTP API over a synced vault.
type Server struct {
	syncer     Syncer
	chat       *chat.Service
	collection Collection
	embedder   store.Embedder
	logger     *slog.Logger
}

// New builds a server from its wiring.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		syncer:     cfg.Syncer,
		chat:       cfg.Chat,
		collection: cfg.Collection,
		embedder:   cfg.Embedder,
		logger:     logger.With("component", "http_server"),
	}
}

// Handler returns the routed API handler. Exposed separately from
// ListenAndServe so tests can drive it without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sync/trigger", s.handleSyncTrigger)

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /sessions/{id}/messages", s.handleSessionMessages)

	return s.logRequests(mux)
}

// ListenAndServe serves the API on addr until ctx is canceled, then
// drains in-flight requests. Open SSE streams end with the base
// context when shutdown begins.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.NetworkError("http server failed", err).
				WithDetail("addr", addr)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.NetworkError("http server shutdown failed", err)
	}
	return nil
}

// logRequests records one line per request with the response status.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// statusWriter records the response code and keeps streaming handlers
// flushable through the wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
