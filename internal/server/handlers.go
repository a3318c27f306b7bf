package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/index"
	"github.com/vaultrag/vaultrag/internal/llm"
	"github.com/vaultrag/vaultrag/internal/rag"
)

// defaultSessionTitle names sessions created without one.
const defaultSessionTitle = "New Chat"

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type statusResponse struct {
	Status string   `json:"status"`
	DB     dbStatus `json:"db"`
}

type dbStatus struct {
	Name        string `json:"name"`
	Count       int    `json:"count"`
	PersistPath string `json:"persist_path,omitempty"`
	Embedder    string `json:"embedder"`
}

type syncRequest struct {
	IncludePaths []string `json:"include_paths"`
}

type createSessionRequest struct {
	Title     string `json:"title"`
	ProjectID string `json:"project_id"`
}

type chatRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"session_id"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

// options translates the request's tuning fields into generation
// options, leaving provider defaults in place for absent ones.
func (r chatRequest) options() []llm.Option {
	var opts []llm.Option
	if r.Temperature != nil {
		opts = append(opts, llm.WithTemperature(*r.Temperature))
	}
	if r.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(r.MaxTokens))
	}
	return opts
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.collection.Count(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	db := dbStatus{
		Name:     s.collection.Name(),
		Count:    count,
		Embedder: s.embedder.ModelName(),
	}
	// Only locally persisted backends have a path to report.
	if p, ok := s.collection.(interface{ Path() string }); ok {
		db.PersistPath = p.Path()
	}

	s.writeJSON(w, http.StatusOK, statusResponse{Status: "running", DB: db})
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	forceReindex := false
	if raw := r.URL.Query().Get("force_reindex"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, errors.ValidationError("invalid force_reindex flag", err).
				WithDetail("force_reindex", raw))
			return
		}
		forceReindex = parsed
	}

	var req syncRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, errors.ValidationError("invalid sync request body", err))
		return
	}

	includePaths := req.IncludePaths
	// A project is a folder within the vault; scoping the cycle to its
	// prefix syncs just that project.
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		includePaths = append(includePaths, projectID)
	}

	result, err := s.syncer.SyncWithOptions(r.Context(), index.SyncOptions{
		IncludePaths: includePaths,
		ForceReindex: forceReindex,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if result.Errors == nil {
		result.Errors = []string{}
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, errors.ValidationError("invalid chat request body", err))
		return
	}

	result, err := s.chat.Ask(r.Context(), req.SessionID, req.Message, req.options()...)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if result.Sources == nil {
		result.Sources = []rag.Source{}
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.chat.Store().ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, errors.ValidationError("invalid session request body", err))
		return
	}
	if req.Title == "" {
		req.Title = defaultSessionTitle
	}

	session, err := s.chat.Store().CreateSession(r.Context(), req.Title, req.ProjectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.chat.Store().GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if session == nil {
		s.writeError(w, errors.New(errors.ErrCodeSessionNotFound, "session not found", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	existed, err := s.chat.Store().DeleteSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !existed {
		s.writeError(w, errors.New(errors.ErrCodeSessionNotFound, "session not found", nil))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	session, err := s.chat.Store().GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if session == nil {
		s.writeError(w, errors.New(errors.ErrCodeSessionNotFound, "session not found", nil))
		return
	}

	messages, err := s.chat.Store().ListMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messages)
}

// decodeBody reads a JSON body, treating an absent body as the zero
// value.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if stderrors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{
		Error: errorMessage(err),
		Code:  errors.GetCode(err),
	})
}

// statusFromError maps the error taxonomy onto HTTP statuses.
func statusFromError(err error) int {
	var ve *errors.VaultError
	if !stderrors.As(err, &ve) {
		return http.StatusInternalServerError
	}

	switch ve.Code {
	case errors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case errors.ErrCodeSyncInProgress:
		return http.StatusConflict
	case errors.ErrCodeQueryEmpty, errors.ErrCodeInvalidInput,
		errors.ErrCodeInvalidPath, errors.ErrCodeInvalidWeights:
		return http.StatusBadRequest
	}

	if ve.Category == errors.CategoryNetwork {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorMessage returns the bare message; the code travels in its own
// field.
func errorMessage(err error) string {
	var ve *errors.VaultError
	if stderrors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}
