package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/llm"
	"github.com/vaultrag/vaultrag/internal/rag"
)

// SSE event payloads, one JSON object per data frame. The start event
// precedes the first token so clients can render sources immediately;
// done closes the stream with usage totals.
type startEvent struct {
	Type    string       `json:"type"`
	Sources []rag.Source `json:"sources"`
	Model   string       `json:"model"`
}

type contentEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type doneEvent struct {
	Type  string    `json:"type"`
	Usage llm.Usage `json:"usage"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, errors.ValidationError("invalid chat request body", err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errors.InternalError("connection does not support streaming", nil))
		return
	}

	stream, err := s.chat.StreamAsk(r.Context(), req.SessionID, req.Message, req.options()...)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sources := stream.Sources
	if sources == nil {
		sources = []rag.Source{}
	}
	if err := writeEvent(w, startEvent{Type: "start", Sources: sources, Model: stream.Model}); err != nil {
		return
	}
	flusher.Flush()

	// Drain to the channel close rather than stopping at the done
	// event: the service records the turn before closing.
	for chunk := range stream.Chunks {
		if chunk.Err != nil {
			// The event vocabulary has no error type; ending the stream
			// without a done event tells the client the answer is
			// incomplete.
			s.logger.Warn("generation failed mid-stream", "error", chunk.Err)
			return
		}
		if chunk.Content != "" {
			if err := writeEvent(w, contentEvent{Type: "content", Content: chunk.Content}); err != nil {
				return
			}
			flusher.Flush()
		}
		if chunk.Done {
			if err := writeEvent(w, doneEvent{Type: "done", Usage: chunk.Usage}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE data frame.
func writeEvent(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
