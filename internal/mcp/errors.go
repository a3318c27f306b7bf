package mcp

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// JSON-RPC error codes surfaced to MCP clients.
const (
	// ErrCodeTimeout reports timeouts, cancellations, and unreachable
	// backends.
	ErrCodeTimeout = -32003

	// ErrCodeSyncBusy reports a sync cycle already holding the
	// collection lock.
	ErrCodeSyncBusy = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a JSON-RPC error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// mapError converts pipeline errors into JSON-RPC errors. Suggestions
// ride along in the message since the protocol has no field for them.
func mapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var ve *errors.VaultError
	if stderrors.As(err, &ve) {
		message := ve.Message
		if ve.Suggestion != "" {
			message = fmt.Sprintf("%s %s", ve.Message, ve.Suggestion)
		}

		switch {
		case ve.Code == errors.ErrCodeSyncInProgress:
			return &MCPError{Code: ErrCodeSyncBusy, Message: message}
		case ve.Category == errors.CategoryValidation:
			return &MCPError{Code: ErrCodeInvalidParams, Message: message}
		case ve.Category == errors.CategoryNetwork:
			return &MCPError{Code: ErrCodeTimeout, Message: message}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: message}
		}
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case stderrors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}
