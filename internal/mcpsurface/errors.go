// Package mcpsurface exposes the four core operations — search, status,
// check_index, repair_index — over MCP stdio. It is a thin shim over
// internal/app's wiring, not a second protocol surface: every handler
// here does exactly what the corresponding cobra command does, just
// shaped for mcp.AddTool's typed request/response contract.
package mcpsurface

import (
	"context"
	"errors"
	"fmt"

	aerrors "github.com/amanmcp/codesearch/internal/errors"
)

// Custom MCP error codes, reserved in the same -3200x band the standard
// JSON-RPC codes leave open for application use.
const (
	ErrCodeIndexNotFound   = -32001
	ErrCodeEmbeddingFailed = -32002
	ErrCodeTimeout         = -32003
	ErrCodeFileNotFound    = -32004
	ErrCodeQueryEmpty      = -32005

	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is the error shape returned from a tool handler.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// MapError converts an internal error into an MCPError, reading
// structured AmanError fields when present and falling back to a generic
// internal error otherwise.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var amanErr *aerrors.AmanError
	if errors.As(err, &amanErr) {
		return mapAmanError(amanErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out"}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "internal server error"}
	}
}

func mapAmanError(ae *aerrors.AmanError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}

	switch ae.Category {
	case aerrors.CategoryValidation:
		code := ErrCodeInvalidParams
		if ae.Code == aerrors.ErrCodeQueryEmpty {
			code = ErrCodeQueryEmpty
		}
		return &MCPError{Code: code, Message: message}
	case aerrors.CategoryIO:
		switch ae.Code {
		case aerrors.ErrCodeFileNotFound:
			return &MCPError{Code: ErrCodeFileNotFound, Message: message}
		case aerrors.ErrCodeCorruptIndex, aerrors.ErrCodeStateCorrupt:
			return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: message}
		}
	case aerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		if ae.Code == aerrors.ErrCodeEmbeddingFailed {
			return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
