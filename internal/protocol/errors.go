package protocol

import (
	"fmt"
	"time"
)

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server-defined codes, kept inside the JSON-RPC implementation range.
const (
	RequestTimeout      = -32001
	TransportError      = -32002
	AuthenticationError = -32003
	RateLimitError      = -32004
	ValidationError     = -32005
	ExecutionError      = -32006
)

// MCPError is a JSON-RPC error object.
type MCPError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("MCP Error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("MCP Error %d: %s", e.Code, e.Message)
}

// NewMCPError creates an error with optional data.
func NewMCPError(code int, message string, data map[string]interface{}) *MCPError {
	return &MCPError{Code: code, Message: message, Data: data}
}

func typed(code int, message, kind string, extra map[string]interface{}) *MCPError {
	data := map[string]interface{}{"type": kind}
	for k, v := range extra {
		data[k] = v
	}
	return NewMCPError(code, message, data)
}

func NewParseError(detail string) *MCPError {
	return typed(ParseError, "Parse error", "parse_error", map[string]interface{}{"detail": detail})
}

func NewInvalidRequest(detail string) *MCPError {
	return typed(InvalidRequest, "Invalid request", "invalid_request", map[string]interface{}{"detail": detail})
}

func NewMethodNotFound(method string) *MCPError {
	return typed(MethodNotFound, "Method not found: "+method, "method_not_found", map[string]interface{}{"method": method})
}

func NewInvalidParams(detail string, data map[string]interface{}) *MCPError {
	extra := map[string]interface{}{"detail": detail}
	for k, v := range data {
		extra[k] = v
	}
	return typed(InvalidParams, "Invalid params", "invalid_params", extra)
}

func NewInternalError(detail string) *MCPError {
	return typed(InternalError, "Internal error", "internal_error", map[string]interface{}{"detail": detail})
}

func NewRequestTimeout(operation, timeout string) *MCPError {
	return typed(RequestTimeout, fmt.Sprintf("%s timed out after %s", operation, timeout), "timeout_error",
		map[string]interface{}{"operation": operation, "timeout": timeout})
}

func NewTransportError(transport, detail string) *MCPError {
	return typed(TransportError, fmt.Sprintf("%s transport error: %s", transport, detail), "transport_error",
		map[string]interface{}{"transport": transport})
}

func NewAuthenticationError(detail string) *MCPError {
	return typed(AuthenticationError, "Authentication failed: "+detail, "authentication_error", nil)
}

func NewRateLimitError(limit, retryAfter string) *MCPError {
	return typed(RateLimitError, "Rate limit exceeded", "rate_limit_error",
		map[string]interface{}{"limit": limit, "retry_after": retryAfter})
}

func NewValidationError(field, value, reason string) *MCPError {
	return typed(ValidationError, fmt.Sprintf("Invalid %s: %s", field, reason), "validation_error",
		map[string]interface{}{"field": field, "value": value})
}

func NewExecutionError(tool, detail string) *MCPError {
	return typed(ExecutionError, fmt.Sprintf("%s failed: %s", tool, detail), "execution_error",
		map[string]interface{}{"tool": tool})
}

// IsRetryable reports whether a client may retry the request unchanged.
func (e *MCPError) IsRetryable() bool {
	switch e.Code {
	case RequestTimeout, TransportError, RateLimitError, InternalError:
		return true
	default:
		return false
	}
}

// RetryDelay suggests a backoff before retrying.
func (e *MCPError) RetryDelay() time.Duration {
	switch e.Code {
	case RateLimitError:
		return 30 * time.Second
	case RequestTimeout, TransportError, InternalError:
		return 2 * time.Second
	default:
		return 0
	}
}
