// Package gateway exposes the agent-facing tools (execute, batch, async operations, metrics, health)
// behind a request/reply envelope.
package gateway

import (
	"encoding/json"
	"time"
)

// Request is the JSON envelope for incoming tool requests.
type Request struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params,omitempty"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// Response is the JSON envelope for tool responses.
type Response struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes an envelope-level failure. Tool failures are reported inside Result.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	DeadlineMs    int    `json:"deadlineMs,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}

// Timeout returns the caller's requested budget, preferring DeadlineMs. Zero means none.
func (c *InvocationContext) Timeout() time.Duration {
	if c == nil {
		return 0
	}
	ms := c.DeadlineMs
	if ms <= 0 {
		ms = c.TimeoutMs
	}
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Methods lists every request method the gateway routes.
var Methods = []string{
	"execute",
	"batch_execute",
	"async_execute",
	"get_async_status",
	"cancel_async_operation",
	"list_async_operations",
	"get_tool_metrics",
	"health",
}

// IsMethod reports whether name is a routed request method.
func IsMethod(name string) bool {
	for _, m := range Methods {
		if m == name {
			return true
		}
	}
	return false
}

// Envelope error codes.
const (
	CodeMethodNotFound  = "METHOD_NOT_FOUND"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInternal        = "INTERNAL_ERROR"
)

func errorResponse(id, code, message string, retryable bool) *Response {
	return &Response{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}
