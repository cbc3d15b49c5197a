// Package command defines the command and result types shared by the dispatcher, batch executor and
// async operation manager.
package command

import (
	"encoding/json"
	"time"
)

// Command is a (type, parameters) request the gateway can execute.
type Command struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Result is the outcome of one dispatched command. It never carries a Go error; failures are
// described by Success, Error, ErrorID and Kind.
type Result struct {
	Payload       map[string]interface{}
	Success       bool
	Error         string
	ErrorID       string
	Kind          Kind
	ExecutionTime time.Duration
	Cached        bool
}

// Succeeded builds a successful result. A payload that carries a boolean "success" field
// decides the outcome itself (remote hosts report their own failures that way).
func Succeeded(payload map[string]interface{}, elapsed time.Duration) *Result {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	r := &Result{Payload: payload, Success: true, ExecutionTime: elapsed}
	if ok, present := payload["success"].(bool); present && !ok {
		r.Success = false
		r.Kind = KindHandler
		if msg, isStr := payload["error"].(string); isStr {
			r.Error = msg
		} else {
			r.Error = "command reported failure"
		}
	}
	return r
}

// Failed builds a failed result.
func Failed(kind Kind, message, errorID string, elapsed time.Duration) *Result {
	return &Result{
		Payload:       map[string]interface{}{},
		Success:       false,
		Error:         message,
		ErrorID:       errorID,
		Kind:          kind,
		ExecutionTime: elapsed,
	}
}

// WrapPayload returns v as a mapping; non-mapping values are wrapped as {"result": v}.
func WrapPayload(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"result": v}
}

// Map flattens the result into the JSON object returned to agents. The payload is copied so
// callers may annotate the returned map freely.
func (r *Result) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Payload)+3)
	for k, v := range r.Payload {
		out[k] = v
	}
	out["success"] = r.Success
	if !r.Success {
		out["error"] = r.Error
		if r.ErrorID != "" {
			out["error_id"] = r.ErrorID
		}
	}
	return out
}

// MarshalJSON encodes the flattened form.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}
