// Package batch runs an ordered list of commands through the dispatcher, isolating every item so a
// single failure never stops the batch.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/editor-gateway/pkg/command"
)

const logPrefix = "batch:batch"

// DefaultSizeLimit is the default maximum number of commands per batch.
const DefaultSizeLimit = 50

// Handler executes one command.
type Handler interface {
	Handle(ctx context.Context, commandType string, params map[string]interface{}) *command.Result
}

// ItemError describes one failed batch item.
type ItemError struct {
	Index       int    `json:"index"`
	CommandType string `json:"command_type,omitempty"`
	Error       string `json:"error"`
	ErrorID     string `json:"error_id,omitempty"`
}

// Outcome is the aggregated result of a batch. For every executed batch Success equals
// ErrorCount == 0 and CommandCount equals the number of submitted items. A rejected batch carries
// Error and ErrorID and executes nothing.
type Outcome struct {
	Results       []map[string]interface{} `json:"results"`
	Errors        []ItemError              `json:"errors"`
	CommandCount  int                      `json:"commandCount"`
	SuccessCount  int                      `json:"successCount"`
	ErrorCount    int                      `json:"errorCount"`
	ExecutionTime float64                  `json:"executionTime"`
	Success       bool                     `json:"success"`
	Error         string                   `json:"error,omitempty"`
	ErrorID       string                   `json:"error_id,omitempty"`
}

// Option customizes an Executor.
type Option func(*Executor)

// WithErrorSink sets where item failures are reported.
func WithErrorSink(s command.ErrorSink) Option {
	return func(e *Executor) { e.sink = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// Executor runs batches. It holds no per-batch state and is safe for concurrent use.
type Executor struct {
	handler Handler
	limit   int
	sink    command.ErrorSink
	now     func() time.Time
}

// New creates an Executor. A limit <= 0 disables the batch size check.
func New(h Handler, limit int, opts ...Option) *Executor {
	e := &Executor{handler: h, limit: limit, sink: command.NopSink{}, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs commands in order. commands is the decoded JSON value of the request: anything other
// than a non-empty array is rejected. Array items that are not objects with a string "type" become
// error entries without stopping the batch.
func (e *Executor) Execute(ctx context.Context, commands interface{}) (out *Outcome) {
	start := e.now()
	items, ok := asItems(commands)
	out = &Outcome{
		Results:      []map[string]interface{}{},
		Errors:       []ItemError{},
		CommandCount: len(items),
	}
	defer func() {
		out.ExecutionTime = e.now().Sub(start).Seconds()
	}()

	if !ok || len(items) == 0 {
		return e.reject(out, "invalid commands parameter: expected a non-empty array of command objects")
	}
	if e.limit > 0 && len(items) > e.limit {
		return e.reject(out, fmt.Sprintf("batch of %d commands exceeds the batch size limit of %d", len(items), e.limit))
	}

	index := 0
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("unexpected error: %v", p)
			slog.Error(fmt.Sprintf("%s - unexpected error in batch processing at index %d: %v", logPrefix, index, p))
			id := e.sink.Report("BatchProcessingError", msg, map[string]interface{}{"command_index": index})
			out.Errors = append(out.Errors, ItemError{Index: index, Error: msg, ErrorID: id})
			e.finish(out)
		}
	}()

	for i, item := range items {
		index = i
		e.runItem(ctx, i, item, out)
	}
	e.finish(out)
	slog.Info(fmt.Sprintf("%s - batch of %d commands finished: %d succeeded, %d failed",
		logPrefix, out.CommandCount, out.SuccessCount, out.ErrorCount))
	return out
}

func (e *Executor) runItem(ctx context.Context, i int, item interface{}, out *Outcome) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		out.Errors = append(out.Errors, ItemError{Index: i, Error: fmt.Sprintf("command at index %d is not a valid object", i)})
		return
	}
	commandType, ok := obj["type"].(string)
	if !ok || strings.TrimSpace(commandType) == "" {
		out.Errors = append(out.Errors, ItemError{Index: i, Error: fmt.Sprintf("command at index %d is missing required 'type' property", i)})
		return
	}
	var params map[string]interface{}
	switch p := obj["parameters"].(type) {
	case nil:
		params = map[string]interface{}{}
	case map[string]interface{}:
		params = p
	default:
		out.Errors = append(out.Errors, ItemError{
			Index:       i,
			CommandType: commandType,
			Error:       fmt.Sprintf("parameters of command at index %d must be an object", i),
		})
		return
	}

	if err := ctx.Err(); err != nil {
		out.Errors = append(out.Errors, ItemError{Index: i, CommandType: commandType, Error: "batch cancelled: " + err.Error()})
		return
	}

	itemStart := e.now()
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("error executing command: %v", p)
			out.Errors = append(out.Errors, ItemError{
				Index:       i,
				CommandType: commandType,
				Error:       msg,
				ErrorID:     e.reportItem(msg, commandType, i, params),
			})
		}
	}()

	res := e.handler.Handle(ctx, commandType, params)
	elapsed := e.now().Sub(itemStart)
	if res == nil {
		res = command.Failed(command.KindHandler, "no result", "", elapsed)
	}
	if !res.Success {
		id := res.ErrorID
		if id == "" {
			id = e.reportItem(res.Error, commandType, i, params)
		}
		out.Errors = append(out.Errors, ItemError{Index: i, CommandType: commandType, Error: res.Error, ErrorID: id})
		return
	}

	m := res.Map()
	m["commandType"] = commandType
	m["executionTime"] = elapsed.Seconds()
	out.Results = append(out.Results, m)
	slog.Info(fmt.Sprintf("%s - batch executed command: %s in %.4fs", logPrefix, commandType, elapsed.Seconds()))
}

func (e *Executor) reportItem(message, commandType string, index int, params map[string]interface{}) string {
	slog.Error(fmt.Sprintf("%s - error executing command %s: %s", logPrefix, commandType, message))
	return e.sink.Report("BatchCommandExecutionError", message, map[string]interface{}{
		"command_type":  commandType,
		"command_index": index,
		"parameters":    params,
	})
}

func (e *Executor) reject(out *Outcome, message string) *Outcome {
	out.Success = false
	out.Error = message
	out.ErrorID = e.sink.Report(string(command.KindValidation), message, map[string]interface{}{
		"command_count": out.CommandCount,
		"limit":         e.limit,
	})
	slog.Warn(fmt.Sprintf("%s - batch rejected: %s", logPrefix, message))
	return out
}

func (e *Executor) finish(out *Outcome) {
	out.SuccessCount = len(out.Results)
	out.ErrorCount = len(out.Errors)
	out.Success = out.ErrorCount == 0
}

// asItems normalizes the accepted list shapes into a generic item slice.
func asItems(v interface{}) ([]interface{}, bool) {
	switch list := v.(type) {
	case []interface{}:
		return list, true
	case []map[string]interface{}:
		items := make([]interface{}, len(list))
		for i, m := range list {
			items[i] = m
		}
		return items, true
	case []command.Command:
		items := make([]interface{}, len(list))
		for i, c := range list {
			params := c.Parameters
			if params == nil {
				params = map[string]interface{}{}
			}
			items[i] = map[string]interface{}{"type": c.Type, "parameters": params}
		}
		return items, true
	default:
		return nil, false
	}
}
