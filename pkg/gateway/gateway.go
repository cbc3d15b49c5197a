package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/editor-gateway/pkg/async"
	"github.com/morezero/editor-gateway/pkg/batch"
	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/commsutil"
	"github.com/morezero/editor-gateway/pkg/metrics"
)

const logPrefix = "gateway:gateway"

// Commands executes single commands.
type Commands interface {
	Handle(ctx context.Context, commandType string, params map[string]interface{}) *command.Result
}

// Batches executes command lists.
type Batches interface {
	Execute(ctx context.Context, commands interface{}) *batch.Outcome
}

// Operations tracks background commands.
type Operations interface {
	Start(commandType string, params map[string]interface{}) (*async.Operation, error)
	Get(ctx context.Context, id string) (*async.Operation, error)
	Cancel(id string) bool
	List(status async.Status) []async.Summary
}

// MetricsSource exposes per-command call metrics.
type MetricsSource interface {
	Snapshot(name string) (metrics.ToolMetrics, bool)
	All() []metrics.ToolMetrics
}

// HealthFunc reports gateway health.
type HealthFunc func(ctx context.Context) map[string]interface{}

// Deps are the components the tools call into. Nil Metrics or Health disable those methods.
type Deps struct {
	Commands   Commands
	Batches    Batches
	Operations Operations
	Metrics    MetricsSource
	Health     HealthFunc
	Sink       command.ErrorSink
	Now        func() time.Time
}

// Gateway routes envelope requests to tools.
type Gateway struct {
	deps Deps
}

// New creates a Gateway.
func New(deps Deps) *Gateway {
	if deps.Sink == nil {
		deps.Sink = command.NopSink{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Gateway{deps: deps}
}

// Dispatch routes a request to the matching tool and returns a response.
func (g *Gateway) Dispatch(ctx context.Context, req *Request) *Response {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	var tool func(context.Context, map[string]interface{}) map[string]interface{}
	switch req.Method {
	case "execute":
		tool = g.execute
	case "batch_execute":
		tool = g.batchExecute
	case "async_execute":
		tool = g.asyncExecute
	case "get_async_status":
		tool = g.getAsyncStatus
	case "cancel_async_operation":
		tool = g.cancelAsync
	case "list_async_operations":
		tool = g.listAsync
	case "get_tool_metrics":
		if g.deps.Metrics != nil {
			tool = g.toolMetrics
		}
	case "health":
		if g.deps.Health != nil {
			tool = g.health
		}
	}
	if tool == nil {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), false)
	}

	params, err := commsutil.DecodeObject(req.Params)
	if err != nil {
		return errorResponse(req.ID, CodeInvalidArgument,
			fmt.Sprintf("Failed to parse %s params: %v", req.Method, err), false)
	}
	return &Response{ID: req.ID, Ok: true, Result: tool(ctx, params)}
}

func (g *Gateway) execute(ctx context.Context, params map[string]interface{}) map[string]interface{} {
	commandType, _ := params["type"].(string)
	cmdParams, err := objectParam(params, "parameters")
	if err != nil {
		return g.failure(command.KindValidation, err.Error(), map[string]interface{}{"command_type": commandType})
	}
	return g.deps.Commands.Handle(ctx, commandType, cmdParams).Map()
}

func (g *Gateway) batchExecute(ctx context.Context, params map[string]interface{}) map[string]interface{} {
	out := g.deps.Batches.Execute(ctx, params["commands"])
	m := map[string]interface{}{
		"results":       out.Results,
		"errors":        out.Errors,
		"commandCount":  out.CommandCount,
		"successCount":  out.SuccessCount,
		"errorCount":    out.ErrorCount,
		"executionTime": out.ExecutionTime,
		"success":       out.Success,
	}
	if out.Error != "" {
		m["error"] = out.Error
		m["error_id"] = out.ErrorID
	}
	return m
}

func (g *Gateway) asyncExecute(_ context.Context, params map[string]interface{}) map[string]interface{} {
	commandType, _ := params["command_type"].(string)
	if strings.TrimSpace(commandType) == "" {
		return map[string]interface{}{"success": false, "error": "Command type is required"}
	}
	cmdParams, err := objectParam(params, "parameters")
	if err != nil {
		return g.failure(command.KindValidation, err.Error(), map[string]interface{}{"command_type": commandType})
	}

	op, err := g.deps.Operations.Start(commandType, cmdParams)
	if err != nil {
		return g.failure(command.KindOf(err), fmt.Sprintf("Error starting async operation: %v", err),
			map[string]interface{}{"command_type": commandType})
	}
	return map[string]interface{}{
		"success":      true,
		"operation_id": op.ID,
		"status":       string(op.Status),
		"message":      fmt.Sprintf("Async operation started for command: %s", commandType),
	}
}

func (g *Gateway) getAsyncStatus(ctx context.Context, params map[string]interface{}) map[string]interface{} {
	id, _ := params["operation_id"].(string)
	if id == "" {
		return map[string]interface{}{"success": false, "error": "Operation ID is required"}
	}
	op, err := g.deps.Operations.Get(ctx, id)
	if err != nil {
		return g.failure(command.KindOf(err), fmt.Sprintf("Error getting async status: %v", err),
			map[string]interface{}{"operation_id": id})
	}
	return map[string]interface{}{
		"success": true,
		"operation": map[string]interface{}{
			"id":           op.ID,
			"command_type": op.CommandType,
			"parameters":   op.Parameters,
			"status":       string(op.Status),
			"created_at":   op.CreatedAt,
			"started_at":   op.StartedAt,
			"completed_at": op.CompletedAt,
			"result":       op.Result,
			"error":        op.Error,
			"error_id":     op.ErrorID,
			"progress":     op.Progress,
			"runtime":      op.Runtime(g.deps.Now()).Seconds(),
		},
	}
}

func (g *Gateway) cancelAsync(_ context.Context, params map[string]interface{}) map[string]interface{} {
	id, _ := params["operation_id"].(string)
	if id == "" {
		return map[string]interface{}{"success": false, "error": "Operation ID is required"}
	}
	if !g.deps.Operations.Cancel(id) {
		return map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("No running operation found with ID: %s", id),
		}
	}
	return map[string]interface{}{
		"success":      true,
		"operation_id": id,
		"message":      "Operation cancelled successfully",
	}
}

func (g *Gateway) listAsync(_ context.Context, params map[string]interface{}) map[string]interface{} {
	status, _ := params["status"].(string)
	filter := async.Status(strings.ToLower(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return g.failure(command.KindValidation, fmt.Sprintf("invalid status filter: %s", status),
			map[string]interface{}{"status": status})
	}
	ops := g.deps.Operations.List(filter)
	return map[string]interface{}{
		"success":    true,
		"operations": ops,
		"count":      len(ops),
	}
}

func (g *Gateway) toolMetrics(_ context.Context, params map[string]interface{}) map[string]interface{} {
	name, _ := params["name"].(string)
	if name == "" {
		all := g.deps.Metrics.All()
		return map[string]interface{}{"success": true, "metrics": all, "count": len(all)}
	}
	tm, ok := g.deps.Metrics.Snapshot(command.Qualified(name))
	if !ok {
		return map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("no metrics recorded for %s", name),
		}
	}
	return map[string]interface{}{"success": true, "metrics": tm}
}

func (g *Gateway) health(ctx context.Context, _ map[string]interface{}) map[string]interface{} {
	h := g.deps.Health(ctx)
	out := make(map[string]interface{}, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	if _, ok := out["success"]; !ok {
		out["success"] = true
	}
	return out
}

// failure reports a tool-level error and builds the failure result.
func (g *Gateway) failure(kind command.Kind, message string, details map[string]interface{}) map[string]interface{} {
	slog.Error(fmt.Sprintf("%s - %s", logPrefix, message))
	id := g.deps.Sink.Report(string(kind), message, details)
	out := map[string]interface{}{"success": false, "error": message}
	if id != "" {
		out["error_id"] = id
	}
	return out
}

func objectParam(params map[string]interface{}, name string) (map[string]interface{}, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return map[string]interface{}{}, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", name)
	}
	return m, nil
}
