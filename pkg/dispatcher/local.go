package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/errlog"
	"github.com/morezero/editor-gateway/pkg/metrics"
	"github.com/morezero/editor-gateway/pkg/registry"
)

// ErrorHistory is the error log as seen by the local handlers.
type ErrorHistory interface {
	Recent(limit int, kind string) []errlog.Record
	Lookup(ctx context.Context, id string) (errlog.Record, error)
	Clear()
	Len() int
}

// DocGenerator renders API documentation.
type DocGenerator interface {
	Generate(format string, includeExamples bool) (string, error)
}

// MetricsSource exposes per-command call metrics.
type MetricsSource interface {
	Snapshot(name string) (metrics.ToolMetrics, bool)
	All() []metrics.ToolMetrics
}

// LocalDeps are the collaborators of the in-process commands. Nil fields leave the matching
// commands unregistered.
type LocalDeps struct {
	Errors  ErrorHistory
	Docs    DocGenerator
	Metrics MetricsSource
}

// RegisterLocal adds the in-process commands to reg under the core subsystem.
func RegisterLocal(reg *registry.Registry, deps LocalDeps) error {
	var entries []registry.Entry
	if deps.Errors != nil {
		entries = append(entries,
			registry.Entry{
				Action:      "get_error_logs",
				Category:    "utility",
				Description: "Get recent errors recorded by the gateway.",
				Params: []registry.Param{
					{Name: "limit", Type: "int", Default: 10, Description: "Maximum number of errors"},
					{Name: "error_type", Type: "string", Description: "Only errors of this kind"},
				},
				Returns: "object",
				Handler: getErrorLogs(deps.Errors),
			},
			registry.Entry{
				Action:      "get_error_details",
				Category:    "utility",
				Description: "Get one recorded error by id.",
				Params: []registry.Param{
					{Name: "error_id", Type: "string", Required: true, Description: "Error id"},
				},
				Returns: "object",
				Handler: getErrorDetails(deps.Errors),
			},
			registry.Entry{
				Action:      "clear_error_logs",
				Category:    "utility",
				Description: "Clear the in-memory error history.",
				Returns:     "object",
				Handler:     clearErrorLogs(deps.Errors),
			},
		)
	}
	if deps.Docs != nil {
		entries = append(entries, registry.Entry{
			Action:      "generate_api_documentation",
			Category:    "utility",
			Description: "Generate documentation for every registered command.",
			Params: []registry.Param{
				{Name: "format", Type: "string", Default: "markdown", Description: "markdown or json"},
				{Name: "include_examples", Type: "bool", Default: true, Description: "Include request examples"},
			},
			Returns: "object",
			Handler: generateDocs(deps.Docs),
		})
	}
	if deps.Metrics != nil {
		entries = append(entries, registry.Entry{
			Action:      "get_tool_metrics",
			Category:    "utility",
			Description: "Get call metrics for one command or all commands.",
			Params: []registry.Param{
				{Name: "name", Type: "string", Description: "Qualified command name"},
			},
			Returns: "object",
			Handler: getToolMetrics(deps.Metrics),
		})
	}

	for _, e := range entries {
		if err := reg.Register(e); err != nil {
			return fmt.Errorf("%s - register local command %s: %w", logPrefix, e.Action, err)
		}
	}
	return nil
}

func getErrorLogs(h ErrorHistory) registry.Handler {
	return func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		limit, err := intParam(params, "limit", 10)
		if err != nil {
			return nil, err
		}
		kind, _ := params["error_type"].(string)
		records := h.Recent(limit, kind)
		return map[string]interface{}{
			"errors": records,
			"count":  len(records),
		}, nil
	}
}

func getErrorDetails(h ErrorHistory) registry.Handler {
	return func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		id, _ := params["error_id"].(string)
		if strings.TrimSpace(id) == "" {
			return nil, command.NewError(command.KindValidation, "error_id is required")
		}
		rec, err := h.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"error": rec}, nil
	}
}

func clearErrorLogs(h ErrorHistory) registry.Handler {
	return func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		n := h.Len()
		h.Clear()
		return map[string]interface{}{
			"message": "Error logs cleared",
			"cleared": n,
		}, nil
	}
}

func generateDocs(g DocGenerator) registry.Handler {
	return func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		format, _ := params["format"].(string)
		if format == "" {
			format, _ = params["output_format"].(string)
		}
		if format == "" {
			format = "markdown"
		}
		format = strings.ToLower(format)
		if format != "markdown" && format != "json" {
			return nil, command.NewError(command.KindValidation, "format must be markdown or json")
		}
		include := true
		if v, ok := params["include_examples"].(bool); ok {
			include = v
		}

		doc, err := g.Generate(format, include)
		if err != nil {
			return nil, command.WrapError(command.KindHandler, "generate documentation", err)
		}
		return map[string]interface{}{
			"format":        format,
			"documentation": doc,
		}, nil
	}
}

func getToolMetrics(m MetricsSource) registry.Handler {
	return func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		out := make(map[string]metrics.ToolMetrics)
		if name, _ := params["name"].(string); name != "" {
			if tm, ok := m.Snapshot(command.Qualified(name)); ok {
				out[tm.Name] = tm
			}
		} else {
			for _, tm := range m.All() {
				out[tm.Name] = tm
			}
		}
		return map[string]interface{}{"metrics": out}, nil
	}
}

// intParam reads an integer parameter. JSON numbers arrive as float64.
func intParam(params map[string]interface{}, name string, def int) (int, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, command.NewError(command.KindValidation, fmt.Sprintf("%s must be a number", name))
	}
}
