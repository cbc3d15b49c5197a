package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/morezero/editor-gateway/internal/config"
	"github.com/morezero/editor-gateway/pkg/db"
	"github.com/morezero/editor-gateway/pkg/gateway"
)

const mainTestPrefix = "cmd/gateway:main_test"

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "migrate", "ensure-db", "clear-errors", "docs", "call", "GATEWAY_STORAGE_DATABASE_URL"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
	for _, method := range gateway.Methods {
		if !strings.Contains(usage, method) {
			t.Errorf("%s - usage should list method %q", mainTestPrefix, method)
		}
	}
}

func TestParseArgs(t *testing.T) {
	opts, args, err := parseArgs([]string{"call", "--timeout", "5s", "-c", "gw.yaml", "health", "--json"})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	if opts.configPath != "gw.yaml" || opts.timeout != 5*time.Second || !opts.rawJSON {
		t.Errorf("%s - opts = %+v", mainTestPrefix, opts)
	}
	if strings.Join(args, " ") != "call health" {
		t.Errorf("%s - args = %v", mainTestPrefix, args)
	}

	opts, args, err = parseArgs(nil)
	if err != nil || len(args) != 0 || opts.timeout != 30*time.Second {
		t.Errorf("%s - defaults: opts=%+v args=%v err=%v", mainTestPrefix, opts, args, err)
	}

	if _, _, err := parseArgs([]string{"--bogus"}); err == nil {
		t.Errorf("%s - expected error for unknown flag", mainTestPrefix)
	}
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		params     string
		wantMethod string
		wantParams string
		wantErr    bool
	}{
		{name: "gateway method", method: "list_async_operations", params: `{"status":"running"}`, wantMethod: "list_async_operations", wantParams: `{"status":"running"}`},
		{name: "no params", method: "health", wantMethod: "health"},
		{name: "command type", method: "get_error_logs", params: `{"limit":5}`, wantMethod: "execute", wantParams: `{"parameters":{"limit":5},"type":"get_error_logs"}`},
		{name: "command type without params", method: "scene.get_scene_info", wantMethod: "execute", wantParams: `{"type":"scene.get_scene_info"}`},
		{name: "invalid json", method: "execute", params: `{type`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRequest(tt.method, tt.params, 2*time.Second)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error", mainTestPrefix)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("%s - method = %q, want %q", mainTestPrefix, req.Method, tt.wantMethod)
			}
			if string(req.Params) != tt.wantParams {
				t.Errorf("%s - params = %s, want %s", mainTestPrefix, req.Params, tt.wantParams)
			}
			if req.ID == "" || req.Ctx.RequestID != req.ID || req.Ctx.TimeoutMs != 2000 {
				t.Errorf("%s - request id/ctx = %q %+v", mainTestPrefix, req.ID, req.Ctx)
			}
		})
	}
}

// decoded mirrors what gateway.Call produces: the result as generic JSON.
func decoded(t *testing.T, result string) *gateway.Response {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal([]byte(result), &v); err != nil {
		t.Fatalf("%s - bad fixture: %v", mainTestPrefix, err)
	}
	return &gateway.Response{ID: "r", Ok: true, Result: v}
}

func TestRenderReply(t *testing.T) {
	tests := []struct {
		name     string
		resp     *gateway.Response
		raw      bool
		contains []string
		wantErr  string
	}{
		{
			name:     "operations table",
			resp:     decoded(t, `{"success":true,"count":1,"operations":[{"operation_id":"op-1","command_type":"scene.build","status":"running","progress":0.5,"runtime":1.25}]}`),
			contains: []string{"OPERATION", "op-1", "scene.build", "50%", "1.25"},
		},
		{
			name:     "errors table",
			resp:     decoded(t, `{"success":true,"count":1,"errors":[{"id":"e-1","timestamp":"2025-01-01T00:00:00Z","kind":"ConnectionError","message":"socket closed"}]}`),
			contains: []string{"KIND", "e-1", "ConnectionError", "socket closed"},
		},
		{
			name:     "batch errors stay json",
			resp:     decoded(t, `{"success":false,"results":[],"errors":[{"index":0,"error":"boom"}],"commandCount":1}`),
			contains: []string{`"index": 0`},
			wantErr:  "request reported failure",
		},
		{
			name:     "raw json",
			resp:     decoded(t, `{"success":true,"count":0,"operations":[]}`),
			raw:      true,
			contains: []string{`"operations": []`},
		},
		{
			name:     "plain result",
			resp:     decoded(t, `{"success":true,"status":"healthy"}`),
			contains: []string{`"status": "healthy"`},
		},
		{
			name:     "tool failure",
			resp:     decoded(t, `{"success":false,"error":"Command type is required","error_id":"e-2"}`),
			contains: []string{`"error_id": "e-2"`},
			wantErr:  "Command type is required",
		},
		{
			name:    "envelope failure",
			resp:    &gateway.Response{ID: "r", Error: &gateway.ErrorDetail{Code: gateway.CodeMethodNotFound, Message: "Unknown method: nope"}},
			wantErr: "METHOD_NOT_FOUND: Unknown method: nope",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := renderReply(&buf, tt.resp, tt.raw)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("%s - err = %v, want %q", mainTestPrefix, err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("%s - output missing %q:\n%s", mainTestPrefix, want, buf.String())
				}
			}
		})
	}
}

func TestRenderMigrationStatus(t *testing.T) {
	var buf bytes.Buffer
	renderMigrationStatus(&buf, []db.MigrationState{
		{Name: "0001_error_records", Applied: true, AppliedAt: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)},
		{Name: "0002_next"},
	})
	for _, want := range []string{"0001_error_records", "2025-03-04 05:06:07", "0002_next", "false"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("%s - output missing %q:\n%s", mainTestPrefix, want, buf.String())
		}
	}
}

func TestRunDocs(t *testing.T) {
	t.Setenv("GATEWAY_CATALOG_FILE", "")
	cfg := config.Default()

	var md bytes.Buffer
	if err := runDocs(cfg, "markdown", &md); err != nil {
		t.Fatalf("%s - markdown: %v", mainTestPrefix, err)
	}
	for _, want := range []string{"## Table of Contents", "### core.get_error_logs", "### core.generate_api_documentation"} {
		if !strings.Contains(md.String(), want) {
			t.Errorf("%s - markdown missing %q", mainTestPrefix, want)
		}
	}

	var js bytes.Buffer
	if err := runDocs(cfg, "json", &js); err != nil {
		t.Fatalf("%s - json: %v", mainTestPrefix, err)
	}
	var entries []map[string]interface{}
	if err := json.Unmarshal(js.Bytes(), &entries); err != nil {
		t.Fatalf("%s - json output does not parse: %v", mainTestPrefix, err)
	}
	if len(entries) < 10 {
		t.Errorf("%s - expected the catalog plus local commands, got %d entries", mainTestPrefix, len(entries))
	}

	if err := runDocs(cfg, "pdf", &bytes.Buffer{}); err == nil {
		t.Errorf("%s - expected error for unsupported format", mainTestPrefix)
	}
}

func TestDBCommandsRequireURL(t *testing.T) {
	cfg := config.Default()
	if err := runMigrateUp(cfg); err == nil {
		t.Errorf("%s - migrate up without database_url should fail", mainTestPrefix)
	}
	if err := runEnsureDB(cfg, "gateway_test", &bytes.Buffer{}); err == nil {
		t.Errorf("%s - ensure-db without database_url should fail", mainTestPrefix)
	}
	if err := runClearErrors(cfg, &bytes.Buffer{}); err == nil {
		t.Errorf("%s - clear-errors without database_url should fail", mainTestPrefix)
	}
}
