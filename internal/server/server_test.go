package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morezero/editor-gateway/internal/config"
	"github.com/morezero/editor-gateway/pkg/async"
	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/docs"
	"github.com/morezero/editor-gateway/pkg/errlog"
	"github.com/morezero/editor-gateway/pkg/metrics"
	"github.com/morezero/editor-gateway/pkg/registry"
	"github.com/morezero/editor-gateway/pkg/transport"
)

const serverTestPrefix = "server:server_test"

type fakeLink struct {
	stats transport.Stats
}

func (f *fakeLink) Stats() transport.Stats { return f.stats }

type fakeCommands struct {
	calls  int
	result *command.Result
}

func (f *fakeCommands) Handle(context.Context, string, map[string]interface{}) *command.Result {
	f.calls++
	return f.result
}

type fakeOps struct {
	summaries []async.Summary
	lastQuery async.Status
}

func (f *fakeOps) List(status async.Status) []async.Summary {
	f.lastQuery = status
	return f.summaries
}
func (f *fakeOps) Active() int { return len(f.summaries) }
func (f *fakeOps) Sweep() int  { return 0 }

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fixture struct {
	srv      *Server
	link     *fakeLink
	commands *fakeCommands
	ops      *fakeOps
	errors   *errlog.Log
}

func newFixture(t *testing.T, hostVersion string) *fixture {
	t.Helper()
	reg := registry.New()
	if err := reg.Register(registry.Entry{
		Action:      "get_scene_info",
		Category:    "scene",
		Description: "Get the open scene.",
		Returns:     "object",
	}); err != nil {
		t.Fatalf("%s - register: %v", serverTestPrefix, err)
	}

	f := &fixture{
		link: &fakeLink{stats: transport.Stats{Address: "localhost:8080", Connected: true}},
		commands: &fakeCommands{
			result: command.Succeeded(map[string]interface{}{"version": hostVersion}, time.Millisecond),
		},
		ops:    &fakeOps{},
		errors: errlog.New(10),
	}
	f.srv = &Server{
		cfg:      config.Default(),
		link:     f.link,
		commands: f.commands,
		ops:      f.ops,
		errors:   f.errors,
		docs:     docs.New(reg),
		metrics:  metrics.New(),
		now:      func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s - decode body %q: %v", serverTestPrefix, rec.Body.String(), err)
	}
	return out
}

func TestHealth_Healthy(t *testing.T) {
	f := newFixture(t, "2022.3.10f1")

	rec := f.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("%s - status = %v", serverTestPrefix, body["status"])
	}
	if body["timestamp"] != "2025-01-02T03:04:05Z" {
		t.Errorf("%s - timestamp = %v", serverTestPrefix, body["timestamp"])
	}
	host, ok := body["host_version"].(map[string]interface{})
	if !ok || host["compatible"] != true || host["version"] != "2022.3.10f1" {
		t.Errorf("%s - host_version = %v", serverTestPrefix, body["host_version"])
	}
	database := body["database"].(map[string]interface{})
	if database["configured"] != false {
		t.Errorf("%s - database = %v", serverTestPrefix, database)
	}

	// The host check result is remembered.
	f.get(t, "/health")
	if f.commands.calls != 1 {
		t.Errorf("%s - get_system_info calls = %d, want 1", serverTestPrefix, f.commands.calls)
	}
}

func TestHealth_IncompatibleHostIsNotFatal(t *testing.T) {
	f := newFixture(t, "0.9.0")

	rec := f.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	host := decodeBody(t, rec)["host_version"].(map[string]interface{})
	if host["compatible"] != false || host["reason"] == "" {
		t.Errorf("%s - host_version = %v", serverTestPrefix, host)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name:  "editor disconnected",
			setup: func(f *fixture) { f.link.stats.Connected = false },
		},
		{
			name:  "database down",
			setup: func(f *fixture) { f.srv.db = &fakePinger{err: errors.New("connection refused")} },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "2022.3.10f1")
			tt.setup(f)
			rec := f.get(t, "/health")
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("%s - status = %d, want 503", serverTestPrefix, rec.Code)
			}
			if body := decodeBody(t, rec); body["status"] != "unhealthy" {
				t.Errorf("%s - status = %v", serverTestPrefix, body["status"])
			}
		})
	}
}

func TestHealth_NoHostCheckWhileDisconnected(t *testing.T) {
	f := newFixture(t, "2022.3.10f1")
	f.link.stats.Connected = false
	body := decodeBody(t, f.get(t, "/health"))
	if _, ok := body["host_version"]; ok {
		t.Errorf("%s - host_version should be absent", serverTestPrefix)
	}
	if f.commands.calls != 0 {
		t.Errorf("%s - get_system_info calls = %d, want 0", serverTestPrefix, f.commands.calls)
	}
}

func TestCheckHost_FailedCommand(t *testing.T) {
	f := newFixture(t, "")
	f.commands.result = command.Failed(command.KindConnection, "Could not connect to the editor host", "", 0)
	if got := f.srv.checkHost(context.Background()); got != nil {
		t.Errorf("%s - checkHost() = %+v, want nil", serverTestPrefix, got)
	}
	if f.srv.hostCompatibility() != nil {
		t.Errorf("%s - failed check should not be remembered", serverTestPrefix)
	}
}

func TestReady(t *testing.T) {
	f := newFixture(t, "1.0.0")
	rec := f.get(t, "/ready")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "ready" {
		t.Errorf("%s - /ready = %d %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
}

func TestDocsRoutes(t *testing.T) {
	tests := []struct {
		path        string
		contentType string
		contains    string
	}{
		{path: "/docs", contentType: "text/html", contains: "<h3>core.get_scene_info</h3>"},
		{path: "/docs.md", contentType: "text/markdown", contains: "### core.get_scene_info"},
		{path: "/docs.json", contentType: "application/json", contains: `"name": "get_scene_info"`},
		{path: "/docs.md?examples=false", contentType: "text/markdown", contains: "## Scene Commands"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f := newFixture(t, "1.0.0")
			rec := f.get(t, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("%s - status = %d", serverTestPrefix, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
				t.Errorf("%s - Content-Type = %q, want %q", serverTestPrefix, ct, tt.contentType)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("%s - body does not contain %q:\n%s", serverTestPrefix, tt.contains, rec.Body.String())
			}
		})
	}
}

func TestOperations(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.ops.summaries = []async.Summary{
		{ID: "op-1", CommandType: "scene.build", Status: async.StatusRunning, Progress: 0.1},
	}

	rec := f.get(t, "/operations?status=running")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d", serverTestPrefix, rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("%s - count = %v", serverTestPrefix, body["count"])
	}
	if f.ops.lastQuery != async.StatusRunning {
		t.Errorf("%s - status filter = %q", serverTestPrefix, f.ops.lastQuery)
	}

	if rec := f.get(t, "/operations?status=sleeping"); rec.Code != http.StatusBadRequest {
		t.Errorf("%s - invalid status code = %d, want 400", serverTestPrefix, rec.Code)
	}
}

func TestErrors(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.errors.Report("ValidationError", "bad params", nil)
	f.errors.Report("ConnectionError", "socket closed", nil)
	f.errors.Report("ConnectionError", "socket reset", nil)

	tests := []struct {
		path  string
		code  int
		count float64
	}{
		{path: "/errors", code: http.StatusOK, count: 3},
		{path: "/errors?limit=1", code: http.StatusOK, count: 1},
		{path: "/errors?kind=ConnectionError", code: http.StatusOK, count: 2},
		{path: "/errors?limit=zero", code: http.StatusBadRequest},
		{path: "/errors?limit=-4", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := f.get(t, tt.path)
		if rec.Code != tt.code {
			t.Errorf("%s - %s code = %d, want %d", serverTestPrefix, tt.path, rec.Code, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		if got := decodeBody(t, rec)["count"]; got != tt.count {
			t.Errorf("%s - %s count = %v, want %v", serverTestPrefix, tt.path, got, tt.count)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.get(t, "/ready")

	rec := f.get(t, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d", serverTestPrefix, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `editor_gateway_http_requests_total{method="GET",path="/ready",status="200"} 1`) {
		t.Errorf("%s - metrics missing /ready request:\n%s", serverTestPrefix, rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, "1.0.0")
	if rec := f.get(t, "/capability/x"); rec.Code != http.StatusNotFound {
		t.Errorf("%s - status = %d, want 404", serverTestPrefix, rec.Code)
	}
}
