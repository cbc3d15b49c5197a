// Package metrics records per-command call statistics, both as an in-memory snapshot served to
// agents and as Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "editor_gateway"

// ToolMetrics is the call summary for one command type.
type ToolMetrics struct {
	Name        string     `json:"name"`
	CallCount   int64      `json:"call_count"`
	TotalTime   float64    `json:"total_time"`
	AverageTime float64    `json:"average_time"`
	ErrorCount  int64      `json:"error_count"`
	CacheHits   int64      `json:"cache_hits"`
	LastCalled  *time.Time `json:"last_called,omitempty"`
}

// Recorder owns the snapshot table and the Prometheus collectors.
type Recorder struct {
	mu    sync.Mutex
	tools map[string]*ToolMetrics
	now   func() time.Time

	registry       *prometheus.Registry
	commandCalls   *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	cacheHits      *prometheus.CounterVec
	operations     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates a Recorder with its own Prometheus registry.
func New() *Recorder {
	r := &Recorder{
		tools:    make(map[string]*ToolMetrics),
		now:      time.Now,
		registry: prometheus.NewRegistry(),
		commandCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "calls_total",
				Help:      "Commands executed, by type and outcome.",
			},
			[]string{"command", "success"},
		),
		commandLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "duration_seconds",
				Help:      "Command execution time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "cache_hits_total",
				Help:      "Commands answered from the result cache.",
			},
			[]string{"command"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "async",
				Name:      "operations_total",
				Help:      "Async operation state transitions.",
			},
			[]string{"status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	r.registry.MustRegister(r.commandCalls, r.commandLatency, r.cacheHits, r.operations, r.httpRequests, r.httpDuration)
	return r
}

// Record adds one execution of name to the snapshot and the collectors.
func (r *Recorder) Record(name string, elapsed time.Duration, success, cached bool) {
	secs := elapsed.Seconds()
	now := r.now()

	r.mu.Lock()
	tm, ok := r.tools[name]
	if !ok {
		tm = &ToolMetrics{Name: name}
		r.tools[name] = tm
	}
	tm.CallCount++
	tm.TotalTime += secs
	tm.AverageTime = tm.TotalTime / float64(tm.CallCount)
	if !success {
		tm.ErrorCount++
	}
	if cached {
		tm.CacheHits++
	}
	tm.LastCalled = &now
	r.mu.Unlock()

	r.commandCalls.WithLabelValues(name, strconv.FormatBool(success)).Inc()
	r.commandLatency.WithLabelValues(name).Observe(secs)
	if cached {
		r.cacheHits.WithLabelValues(name).Inc()
	}
}

// RecordOperation counts an async operation reaching status.
func (r *Recorder) RecordOperation(status string) {
	r.operations.WithLabelValues(status).Inc()
}

// RecordHTTPRequest counts one admin HTTP request.
func (r *Recorder) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	r.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// Snapshot returns a copy of the metrics for one command.
func (r *Recorder) Snapshot(name string) (ToolMetrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tm, ok := r.tools[name]
	if !ok {
		return ToolMetrics{}, false
	}
	return copyMetrics(tm), true
}

// All returns a copy of every command's metrics ordered by name.
func (r *Recorder) All() []ToolMetrics {
	r.mu.Lock()
	out := make([]ToolMetrics, 0, len(r.tools))
	for _, tm := range r.tools {
		out = append(out, copyMetrics(tm))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Registry exposes the private Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the collectors in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func copyMetrics(tm *ToolMetrics) ToolMetrics {
	c := *tm
	if tm.LastCalled != nil {
		t := *tm.LastCalled
		c.LastCalled = &t
	}
	return c
}
