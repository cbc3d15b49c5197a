// Package dispatcher is the single entry point for executing a command: it runs local handlers in
// process, answers read-only commands from a TTL cache, and forwards everything else to the editor
// host.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/registry"
)

const logPrefix = "dispatcher:dispatcher"

// DefaultCacheable lists the read-only commands whose results may be cached.
var DefaultCacheable = []string{
	"get_system_info",
	"get_scene_info",
	"get_object_info",
	"get_asset_categories",
	"search_asset_store",
	"search_polyhaven_assets",
	"get_assistant_insights",
	"get_creative_suggestions",
}

// Transport forwards a command to the editor host.
type Transport interface {
	SendCommand(ctx context.Context, action string, params map[string]interface{}) (map[string]interface{}, error)
}

// Recorder receives one call per handled command.
type Recorder interface {
	Record(name string, elapsed time.Duration, success, cached bool)
}

// Config controls caching and timing logs.
type Config struct {
	EnableCaching     bool
	CacheTTL          time.Duration
	MaxCacheSize      int
	CacheableCommands []string
	// LogTimings logs every execution time at info instead of debug.
	LogTimings bool
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		EnableCaching:     true,
		CacheTTL:          300 * time.Second,
		MaxCacheSize:      1000,
		CacheableCommands: DefaultCacheable,
		LogTimings:        true,
	}
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithErrorSink sets where caught errors are reported.
func WithErrorSink(s command.ErrorSink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// WithRecorder sets the per-command metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher routes commands. It is safe for concurrent use.
type Dispatcher struct {
	cfg       Config
	registry  *registry.Registry
	transport Transport
	sink      command.ErrorSink
	recorder  Recorder
	now       func() time.Time
	cacheable map[string]bool
	cache     *resultCache
}

// New creates a Dispatcher over reg that forwards remote commands to tr.
func New(reg *registry.Registry, tr Transport, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		registry:  reg,
		transport: tr,
		sink:      command.NopSink{},
		now:       time.Now,
		cacheable: make(map[string]bool, len(cfg.CacheableCommands)),
		cache:     newResultCache(cfg.CacheTTL, cfg.MaxCacheSize),
	}
	for _, c := range cfg.CacheableCommands {
		d.cacheable[command.Qualified(c)] = true
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolve reports whether commandType has a registered handler.
func (d *Dispatcher) Resolve(commandType string) bool {
	_, ok := d.registry.Lookup(commandType)
	return ok
}

// Cacheable reports whether results of commandType may be cached.
func (d *Dispatcher) Cacheable(commandType string) bool {
	return d.cacheable[command.Qualified(commandType)]
}

// Handle executes one command. It never returns nil and never panics; every failure is reported to
// the error sink and described by the returned result.
func (d *Dispatcher) Handle(ctx context.Context, commandType string, params map[string]interface{}) (res *command.Result) {
	start := d.now()
	name := ""
	defer func() {
		if p := recover(); p != nil {
			res = d.fail(command.KindHandler, fmt.Sprintf("error handling command %s: %v", commandType, p), commandType, params, start)
		}
		if name != "" {
			d.record(name, res)
		}
	}()

	if strings.TrimSpace(commandType) == "" {
		return d.fail(command.KindValidation, "command type is required", commandType, params, start)
	}
	entry, ok := d.registry.Lookup(commandType)
	if !ok {
		return d.fail(command.KindNotFound, "unknown command type: "+commandType, commandType, params, start)
	}
	name = entry.Name()
	if params == nil {
		params = map[string]interface{}{}
	}

	if entry.Local() {
		payload, err := entry.Handler(ctx, params)
		if err != nil {
			return d.fail(command.KindOf(err), err.Error(), commandType, params, start)
		}
		return command.Succeeded(payload, d.now().Sub(start))
	}

	key := ""
	if d.cfg.EnableCaching && d.cacheable[name] {
		k, err := command.CacheKey(name, params)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - not caching %s: %v", logPrefix, name, err))
		} else {
			key = k
			if hit, ok := d.cache.get(key, d.now()); ok {
				slog.Debug(fmt.Sprintf("%s - cache hit for %s", logPrefix, name))
				return hit
			}
		}
	}

	payload, err := d.transport.SendCommand(ctx, entry.WireAction(), params)
	if err != nil {
		return d.fail(command.KindOf(err), err.Error(), commandType, params, start)
	}
	res = command.Succeeded(payload, d.now().Sub(start))
	if !res.Success {
		res.ErrorID = d.sink.Report(string(res.Kind), res.Error, map[string]interface{}{
			"command_type": commandType,
			"parameters":   params,
		})
		slog.Warn(fmt.Sprintf("%s - %s reported failure: %s", logPrefix, commandType, res.Error))
		return res
	}
	if key != "" {
		d.cache.put(key, res, d.now())
	}
	return res
}

// InvalidateCache drops every cached result.
func (d *Dispatcher) InvalidateCache() {
	d.cache.clear()
}

// CacheLen returns the number of cached results.
func (d *Dispatcher) CacheLen() int {
	return d.cache.len()
}

func (d *Dispatcher) fail(kind command.Kind, message, commandType string, params map[string]interface{}, start time.Time) *command.Result {
	id := d.sink.Report(string(kind), message, map[string]interface{}{
		"command_type": commandType,
		"parameters":   params,
	})
	slog.Warn(fmt.Sprintf("%s - %s failed: %s", logPrefix, commandType, message))
	return command.Failed(kind, message, id, d.now().Sub(start))
}

func (d *Dispatcher) record(name string, res *command.Result) {
	msg := fmt.Sprintf("%s - %s executed in %.4fs (success=%t cached=%t)",
		logPrefix, name, res.ExecutionTime.Seconds(), res.Success, res.Cached)
	if d.cfg.LogTimings {
		slog.Info(msg)
	} else {
		slog.Debug(msg)
	}
	if d.recorder != nil {
		d.recorder.Record(name, res.ExecutionTime, res.Success, res.Cached)
	}
}
