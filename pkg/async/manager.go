package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/events"
)

const logPrefix = "async:manager"

// Executor resolves and runs commands. The dispatcher satisfies it.
type Executor interface {
	Resolve(commandType string) bool
	Handle(ctx context.Context, commandType string, params map[string]interface{}) *command.Result
}

// Archive keeps operations after they leave the live table.
type Archive interface {
	SaveOperation(ctx context.Context, op *Operation) error
	LoadOperation(ctx context.Context, id string) (*Operation, error)
}

// Recorder counts status transitions.
type Recorder interface {
	RecordOperation(status string)
}

// Config bounds the operation table.
type Config struct {
	// Timeout is the longest an operation may run before it is forced to failed.
	Timeout time.Duration
	// MaxOperations caps the number of non-terminal operations.
	MaxOperations int
	// Retention is how long terminal operations stay in the live table.
	Retention time.Duration
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		Timeout:       300 * time.Second,
		MaxOperations: 100,
		Retention:     600 * time.Second,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithErrorSink sets where operation failures are reported.
func WithErrorSink(s command.ErrorSink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithArchive stores evicted operations in a.
func WithArchive(a Archive) Option {
	return func(m *Manager) { m.archive = a }
}

// WithPublisher publishes every status change.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithRecorder counts every status change.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// Manager owns the operation table and one worker goroutine per running operation.
// Cancellation is cooperative: Cancel marks the operation and cancels the worker's context, and the
// worker stops at its next check. A handler that ignores its context keeps running, but its result
// is discarded.
type Manager struct {
	mu      sync.Mutex
	ops     map[string]*Operation
	cancels map[string]context.CancelFunc

	exec      Executor
	cfg       Config
	sink      command.ErrorSink
	now       func() time.Time
	archive   Archive
	publisher events.Publisher
	recorder  Recorder

	base    context.Context
	stop    context.CancelFunc
	workers sync.WaitGroup
}

// New creates a Manager that runs commands through exec.
func New(exec Executor, cfg Config, opts ...Option) *Manager {
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		ops:       make(map[string]*Operation),
		cancels:   make(map[string]context.CancelFunc),
		exec:      exec,
		cfg:       cfg,
		sink:      command.NopSink{},
		now:       time.Now,
		publisher: &events.NoOpPublisher{},
		base:      base,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start records a pending operation and launches its worker. It never waits for the work.
func (m *Manager) Start(commandType string, params map[string]interface{}) (*Operation, error) {
	if strings.TrimSpace(commandType) == "" {
		return nil, command.NewError(command.KindValidation, "command_type is required")
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	m.mu.Lock()
	evicted := m.evictLocked(m.now())
	if m.cfg.MaxOperations > 0 && m.activeLocked() >= m.cfg.MaxOperations {
		m.mu.Unlock()
		m.archiveAll(evicted)
		return nil, command.NewError(command.KindValidation,
			fmt.Sprintf("too many active async operations (limit %d)", m.cfg.MaxOperations))
	}

	op := &Operation{
		ID:          uuid.NewString(),
		CommandType: commandType,
		Parameters:  params,
		Status:      StatusPending,
		CreatedAt:   m.now(),
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if m.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(m.base, m.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(m.base)
	}
	m.ops[op.ID] = op
	m.cancels[op.ID] = cancel
	snapshot := op.clone()
	m.workers.Add(1)
	m.mu.Unlock()

	m.archiveAll(evicted)
	m.notify(snapshot)
	slog.Info(fmt.Sprintf("%s - started async operation %s for command %s", logPrefix, op.ID, commandType))

	go m.run(ctx, cancel, op.ID, commandType, params)
	return snapshot, nil
}

// Get returns a copy of the operation, looking in the archive when it has left the live table.
func (m *Manager) Get(ctx context.Context, id string) (*Operation, error) {
	m.mu.Lock()
	op, ok := m.ops[id]
	var snapshot *Operation
	if ok {
		snapshot = op.clone()
	}
	m.mu.Unlock()
	if ok {
		return snapshot, nil
	}

	if m.archive != nil {
		archived, err := m.archive.LoadOperation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s - load archived operation %s: %w", logPrefix, id, err)
		}
		if archived != nil {
			return archived, nil
		}
	}
	return nil, command.NewError(command.KindNotFound, fmt.Sprintf("operation %s not found", id))
}

// Cancel marks a non-terminal operation cancelled. It returns false for unknown or finished
// operations.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok || op.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	op.Status = StatusCancelled
	op.CompletedAt = &now
	if cancel := m.cancels[id]; cancel != nil {
		cancel()
	}
	snapshot := op.clone()
	m.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - cancelled async operation %s", logPrefix, id))
	m.notify(snapshot)
	return true
}

// List returns summaries ordered by creation time. An empty status returns every operation.
func (m *Manager) List(status Status) []Summary {
	now := m.now()
	m.mu.Lock()
	evicted := m.evictLocked(now)
	out := make([]Summary, 0, len(m.ops))
	for _, op := range m.ops {
		if status == "" || op.Status == status {
			out = append(out, op.Summarize(now))
		}
	}
	m.mu.Unlock()
	m.archiveAll(evicted)

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sweep evicts terminal operations past the retention period and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	evicted := m.evictLocked(m.now())
	m.mu.Unlock()
	m.archiveAll(evicted)
	if len(evicted) > 0 {
		slog.Debug(fmt.Sprintf("%s - evicted %d finished operations", logPrefix, len(evicted)))
	}
	return len(evicted)
}

// Active returns the number of non-terminal operations.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// Len returns the number of operations in the live table.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// Close cancels every unfinished operation and waits for the workers to return or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.ops))
	for id, op := range m.ops {
		if !op.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Cancel(id)
	}
	m.stop()

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s - waiting for workers: %w", logPrefix, ctx.Err())
	}
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, id, commandType string, params map[string]interface{}) {
	defer m.workers.Done()
	defer cancel()
	stopTimer := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.expire(id)
		}
	})
	defer stopTimer()
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("error executing command %s: %v", commandType, p)
			m.fail(id, msg, "")
		}
	}()

	if !m.update(id, func(op *Operation) bool {
		if op.Status != StatusPending {
			return false
		}
		now := m.now()
		op.Status = StatusRunning
		op.StartedAt = &now
		return true
	}) {
		return
	}

	if !m.exec.Resolve(commandType) {
		m.fail(id, "unknown command type: "+commandType, "")
		return
	}
	if ctx.Err() != nil {
		return
	}
	m.setProgress(id, 0.1)

	pctx := command.WithProgress(ctx, func(p float64) { m.setProgress(id, p) })
	res := m.exec.Handle(pctx, commandType, params)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.expire(id)
		return
	}
	if res == nil {
		m.fail(id, "command returned no result", "")
		return
	}
	if !res.Success {
		m.fail(id, res.Error, res.ErrorID)
		return
	}

	payload := res.Map()
	m.update(id, func(op *Operation) bool {
		if op.Status.Terminal() {
			slog.Debug(fmt.Sprintf("%s - discarding late result for operation %s (%s)", logPrefix, id, op.Status))
			return false
		}
		now := m.now()
		op.Status = StatusCompleted
		op.Result = payload
		op.Progress = 1.0
		op.CompletedAt = &now
		return true
	})
}

// expire forces a running operation to failed once its deadline has passed.
func (m *Manager) expire(id string) {
	msg := fmt.Sprintf("operation timed out after %s", m.cfg.Timeout)
	if m.fail(id, msg, "") {
		slog.Warn(fmt.Sprintf("%s - %s: %s", logPrefix, id, msg))
	}
}

// fail moves a non-terminal operation to failed. A missing errorID is filled from the error sink.
func (m *Manager) fail(id, message, errorID string) bool {
	var commandType string
	applied := m.update(id, func(op *Operation) bool {
		if op.Status.Terminal() {
			return false
		}
		now := m.now()
		op.Status = StatusFailed
		op.Error = message
		op.ErrorID = errorID
		op.Progress = 1.0
		op.CompletedAt = &now
		commandType = op.CommandType
		return true
	})
	if !applied || errorID != "" {
		return applied
	}

	reported := m.sink.Report("AsyncOperationError", message, map[string]interface{}{
		"operation_id": id,
		"command_type": commandType,
	})
	m.mu.Lock()
	if op, ok := m.ops[id]; ok && op.ErrorID == "" {
		op.ErrorID = reported
	}
	m.mu.Unlock()
	return true
}

func (m *Manager) setProgress(id string, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[id]; ok && !op.Status.Terminal() {
		op.Progress = p
	}
}

// update applies fn under the lock and publishes the new state when fn reports a change.
func (m *Manager) update(id string, fn func(op *Operation) bool) bool {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok || !fn(op) {
		m.mu.Unlock()
		return false
	}
	snapshot := op.clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return true
}

func (m *Manager) notify(op *Operation) {
	if m.recorder != nil {
		m.recorder.RecordOperation(string(op.Status))
	}
	event := &events.OperationEvent{
		OperationID: op.ID,
		CommandType: op.CommandType,
		Status:      string(op.Status),
		Progress:    op.Progress,
		Error:       op.Error,
		ErrorID:     op.ErrorID,
		Timestamp:   m.now().UTC().Format(time.RFC3339Nano),
	}
	if err := m.publisher.PublishOperation(context.Background(), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event for %s: %v", logPrefix, op.Status, op.ID, err))
	}
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, op := range m.ops {
		if !op.Status.Terminal() {
			n++
		}
	}
	return n
}

// evictLocked removes terminal operations whose completion is older than the retention period.
func (m *Manager) evictLocked(now time.Time) []*Operation {
	if m.cfg.Retention <= 0 {
		return nil
	}
	var evicted []*Operation
	for id, op := range m.ops {
		if !op.Status.Terminal() || op.CompletedAt == nil {
			continue
		}
		if now.Sub(*op.CompletedAt) >= m.cfg.Retention {
			evicted = append(evicted, op.clone())
			delete(m.ops, id)
			delete(m.cancels, id)
		}
	}
	return evicted
}

func (m *Manager) archiveAll(ops []*Operation) {
	if m.archive == nil || len(ops) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, op := range ops {
		if err := m.archive.SaveOperation(ctx, op); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to archive operation %s: %v", logPrefix, op.ID, err))
		}
	}
}
