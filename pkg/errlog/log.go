// Package errlog records errors caught by the gateway in a bounded in-memory history, optionally
// mirrored to a durable store, so callers can look them up later by id.
package errlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/editor-gateway/pkg/command"
)

const logPrefix = "errlog:log"

// DefaultMaxRecords is the default history size.
const DefaultMaxRecords = 100

// Record is one reported error.
type Record struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context"`
}

// Store is a durable mirror of reported errors.
type Store interface {
	SaveError(ctx context.Context, rec Record) error
	GetError(ctx context.Context, id string) (*Record, error)
}

// Option customizes a Log.
type Option func(*Log)

// WithStore mirrors every report to s. Writes happen in the background with the given timeout.
func WithStore(s Store, timeout time.Duration) Option {
	return func(l *Log) {
		l.store = s
		if timeout > 0 {
			l.storeTimeout = timeout
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is a bounded history of reported errors. It implements command.ErrorSink.
type Log struct {
	mu      sync.Mutex
	records []Record
	max     int
	total   int

	store        Store
	storeTimeout time.Duration
	pending      sync.WaitGroup

	now func() time.Time
}

var _ command.ErrorSink = (*Log)(nil)

// New creates a Log keeping at most max records (DefaultMaxRecords when max <= 0).
func New(max int, opts ...Option) *Log {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	l := &Log{max: max, now: time.Now, storeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Report records an error and returns its id. It never fails.
func (l *Log) Report(kind, message string, context map[string]interface{}) string {
	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Kind:      kind,
		Message:   message,
		Context:   copyContext(context),
	}

	logMsg := fmt.Sprintf("%s - [%s] %s", logPrefix, kind, message)
	if len(rec.Context) > 0 {
		if data, err := json.Marshal(rec.Context); err == nil {
			logMsg += " context=" + string(data)
		}
	}
	slog.Error(logMsg)

	l.mu.Lock()
	l.records = append(l.records, rec)
	if len(l.records) > l.max {
		l.records = append([]Record(nil), l.records[len(l.records)-l.max:]...)
	}
	l.total++
	store := l.store
	l.mu.Unlock()

	if store != nil {
		l.pending.Add(1)
		go func() {
			defer l.pending.Done()
			ctx, cancel := contextWithTimeout(l.storeTimeout)
			defer cancel()
			if err := store.SaveError(ctx, rec); err != nil {
				slog.Warn(fmt.Sprintf("%s - failed to mirror error %s: %v", logPrefix, rec.ID, err))
			}
		}()
	}
	return rec.ID
}

// Recent returns up to limit of the most recent records, oldest first. A non-empty kind keeps
// only records of that kind (case-insensitive). limit <= 0 returns every match.
func (l *Log) Recent(limit int, kind string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []Record
	for _, rec := range l.records {
		if kind == "" || strings.EqualFold(rec.Kind, kind) {
			matched = append(matched, rec)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]Record, len(matched))
	copy(out, matched)
	return out
}

// Get returns the in-memory record with the given id.
func (l *Log) Get(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}

// Lookup returns the record with the given id, falling back to the durable store for records
// that have left the in-memory history.
func (l *Log) Lookup(ctx context.Context, id string) (Record, error) {
	if rec, ok := l.Get(id); ok {
		return rec, nil
	}
	if l.store != nil {
		rec, err := l.store.GetError(ctx, id)
		if err != nil {
			return Record{}, fmt.Errorf("%s - lookup %s: %w", logPrefix, id, err)
		}
		if rec != nil {
			return *rec, nil
		}
	}
	return Record{}, command.NewError(command.KindNotFound, fmt.Sprintf("error with ID %s not found", id))
}

// Clear empties the in-memory history. The durable store is left untouched.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}

// Len returns the number of records currently held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Count returns the number of errors reported since the Log was created.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Flush waits for background store writes to finish.
func (l *Log) Flush() {
	l.pending.Wait()
}

func copyContext(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
