package errlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/morezero/editor-gateway/pkg/command"
)

const logTestPrefix = "errlog:log_test"

type memStore struct {
	mu      sync.Mutex
	saved   map[string]Record
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]Record)}
}

func (s *memStore) SaveError(_ context.Context, rec Record) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[rec.ID] = rec
	return nil
}

func (s *memStore) GetError(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.saved[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func TestReport_AssignsIDAndStoresRecord(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := New(10, WithClock(func() time.Time { return fixed }))

	ctx := map[string]interface{}{"command_type": "get_scene_info"}
	id := l.Report("ConnectionError", "refused", ctx)
	if id == "" {
		t.Fatalf("%s - empty id", logTestPrefix)
	}
	ctx["command_type"] = "mutated"

	rec, ok := l.Get(id)
	if !ok {
		t.Fatalf("%s - record %s not found", logTestPrefix, id)
	}
	if rec.Kind != "ConnectionError" || rec.Message != "refused" || !rec.Timestamp.Equal(fixed) {
		t.Errorf("%s - unexpected record %+v", logTestPrefix, rec)
	}
	if rec.Context["command_type"] != "get_scene_info" {
		t.Errorf("%s - context must be copied at report time, got %v", logTestPrefix, rec.Context)
	}
}

func TestReport_BoundedHistory(t *testing.T) {
	l := New(3)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, l.Report("HandlerError", fmt.Sprintf("e%d", i), nil))
	}
	if l.Len() != 3 {
		t.Fatalf("%s - Len = %d, want 3", logTestPrefix, l.Len())
	}
	if l.Count() != 5 {
		t.Errorf("%s - Count = %d, want 5", logTestPrefix, l.Count())
	}
	if _, ok := l.Get(ids[0]); ok {
		t.Errorf("%s - oldest record should have been dropped", logTestPrefix)
	}
	if _, ok := l.Get(ids[4]); !ok {
		t.Errorf("%s - newest record missing", logTestPrefix)
	}
}

func TestRecent_LimitAndKind(t *testing.T) {
	l := New(0)
	l.Report("ConnectionError", "c1", nil)
	l.Report("ValidationError", "v1", nil)
	l.Report("ConnectionError", "c2", nil)
	l.Report("ConnectionError", "c3", nil)

	tests := []struct {
		name  string
		limit int
		kind  string
		want  []string
	}{
		{"all", 0, "", []string{"c1", "v1", "c2", "c3"}},
		{"limit keeps newest", 2, "", []string{"c2", "c3"}},
		{"kind filter", 10, "connectionerror", []string{"c1", "c2", "c3"}},
		{"kind and limit", 1, "ValidationError", []string{"v1"}},
		{"no match", 5, "NotFoundError", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Recent(tt.limit, tt.kind)
			if len(got) != len(tt.want) {
				t.Fatalf("%s - got %d records, want %d", logTestPrefix, len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i].Message != tt.want[i] {
					t.Errorf("%s - [%d] = %s, want %s", logTestPrefix, i, got[i].Message, tt.want[i])
				}
			}
		})
	}
}

func TestClear(t *testing.T) {
	l := New(0)
	l.Report("HandlerError", "boom", nil)
	l.Clear()
	if l.Len() != 0 {
		t.Errorf("%s - Len after Clear = %d", logTestPrefix, l.Len())
	}
	if l.Count() != 1 {
		t.Errorf("%s - Count should survive Clear", logTestPrefix)
	}
}

func TestLookup_FallsBackToStore(t *testing.T) {
	store := newMemStore()
	l := New(1, WithStore(store, time.Second))

	first := l.Report("HandlerError", "first", nil)
	l.Report("HandlerError", "second", nil)
	l.Flush()

	if _, ok := l.Get(first); ok {
		t.Fatalf("%s - first record should have left memory", logTestPrefix)
	}
	rec, err := l.Lookup(context.Background(), first)
	if err != nil {
		t.Fatalf("%s - Lookup: %v", logTestPrefix, err)
	}
	if rec.Message != "first" {
		t.Errorf("%s - Message = %s", logTestPrefix, rec.Message)
	}

	_, err = l.Lookup(context.Background(), "missing")
	if !command.IsKind(err, command.KindNotFound) {
		t.Errorf("%s - err = %v, want NotFoundError", logTestPrefix, err)
	}
}

func TestReport_StoreFailureIsSwallowed(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("database down")
	l := New(0, WithStore(store, time.Second))
	id := l.Report("HandlerError", "still recorded", nil)
	l.Flush()
	if _, ok := l.Get(id); !ok {
		t.Errorf("%s - in-memory record must survive a store failure", logTestPrefix)
	}
}
