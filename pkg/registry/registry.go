// Package registry holds the command handler table: a two-level map from subsystem to action to
// entry, built once at startup and read concurrently afterwards.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/morezero/editor-gateway/pkg/command"
)

const logPrefix = "registry:registry"

// Handler runs a command in process.
type Handler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Categories known to the documentation generator. Entries with any other category are filed
// under "utility".
var Categories = []string{"object", "material", "animation", "camera", "light", "asset", "scene", "utility"}

// Param documents one command parameter.
type Param struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Entry is one registered command. Entries with a Handler run locally; all others are forwarded
// to the editor host.
type Entry struct {
	Subsystem    string  `json:"subsystem"`
	Action       string  `json:"name"`
	Category     string  `json:"category"`
	Description  string  `json:"description"`
	Params       []Param `json:"parameters"`
	Returns      string  `json:"returns,omitempty"`
	RemoteAction string  `json:"remoteAction,omitempty"`
	Handler      Handler `json:"-"`
}

// Name returns the qualified "<subsystem>.<action>" name.
func (e *Entry) Name() string {
	return e.Subsystem + "." + e.Action
}

// Local reports whether the entry runs in process.
func (e *Entry) Local() bool {
	return e.Handler != nil
}

// WireAction is the action string sent to the editor host.
func (e *Entry) WireAction() string {
	if e.RemoteAction != "" {
		return e.RemoteAction
	}
	return e.Action
}

// Registry is the two-level command table.
type Registry struct {
	mu    sync.RWMutex
	table map[string]map[string]*Entry
	count int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{table: make(map[string]map[string]*Entry)}
}

// Register adds an entry. An empty subsystem means core; the category falls back to utility.
// Registering the same subsystem/action twice is an error.
func (r *Registry) Register(e Entry) error {
	e.Subsystem = strings.ToLower(strings.TrimSpace(e.Subsystem))
	if e.Subsystem == "" {
		e.Subsystem = command.DefaultSubsystem
	}
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return fmt.Errorf("%s - action is required", logPrefix)
	}
	if !knownCategory(e.Category) {
		e.Category = "utility"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	actions, ok := r.table[e.Subsystem]
	if !ok {
		actions = make(map[string]*Entry)
		r.table[e.Subsystem] = actions
	}
	if _, dup := actions[e.Action]; dup {
		return fmt.Errorf("%s - %s.%s is already registered", logPrefix, e.Subsystem, e.Action)
	}
	entry := e
	actions[e.Action] = &entry
	r.count++
	slog.Debug(fmt.Sprintf("%s - registered %s in category %s", logPrefix, entry.Name(), entry.Category))
	return nil
}

// Lookup resolves a command type using the subsystem prefix rule.
func (r *Registry) Lookup(commandType string) (*Entry, bool) {
	subsystem, action := command.ParseType(commandType)
	if action == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.table[subsystem][action]
	return e, ok
}

// List returns every entry ordered by subsystem then action.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, r.count)
	for _, actions := range r.table {
		for _, e := range actions {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Subsystem != out[j].Subsystem {
			return out[i].Subsystem < out[j].Subsystem
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// ByCategory groups entry names by category.
func (r *Registry) ByCategory() map[string][]string {
	out := make(map[string][]string)
	for _, e := range r.List() {
		out[e.Category] = append(out[e.Category], e.Name())
	}
	return out
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func knownCategory(c string) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}
