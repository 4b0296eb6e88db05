package tool

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type registeredTool struct {
	desc  Descriptor
	stats Stats
}

// Registry is the catalog of tools available to the orchestrator. Descriptors
// are immutable once registered; the per-tool counters are the only shared
// state mutated across concurrent runs and are guarded by the registry mutex.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Register adds a descriptor under its name. Registering an existing name
// fails with ErrDuplicateTool and leaves the original descriptor untouched.
func (r *Registry) Register(d Descriptor) error {
	if r == nil {
		return fmt.Errorf("nil tool registry")
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s missing handler", name)
	}
	d.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = &registeredTool{desc: d}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	if r == nil {
		return Descriptor{}, fmt.Errorf("nil tool registry")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Descriptor{}, fmt.Errorf("%w: empty name", ErrUnknownTool)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.tools[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return item.desc, nil
}

// List returns a snapshot of all descriptors sorted by name, for capability
// discovery. The returned slice is owned by the caller.
func (r *Registry) List() []Descriptor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, item := range r.tools {
		out = append(out, item.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns the lifetime call/error counters for one tool.
func (r *Registry) Stats(name string) (Stats, error) {
	if r == nil {
		return Stats{}, fmt.Errorf("nil tool registry")
	}
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.tools[name]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return item.stats, nil
}

// recordCall bumps counters after one invocation. Counters are lifetime
// totals; the derived success rate covers the whole process lifetime.
func (r *Registry) recordCall(name string, failed bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.tools[strings.TrimSpace(name)]
	if !ok {
		return
	}
	item.stats.Calls++
	if failed {
		item.stats.Errors++
	}
	item.stats.LastCalledAtUnixMs = time.Now().UnixMilli()
	if item.stats.Calls > 0 {
		item.stats.SuccessRate = float64(item.stats.Calls-item.stats.Errors) / float64(item.stats.Calls)
	}
}
