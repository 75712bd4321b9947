package hook

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"chatraw/config"
)

// EnabledFunc reports whether the plugin owning a registration is
// currently enabled. Registrations of disabled plugins stay in the
// registry but are skipped at dispatch time.
type EnabledFunc func(pluginID string) bool

type registration struct {
	pluginID string
	priority int
	seq      uint64 // insertion order, tiebreaker within equal priority
	fn       Func
}

// Registry holds per-hook handler lists and dispatches them in
// descending-priority, stable order.
type Registry struct {
	mu      sync.RWMutex
	hooks   map[string][]registration
	seq     uint64
	enabled EnabledFunc
}

// NewRegistry creates a registry. enabled may be nil, in which case all
// owning plugins are considered enabled.
func NewRegistry(enabled EnabledFunc) *Registry {
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	return &Registry{
		hooks:   make(map[string][]registration),
		enabled: enabled,
	}
}

// Register adds a handler for hookName owned by pluginID. An unknown
// hook name is a no-op with a warning rather than an error, so a
// malformed plugin cannot abort its own load.
func (r *Registry) Register(hookName string, fn Func, pluginID string, priority int) {
	if !IsKnown(hookName) {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[hook] plugin %q registered unknown hook %q, ignoring", pluginID, hookName)
		}
		return
	}
	if fn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	reg := registration{
		pluginID: pluginID,
		priority: priority,
		seq:      r.seq,
		fn:       fn,
	}

	list := append(r.hooks[hookName], reg)
	// Keep the list sorted at insert time: priority descending, then
	// registration order. Dispatch then only needs a snapshot copy.
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	r.hooks[hookName] = list
}

// Dispatch invokes the handlers registered for hookName in priority
// order and returns the first result with Handled set. Handlers of
// disabled plugins are skipped. A handler error or panic is logged and
// iteration continues: one broken plugin cannot break the pipeline.
//
// Iteration runs over a snapshot taken at call start, so a handler that
// triggers new registrations (e.g. by loading another plugin) cannot
// corrupt the walk.
func (r *Registry) Dispatch(ctx context.Context, hookName string, args map[string]any) Result {
	r.mu.RLock()
	snapshot := make([]registration, len(r.hooks[hookName]))
	copy(snapshot, r.hooks[hookName])
	r.mu.RUnlock()

	for _, reg := range snapshot {
		if !r.enabled(reg.pluginID) {
			continue
		}

		res, err := r.invoke(ctx, reg, args)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[hook] %s handler of plugin %q failed: %v", hookName, reg.pluginID, err)
			}
			continue
		}
		if res.Handled {
			return res
		}
	}

	return Skip()
}

// invoke runs one handler with panic recovery.
func (r *Registry) invoke(ctx context.Context, reg registration, args map[string]any) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Skip()
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return reg.fn(ctx, args)
}

// UnregisterAll removes every registration owned by pluginID across all
// hooks. Calling it for a plugin with no registrations is a no-op, so
// disable and uninstall paths can both call it unconditionally.
func (r *Registry) UnregisterAll(pluginID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, list := range r.hooks {
		kept := list[:0]
		for _, reg := range list {
			if reg.pluginID == pluginID {
				removed++
				continue
			}
			kept = append(kept, reg)
		}
		if len(kept) == 0 {
			delete(r.hooks, name)
		} else {
			r.hooks[name] = kept
		}
	}
	return removed
}

// Count returns the number of registrations for hookName.
func (r *Registry) Count(hookName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[hookName])
}

// PluginHooks returns the hook names pluginID is registered for.
func (r *Registry) PluginHooks(pluginID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, list := range r.hooks {
		for _, reg := range list {
			if reg.pluginID == pluginID {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}
