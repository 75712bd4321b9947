package plugin

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"chatraw/config"
	"chatraw/gateway"
	"chatraw/hook"
	"chatraw/storage"
)

// Fetcher retrieves a module or dependency by URL.
type Fetcher func(url string) ([]byte, error)

// httpFetch is the default Fetcher.
func httpFetch(url string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// runtime is one loaded plugin's live state.
type runtime struct {
	desc  *Descriptor
	state *luaState
}

// Loader fetches and executes plugin modules. Loads are serialized by
// the mutex: each load owns the loader until its main module has
// finished executing, and the owning plugin's id is bound into the
// execution environment rather than held in any shared slot, so an
// overlapping load can never misattribute a registration.
type Loader struct {
	mu       sync.Mutex
	registry *hook.Registry
	store    *storage.Store
	gateway  *gateway.Client
	fetch    Fetcher
	cacheDir string

	rmu      sync.Mutex
	runtimes map[string]*runtime
}

// NewLoader creates a loader. cacheDir holds fetched dependencies so a
// reload does not re-download them.
func NewLoader(registry *hook.Registry, store *storage.Store, gw *gateway.Client, cacheDir string) *Loader {
	return &Loader{
		registry: registry,
		store:    store,
		gateway:  gw,
		fetch:    httpFetch,
		cacheDir: cacheDir,
		runtimes: make(map[string]*runtime),
	}
}

// SetFetcher replaces the module fetcher. Used by tests.
func (l *Loader) SetFetcher(f Fetcher) {
	l.fetch = f
}

// Load resolves once the plugin's main module has executed; any
// asynchronous setup the module starts internally is its own business.
// A dependency that fails to fetch or execute is logged and skipped —
// the plugin loads with reduced capability. A main module that fails to
// fetch or execute leaves the plugin installed but non-functional, with
// the failure recorded on its record.
func (l *Loader) Load(desc *Descriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A previous incarnation of this plugin is torn down first so a
	// reload cannot double-register.
	l.unloadLocked(desc.ID)

	state := newLuaState()
	e := &env{
		pluginID: desc.ID,
		desc:     desc,
		state:    state,
		registry: l.registry,
		store:    l.store,
		gateway:  l.gateway,
	}
	e.install()

	// Dependencies execute in name order before the main module.
	names := make([]string, 0, len(desc.Dependencies))
	for name := range desc.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		code, err := l.dependency(name, desc.Dependencies[name])
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[loader] plugin %s: dependency %s skipped: %v", desc.ID, name, err)
			}
			continue
		}
		if err := state.doString(string(code)); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[loader] plugin %s: dependency %s failed to execute: %v", desc.ID, name, err)
			}
		}
	}

	main, err := l.fetch(desc.Main)
	if err != nil {
		state.close()
		return l.loadFailed(desc.ID, fmt.Errorf("main module: %w", err))
	}

	if err := state.doString(string(main)); err != nil {
		// Registrations made before the failure stay; the plugin is
		// partially functional, which beats silently losing them.
		l.rmu.Lock()
		l.runtimes[desc.ID] = &runtime{desc: desc, state: state}
		l.rmu.Unlock()
		return l.loadFailed(desc.ID, fmt.Errorf("main module: %w", err))
	}

	l.rmu.Lock()
	l.runtimes[desc.ID] = &runtime{desc: desc, state: state}
	l.rmu.Unlock()

	if err := l.store.SetPluginError(desc.ID, ""); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[loader] plugin %s: clearing error: %v", desc.ID, err)
	}
	return nil
}

func (l *Loader) loadFailed(id string, err error) error {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[loader] plugin %s: load failed: %v", id, err)
	}
	if serr := l.store.SetPluginError(id, err.Error()); serr != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[loader] plugin %s: recording error: %v", id, serr)
	}
	return fmt.Errorf("load plugin %s: %w", id, err)
}

// Unload removes the plugin's hook registrations and closes its state.
// Side effects the module already ran (background work it spawned,
// globals it computed) are not revoked; the scripting environment has
// no module-unload primitive. Re-enabling re-executes the module from
// scratch.
func (l *Loader) Unload(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unloadLocked(id)
}

func (l *Loader) unloadLocked(id string) {
	l.registry.UnregisterAll(id)

	l.rmu.Lock()
	rt, ok := l.runtimes[id]
	if ok {
		delete(l.runtimes, id)
	}
	l.rmu.Unlock()

	if ok {
		rt.state.close()
	}
}

// Loaded reports whether the plugin has a live runtime.
func (l *Loader) Loaded(id string) bool {
	l.rmu.Lock()
	defer l.rmu.Unlock()
	_, ok := l.runtimes[id]
	return ok
}

// Runtime returns the live descriptor for a loaded plugin, or nil.
func (l *Loader) Runtime(id string) *Descriptor {
	l.rmu.Lock()
	defer l.rmu.Unlock()
	if rt, ok := l.runtimes[id]; ok {
		return rt.desc
	}
	return nil
}

// dependency returns a dependency's code, preferring the on-disk cache.
// The cache key is the dependency's declared name.
func (l *Loader) dependency(name, url string) ([]byte, error) {
	path := filepath.Join(l.cacheDir, name+".lua")

	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	data, err := l.fetch(url)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(l.cacheDir, 0700); err == nil {
		if werr := os.WriteFile(path, data, 0600); werr != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[loader] caching dependency %s: %v", name, werr)
		}
	}

	return data, nil
}
