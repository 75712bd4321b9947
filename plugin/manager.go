package plugin

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatraw/config"
	"chatraw/gateway"
	"chatraw/hook"
	"chatraw/storage"
)

// Info is a plugin's listing entry for UI consumption.
type Info struct {
	ID        string
	Version   string
	Enabled   bool
	Loaded    bool
	LastError string
}

// Manager drives the plugin lifecycle: uninstalled -> installed
// (disabled or enabled) -> uninstalled. It owns the hook registry and
// the loader, and keeps the enabled set that dispatch consults.
type Manager struct {
	store  *storage.Store
	loader *Loader

	mu       sync.RWMutex
	enabled  map[string]bool
	registry *hook.Registry
}

// NewManager creates the runtime. cacheDir is where the loader caches
// fetched dependencies.
func NewManager(store *storage.Store, gw *gateway.Client, cacheDir string) *Manager {
	m := &Manager{
		store:   store,
		enabled: make(map[string]bool),
	}
	m.registry = hook.NewRegistry(m.isEnabled)
	m.loader = NewLoader(m.registry, store, gw, cacheDir)
	return m
}

// Registry returns the hook registry for dispatching.
func (m *Manager) Registry() *hook.Registry {
	return m.registry
}

// Loader returns the loader, mainly so tests can inject a fetcher.
func (m *Manager) Loader() *Loader {
	return m.loader
}

func (m *Manager) isEnabled(pluginID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[pluginID]
}

// Startup loads every installed plugin that is enabled. Load failures
// are already recorded per plugin and never abort startup.
func (m *Manager) Startup() error {
	records, err := m.store.ListPlugins()
	if err != nil {
		return fmt.Errorf("listing plugins: %w", err)
	}

	for _, rec := range records {
		m.mu.Lock()
		m.enabled[rec.ID] = rec.Enabled
		m.mu.Unlock()

		if !rec.Enabled {
			continue
		}
		desc, err := descriptorFromRecord(&rec)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[plugins] %s: bad stored manifest: %v", rec.ID, err)
			}
			continue
		}
		if err := m.loader.Load(desc); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[plugins] %s: %v", rec.ID, err)
		}
	}

	return nil
}

// Install fetches a manifest from sourceURL, persists the plugin and,
// when the manifest enables it (the default), loads it.
func (m *Manager) Install(sourceURL string) (*Descriptor, error) {
	data, err := m.loader.fetch(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}
	return m.InstallManifest(data, sourceURL)
}

// InstallManifest installs from manifest bytes already in hand (an
// uploaded file rather than a URL).
func (m *Manager) InstallManifest(data []byte, sourceURL string) (*Descriptor, error) {
	desc, err := ParseDescriptor(data)
	if err != nil {
		return nil, err
	}

	// Manifests that omit "enabled" install enabled.
	var probe map[string]json.RawMessage
	if json.Unmarshal(data, &probe) == nil {
		if _, present := probe["enabled"]; !present {
			desc.Enabled = true
		}
	}

	now := time.Now()
	rec := storage.InstalledPlugin{
		ID:          desc.ID,
		Version:     desc.Version,
		SourceURL:   sourceURL,
		Enabled:     desc.Enabled,
		Manifest:    string(data),
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if values, err := json.Marshal(desc.SettingsValues); err == nil {
		rec.SettingsValues = string(values)
	}
	if err := m.store.SavePlugin(rec); err != nil {
		return nil, fmt.Errorf("install %s: %w", desc.ID, err)
	}

	m.mu.Lock()
	m.enabled[desc.ID] = desc.Enabled
	m.mu.Unlock()

	if desc.Enabled {
		if err := m.loader.Load(desc); err != nil {
			// Installed but non-functional; the record carries the error.
			return desc, nil
		}
	}
	return desc, nil
}

// Toggle enables or disables an installed plugin. Enabling loads (or
// reloads) the module, re-running its top-level side effects. Disabling
// removes the plugin's hook registrations and closes its state — and
// nothing more: anything the module set up outside the hook system
// stays as-is until the process exits.
func (m *Manager) Toggle(id string, enable bool) error {
	rec, err := m.store.LoadPlugin(id)
	if err != nil {
		return fmt.Errorf("toggle %s: %w", id, err)
	}
	if rec == nil {
		return fmt.Errorf("toggle %s: not installed", id)
	}

	if err := m.store.SetPluginEnabled(id, enable); err != nil {
		return fmt.Errorf("toggle %s: %w", id, err)
	}

	m.mu.Lock()
	m.enabled[id] = enable
	m.mu.Unlock()

	if !enable {
		m.loader.Unload(id)
		return nil
	}

	desc, err := descriptorFromRecord(rec)
	if err != nil {
		return fmt.Errorf("toggle %s: %w", id, err)
	}
	return m.loader.Load(desc)
}

// Uninstall removes the plugin entirely: registrations, live state, the
// stored record, and its storage namespace.
func (m *Manager) Uninstall(id string) error {
	m.loader.Unload(id)

	m.mu.Lock()
	delete(m.enabled, id)
	m.mu.Unlock()

	if err := m.store.DeletePlugin(id); err != nil {
		return fmt.Errorf("uninstall %s: %w", id, err)
	}
	return nil
}

// SaveSettings persists new settings values and applies them to the
// running plugin, if loaded.
func (m *Manager) SaveSettings(id string, values map[string]any) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("settings for %s: %w", id, err)
	}
	if err := m.store.SetPluginSettings(id, string(raw)); err != nil {
		return fmt.Errorf("settings for %s: %w", id, err)
	}

	if desc := m.loader.Runtime(id); desc != nil {
		desc.SettingsValues = values
	}
	return nil
}

// List returns every installed plugin's state.
func (m *Manager) List() ([]Info, error) {
	records, err := m.store.ListPlugins()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(records))
	for _, rec := range records {
		infos = append(infos, Info{
			ID:        rec.ID,
			Version:   rec.Version,
			Enabled:   rec.Enabled,
			Loaded:    m.loader.Loaded(rec.ID),
			LastError: rec.LastError,
		})
	}
	return infos, nil
}

func descriptorFromRecord(rec *storage.InstalledPlugin) (*Descriptor, error) {
	desc, err := ParseDescriptor([]byte(rec.Manifest))
	if err != nil {
		return nil, err
	}
	desc.Enabled = rec.Enabled
	if rec.SettingsValues != "" {
		var values map[string]any
		if json.Unmarshal([]byte(rec.SettingsValues), &values) == nil && len(values) > 0 {
			desc.SettingsValues = values
		}
	}
	return desc, nil
}
