// Package plugin implements the extensibility runtime: plugin
// descriptors, the sandboxed Lua execution environment, the loader with
// its dependency cache, and the install/enable/disable/uninstall
// lifecycle.
package plugin

import (
	"encoding/json"
	"fmt"
)

// SettingField is one entry of a plugin's settings schema.
type SettingField struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"` // "string", "number", "boolean", "select"
	Label   string   `json:"label,omitempty"`
	Default any      `json:"default,omitempty"`
	Options []string `json:"options,omitempty"`
}

// ProxyService declares a credential slot the plugin calls through the
// gateway. The credential itself lives server-side; the plugin only
// ever names it by id.
type ProxyService struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Descriptor is a plugin's manifest: identity, the module to execute,
// the hooks it declares, its named dependencies, settings schema and
// current values, and the proxy services it may call.
type Descriptor struct {
	ID             string            `json:"id"`
	Version        string            `json:"version"`
	Main           string            `json:"main"` // URL of the Lua module to execute
	Enabled        bool              `json:"enabled"`
	Hooks          []string          `json:"hooks"`
	Dependencies   map[string]string `json:"dependencies,omitempty"` // name -> URL
	Settings       []SettingField    `json:"settings,omitempty"`
	SettingsValues map[string]any    `json:"settings_values,omitempty"`
	Proxy          []ProxyService    `json:"proxy,omitempty"`
}

// ParseDescriptor decodes and validates a manifest.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid plugin manifest: %w", err)
	}
	if d.ID == "" {
		return nil, fmt.Errorf("plugin manifest missing id")
	}
	if d.Main == "" {
		return nil, fmt.Errorf("plugin %s: manifest missing main module", d.ID)
	}
	if d.SettingsValues == nil {
		d.SettingsValues = make(map[string]any)
	}
	return &d, nil
}

// DeclaresHook reports whether the manifest lists the hook.
func (d *Descriptor) DeclaresHook(name string) bool {
	for _, h := range d.Hooks {
		if h == name {
			return true
		}
	}
	return false
}

// SettingValue returns the current value for a setting, falling back to
// the schema default.
func (d *Descriptor) SettingValue(name string) any {
	if v, ok := d.SettingsValues[name]; ok {
		return v
	}
	for _, f := range d.Settings {
		if f.Name == name {
			return f.Default
		}
	}
	return nil
}
