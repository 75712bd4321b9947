package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"chatraw/client"
	"chatraw/config"
	"chatraw/gateway"
	"chatraw/plugin"
	"chatraw/storage"
	"chatraw/ui"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	store, err := storage.New(cfg.DataDir())
	if err != nil {
		fmt.Printf("Failed to open local storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	gw := gateway.New(cfg.ServerURL)

	plugins := plugin.NewManager(store, gw, filepath.Join(config.GetCacheDir(), "deps"))
	if cfg.PluginsEnabled {
		if err := plugins.Startup(); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("plugin startup: %v", err)
		}
	}

	cl := client.New(cfg.ServerURL, plugins.Registry())

	app := ui.New(cl, store, plugins, cfg)
	p := tea.NewProgram(app, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
