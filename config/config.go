package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type ChatConfig struct {
	Temperature float64 `toml:"temperature"`
	TopP        float64 `toml:"top_p"`
	Stream      bool    `toml:"stream"`
}

type UserConfig struct {
	Server         ServerConfig `toml:"server"`
	Chat           ChatConfig   `toml:"chat"`
	PluginsEnabled bool         `toml:"plugins_enabled"`
}

type Config struct {
	DataDirectory  string
	ServerURL      string
	Chat           ChatConfig
	PluginsEnabled bool
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyEnvOverrides() {
	if server := os.Getenv("CHATRAW_SERVER"); server != "" {
		c.ServerURL = server
	}
	if dataDir := os.Getenv("CHATRAW_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
}

func CheckDebug() bool {
	debug := os.Getenv("CHATRAW_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// Create debug log with secure permissions (0600 - may contain sensitive debug info)
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (CHATRAW_DEBUG=%s) ===", os.Getenv("CHATRAW_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func HasAllEnvVars() bool {
	return os.Getenv("CHATRAW_SERVER") != "" &&
		os.Getenv("CHATRAW_DATA_DIR") != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		DataDirectory: "~/.local/share/chatraw",
		ServerURL:     "http://localhost:51111",
		Chat: ChatConfig{
			Temperature: 0.7,
			TopP:        0.9,
			Stream:      true,
		},
		PluginsEnabled: true,
	}

	settingsPath := GetSettingsFilePath()

	if FileExists(settingsPath) {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory

		userCfg, err := LoadUserConfig(cfg.DataDir())
		if err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
		if userCfg.Server.URL != "" {
			cfg.ServerURL = userCfg.Server.URL
		}
		if userCfg.Chat.Temperature != 0 {
			cfg.Chat.Temperature = userCfg.Chat.Temperature
		}
		if userCfg.Chat.TopP != 0 {
			cfg.Chat.TopP = userCfg.Chat.TopP
		}
		cfg.Chat.Stream = userCfg.Chat.Stream
		cfg.PluginsEnabled = userCfg.PluginsEnabled
	}

	cfg.applyEnvOverrides()

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	return cfg, nil
}
