package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

func LoadSystemConfig() (*SystemConfig, error) {
	settingsPath := GetSettingsFilePath()

	if !FileExists(settingsPath) {
		return &SystemConfig{
			DataDirectory: "~/.local/share/chatraw",
		}, nil
	}

	var cfg SystemConfig
	if _, err := toml.DecodeFile(settingsPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode system config: %w", err)
	}

	if cfg.DataDirectory == "" {
		cfg.DataDirectory = "~/.local/share/chatraw"
	}

	return &cfg, nil
}

func LoadUserConfig(dataDir string) (*UserConfig, error) {
	configPath := filepath.Join(dataDir, "config.toml")

	if !FileExists(configPath) {
		return &UserConfig{
			Chat: ChatConfig{
				Temperature: 0.7,
				TopP:        0.9,
				Stream:      true,
			},
			PluginsEnabled: true,
		}, nil
	}

	var cfg UserConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode user config: %w", err)
	}

	return &cfg, nil
}

func SaveSystemConfig(cfg *SystemConfig) error {
	configDir := GetConfigDir()
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(GetSettingsFilePath(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode system config: %w", err)
	}

	return nil
}

func SaveUserConfig(cfg *UserConfig, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	configPath := filepath.Join(dataDir, "config.toml")
	f, err := os.OpenFile(configPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode user config: %w", err)
	}

	return nil
}
