package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	cfg := Default()

	// Explicit path takes priority
	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		UserConfigPath(),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "srcforge")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "srcforge")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "srcforge")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "srcforge")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects settings the decoders cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Level.RegionSize <= 0:
		return fmt.Errorf("level.region_size must be positive, got %v", c.Level.RegionSize)
	case c.Level.MaxDepth < 0 || c.Level.MaxDepth > 16:
		return fmt.Errorf("level.max_depth must be in [0, 16], got %d", c.Level.MaxDepth)
	case c.Level.ClusterMinRadius < 0 || c.Level.ClusterAreaScale < 0:
		return fmt.Errorf("level cluster settings must not be negative")
	case c.Model.LOD < 0 || c.Model.LOD >= 8:
		return fmt.Errorf("model.lod must be in [0, 7], got %d", c.Model.LOD)
	case c.Export.MaxTextureSize < 0:
		return fmt.Errorf("export.max_texture_size must not be negative, got %d", c.Export.MaxTextureSize)
	}
	if c.Model.Workers < 1 {
		c.Model.Workers = 1
	}
	return nil
}
