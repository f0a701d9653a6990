// Package config handles converter configuration loading and management.
package config

import "runtime"

// Config holds all converter settings.
type Config struct {
	Data    DataConfig    `yaml:"data"`
	Level   LevelConfig   `yaml:"level"`
	Model   ModelConfig   `yaml:"model"`
	Export  ExportConfig  `yaml:"export"`
	Logging LoggingConfig `yaml:"logging"`
}

// DataConfig holds game content locations. Earlier entries win.
type DataConfig struct {
	SearchDirs  []string `yaml:"search_dirs"`   // Loose content directories
	VPKPaths    []string `yaml:"vpk_paths"`     // VPK directory files (*_dir.vpk)
	CacheSizeMB int      `yaml:"cache_size_mb"` // Byte cache for opened files
}

// LevelConfig holds compiled level decoding settings.
type LevelConfig struct {
	RegionSize       float32 `yaml:"region_size"`
	MaxDepth         int     `yaml:"max_depth"`
	ClusterMinRadius float32 `yaml:"cluster_min_radius"`
	ClusterAreaScale float32 `yaml:"cluster_area_scale"`
	SkipToolFaces    bool    `yaml:"skip_tool_faces"`
	Brushes          bool    `yaml:"brushes"`
	StaticProps      bool    `yaml:"static_props"`
}

// ModelConfig holds compiled model settings.
type ModelConfig struct {
	LOD     int `yaml:"lod"`
	Workers int `yaml:"workers"` // Parallel prop model decodes
}

// ExportConfig holds output settings.
type ExportConfig struct {
	OutputDir      string `yaml:"output_dir"`
	EmbedTextures  bool   `yaml:"embed_textures"`
	MaxTextureSize int    `yaml:"max_texture_size"` // 0 keeps source size
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			SearchDirs:  []string{"."},
			CacheSizeMB: 64,
		},
		Level: LevelConfig{
			RegionSize:       512,
			MaxDepth:         4,
			ClusterMinRadius: 256,
			ClusterAreaScale: 5,
			SkipToolFaces:    true,
			Brushes:          false,
			StaticProps:      true,
		},
		Model: ModelConfig{
			LOD:     0,
			Workers: runtime.NumCPU(),
		},
		Export: ExportConfig{
			OutputDir:      "out",
			EmbedTextures:  true,
			MaxTextureSize: 2048,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
