package config

import (
	"flag"
	"strings"
)

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagData       = flag.String("data", "", "Comma-separated content directories, searched first")
	flagVPK        = flag.String("vpk", "", "Comma-separated VPK directory files, searched first")
	flagOutput     = flag.String("out", "", "Output directory")
	flagWorkers    = flag.Int("workers", 0, "Parallel model decodes")
	flagLOD        = flag.Int("lod", -1, "Model LOD to export")
	flagMaxTexture = flag.Int("max-texture", -1, "Downscale textures above this size (0 disables)")
	flagBrushes    = flag.Bool("brushes", false, "Export brush solids")
	flagToolFaces  = flag.Bool("tool-faces", false, "Keep nodraw, sky and other tool faces")
	flagLogFile    = flag.String("log-file", "", "Write logs to this file")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// Args returns the non-flag arguments.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
	if dirs := splitList(*flagData); len(dirs) > 0 {
		cfg.Data.SearchDirs = append(dirs, cfg.Data.SearchDirs...)
	}
	if vpks := splitList(*flagVPK); len(vpks) > 0 {
		cfg.Data.VPKPaths = append(vpks, cfg.Data.VPKPaths...)
	}
	if *flagOutput != "" {
		cfg.Export.OutputDir = *flagOutput
	}
	if *flagWorkers > 0 {
		cfg.Model.Workers = *flagWorkers
	}
	if *flagLOD >= 0 {
		cfg.Model.LOD = *flagLOD
	}
	if *flagMaxTexture >= 0 {
		cfg.Export.MaxTextureSize = *flagMaxTexture
	}
	if *flagBrushes {
		cfg.Level.Brushes = true
	}
	if *flagToolFaces {
		cfg.Level.SkipToolFaces = false
	}
}
