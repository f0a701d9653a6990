// srcconv converts compiled levels, models and textures to glTF and PNG.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/internal/assets"
	"github.com/Faultbox/srcforge/internal/config"
	"github.com/Faultbox/srcforge/internal/logger"
)

func main() {
	config.ParseFlags()
	args := config.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command, rest := args[0], args[1:]
	switch command {
	case "help":
		printUsage()
		return
	case "config":
		if err := cmdConfig(cfg, rest); err != nil {
			logger.Error("saving config", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	fs, err := mount(cfg)
	if err != nil {
		logger.Error("mounting content", zap.Error(err))
		os.Exit(1)
	}
	defer fs.Close()

	app := &app{cfg: cfg, fs: fs}
	switch command {
	case "level", "map":
		err = app.cmdLevel(ctx, rest)
	case "model", "mdl":
		err = app.cmdModel(rest)
	case "texture", "tex":
		err = app.cmdTexture(rest)
	case "info":
		err = app.cmdInfo(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logger.Error(command+" failed", zap.Error(err))
		os.Exit(1)
	}

	hits, misses := fs.Stats()
	logger.Debug("asset cache", zap.Int64("hits", hits), zap.Int64("misses", misses))
}

func printUsage() {
	fmt.Println(`srcforge converter

Usage:
  srcconv [flags] <command> <input>...

Commands:
  level <map.bsp>...      Convert levels (file paths or content paths) to .glb
  model <path.mdl>...     Convert models (content paths) to .glb
  texture <path.vtf>...   Convert textures to .png
  info <file>             Describe a .bsp, .mdl, .vtf or _dir.vpk file
  config [path]           Write the effective config (default: user config dir)

Flags:
  -config <file>          Config file (default ./config.yaml or user config dir)
  -data <dirs>            Comma-separated content directories
  -vpk <files>            Comma-separated VPK directory files
  -out <dir>              Output directory
  -lod, -workers, -max-texture, -brushes, -tool-faces, -debug, -log-file

Examples:
  srcconv -data ./hl2 level maps/d1_trainstation_01.bsp
  srcconv -vpk hl2_misc_dir.vpk model models/props_c17/oildrum001.mdl
  srcconv texture materials/brick/brickwall001a.vtf`)
}

func cmdConfig(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		if err := cfg.SaveTo(args[0]); err != nil {
			return err
		}
		fmt.Println("Wrote", args[0])
		return nil
	}
	path, err := cfg.Save()
	if err != nil {
		return err
	}
	fmt.Println("Wrote", path)
	return nil
}

// mount opens every configured content source. Earlier sources win.
func mount(cfg *config.Config) (*assets.Manager, error) {
	m := assets.NewManager(cfg.Data.CacheSizeMB)
	for _, dir := range cfg.Data.SearchDirs {
		if err := m.AddDir(dir); err != nil {
			m.Close()
			return nil, err
		}
	}
	for _, p := range cfg.Data.VPKPaths {
		if err := m.AddArchive(p); err != nil {
			m.Close()
			return nil, err
		}
	}
	logger.Info("mounted content", zap.Strings("sources", m.Sources()))
	return m, nil
}
