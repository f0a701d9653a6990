package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/internal/assets"
	"github.com/Faultbox/srcforge/internal/config"
	"github.com/Faultbox/srcforge/internal/export"
	"github.com/Faultbox/srcforge/internal/logger"
	"github.com/Faultbox/srcforge/internal/material"
	"github.com/Faultbox/srcforge/internal/scene"
	"github.com/Faultbox/srcforge/pkg/bsp"
	"github.com/Faultbox/srcforge/pkg/mdl"
	"github.com/Faultbox/srcforge/pkg/vpk"
	"github.com/Faultbox/srcforge/pkg/vtf"
)

type app struct {
	cfg *config.Config
	fs  *assets.Manager
}

// readInput reads a file from disk when it exists there, otherwise through
// the mounted content.
func (a *app) readInput(p string) ([]byte, error) {
	if st, err := os.Stat(p); err == nil && !st.IsDir() {
		return os.ReadFile(p)
	}
	return a.fs.Open(assets.NormalizePath(p))
}

// baseName returns the file name of p without its extension.
func baseName(p string) string {
	b := path.Base(filepath.ToSlash(p))
	return strings.TrimSuffix(b, path.Ext(b))
}

func (a *app) builder() *scene.Builder {
	return scene.NewBuilder(a.fs, material.NewSource(a.fs),
		scene.WithWorkers(a.cfg.Model.Workers),
		scene.WithLOD(a.cfg.Model.LOD))
}

func (a *app) exporter() *export.Exporter {
	return export.New(a.fs, export.Options{
		EmbedTextures:  a.cfg.Export.EmbedTextures,
		MaxTextureSize: a.cfg.Export.MaxTextureSize,
	})
}

func (a *app) levelOptions() []bsp.Option {
	lc := a.cfg.Level
	return []bsp.Option{
		bsp.WithOctree(lc.RegionSize, lc.MaxDepth),
		bsp.WithClustering(lc.ClusterMinRadius, lc.ClusterAreaScale),
		bsp.WithToolFaces(!lc.SkipToolFaces),
		bsp.WithBrushes(lc.Brushes),
		bsp.WithStaticProps(lc.StaticProps),
		bsp.WithLogger(logger.Named("bsp")),
	}
}

func (a *app) cmdLevel(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: srcconv level <map.bsp>")
	}
	b := a.builder()
	ex := a.exporter()

	for _, in := range args {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := a.readInput(in)
		if err != nil {
			return fmt.Errorf("reading %s: %w", in, err)
		}
		lv, err := bsp.Decode(data, a.levelOptions()...)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", in, err)
		}

		name := baseName(in)
		s, err := b.FromLevel(ctx, name, lv)
		if err != nil {
			return fmt.Errorf("building %s: %w", in, err)
		}
		out := filepath.Join(a.cfg.Export.OutputDir, name+".glb")
		if err := ex.WriteFile(out, s); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		printStats(out, s)
	}
	return nil
}

func (a *app) cmdModel(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: srcconv model <path.mdl>")
	}
	b := a.builder()
	ex := a.exporter()

	for _, in := range args {
		m, err := mdl.Load(a.fs, assets.NormalizePath(in), mdl.WithLogger(logger.Named("mdl")))
		if err != nil {
			return fmt.Errorf("loading %s: %w", in, err)
		}
		name := baseName(in)
		s, err := b.FromModel(name, m)
		if err != nil {
			return err
		}
		out := filepath.Join(a.cfg.Export.OutputDir, name+".glb")
		if err := ex.WriteFile(out, s); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		printStats(out, s)
	}
	return nil
}

func (a *app) cmdTexture(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: srcconv texture <path.vtf>")
	}
	for _, in := range args {
		data, err := a.readInput(in)
		if err != nil {
			return fmt.Errorf("reading %s: %w", in, err)
		}
		v, err := vtf.Parse(data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", in, err)
		}
		img, err := v.Image(0, 0, 0, 0)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", in, err)
		}
		scaled := export.Downscale(img, a.cfg.Export.MaxTextureSize)

		out := filepath.Join(a.cfg.Export.OutputDir, baseName(in)+".png")
		if err := export.WritePNG(out, scaled); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		b := scaled.Bounds()
		fmt.Printf("%s: %dx%d (%s, %d mips)\n", out, b.Dx(), b.Dy(), v.Format, v.MipCount)
	}
	return nil
}

func (a *app) cmdInfo(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: srcconv info <file>")
	}
	in := args[0]
	lower := strings.ToLower(in)

	switch {
	case strings.HasSuffix(lower, ".vpk"):
		return infoVPK(in)
	case strings.HasSuffix(lower, ".mdl"):
		m, err := mdl.Load(a.fs, assets.NormalizePath(in), mdl.WithLogger(logger.Named("mdl")))
		if err != nil {
			return err
		}
		infoModel(m)
		return nil
	}

	data, err := a.readInput(in)
	if err != nil {
		return err
	}
	fmt.Printf("File:    %s (%s)\n", in, humanize.Bytes(uint64(len(data))))

	switch {
	case strings.HasSuffix(lower, ".bsp"):
		lv, err := bsp.Decode(data, a.levelOptions()...)
		if err != nil {
			return err
		}
		infoLevel(lv)
	case strings.HasSuffix(lower, ".vtf"):
		v, err := vtf.Parse(data)
		if err != nil {
			return err
		}
		fmt.Printf("Version: %s\n", v.Version)
		fmt.Printf("Size:    %dx%d depth %d\n", v.Width, v.Height, v.Depth)
		fmt.Printf("Format:  %s, %d mips, %d frames, %d faces\n", v.Format, v.MipCount, v.Frames, v.Faces())
		fmt.Printf("Flags:   %#x (alpha %v)\n", v.Flags, v.HasAlpha())
	default:
		return fmt.Errorf("unknown file type: %s", in)
	}
	return nil
}

func infoLevel(lv *bsp.Level) {
	fmt.Printf("Version: %d (revision %d)\n", lv.Header.Version, lv.Header.Revision)
	fmt.Printf("Entities:      %s\n", humanize.Comma(int64(len(lv.Entities))))
	fmt.Printf("Faces:         %s\n", humanize.Comma(int64(len(lv.Faces))))
	fmt.Printf("Displacements: %s\n", humanize.Comma(int64(len(lv.Displacements))))
	fmt.Printf("Clusters:      %s\n", humanize.Comma(int64(len(lv.Clusters))))
	fmt.Printf("Materials:     %s\n", humanize.Comma(int64(len(lv.Materials()))))
	fmt.Printf("Static props:  %s (%d models)\n", humanize.Comma(int64(len(lv.StaticProps))), len(lv.PropModels))
	if len(lv.Brushes) > 0 {
		fmt.Printf("Brushes:       %s\n", humanize.Comma(int64(len(lv.Brushes))))
	}
}

func infoModel(m *mdl.Model) {
	fmt.Printf("Model:     %s\n", m.Name)
	fmt.Printf("Static:    %v\n", m.IsStaticProp())
	fmt.Printf("Bones:     %d\n", len(m.Bones))
	fmt.Printf("Materials: %d, skins %d\n", len(m.Materials), len(m.Skins))
	for _, bp := range m.BodyParts {
		for _, part := range bp.Models {
			fmt.Printf("  %s/%s: %d LODs\n", bp.Name, part.Name, len(part.LODs))
			for i, lod := range part.LODs {
				verts, tris := 0, 0
				for _, mesh := range lod.Meshes {
					verts += len(mesh.Vertices)
					tris += len(mesh.Indices) / 3
				}
				fmt.Printf("    LOD %d: %d meshes, %s vertices, %s triangles\n",
					i, len(lod.Meshes), humanize.Comma(int64(verts)), humanize.Comma(int64(tris)))
			}
		}
	}
}

func infoVPK(p string) error {
	archive, err := vpk.Open(p)
	if err != nil {
		return err
	}
	defer archive.Close()

	var total int64
	files := archive.List()
	for _, f := range files {
		if e, ok := archive.Stat(f); ok {
			total += e.Size()
		}
	}
	h := archive.Header()
	fmt.Printf("Archive: %s (version %d)\n", p, h.Version)
	fmt.Printf("Files:   %s\n", humanize.Comma(int64(len(files))))
	fmt.Printf("Size:    %s\n", humanize.Bytes(uint64(total)))
	return nil
}

func printStats(out string, s *scene.Scene) {
	st := s.Stats()
	size := int64(0)
	if fi, err := os.Stat(out); err == nil {
		size = fi.Size()
	}
	fmt.Printf("%s: %d meshes, %d materials, %s triangles, %s\n",
		out, st.Meshes, st.Materials, humanize.Comma(int64(st.Triangles)), humanize.Bytes(uint64(size)))
	logger.Debug("converted", zap.String("out", out), zap.Int("nodes", st.Nodes), zap.Int("vertices", st.Vertices))
}
