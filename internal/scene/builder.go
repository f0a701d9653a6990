package scene

import (
	"errors"
	"runtime"

	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/internal/assets"
	"github.com/Faultbox/srcforge/internal/logger"
	"github.com/Faultbox/srcforge/internal/material"
)

// DefaultUnitScale converts engine inches to meters.
const DefaultUnitScale = 0.0254

// ErrNoGeometry is returned when a model has nothing to draw at the chosen LOD.
var ErrNoGeometry = errors.New("no geometry")

// Option configures a Builder.
type Option func(*Builder)

// WithWorkers limits how many prop models decode at once.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLOD selects the model level of detail. Models with fewer levels use their coarsest.
func WithLOD(lod int) Option {
	return func(b *Builder) {
		if lod >= 0 {
			b.lod = lod
		}
	}
}

// WithUnitScale sets the factor applied to every position.
func WithUnitScale(s float32) Option {
	return func(b *Builder) {
		if s > 0 {
			b.axes.Scale = s
		}
	}
}

// WithLogger overrides the builder logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// Builder turns decoded levels and models into scenes.
type Builder struct {
	fs        assets.FileSystem
	materials *material.Source
	workers   int
	lod       int
	axes      Axes
	log       *zap.Logger
}

// NewBuilder creates a builder reading companion files and materials through fs.
func NewBuilder(fs assets.FileSystem, materials *material.Source, opts ...Option) *Builder {
	b := &Builder{
		fs:        fs,
		materials: materials,
		workers:   runtime.NumCPU(),
		axes:      Axes{Scale: DefaultUnitScale},
		log:       logger.Named("scene"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Axes returns the coordinate conversion in use.
func (b *Builder) Axes() Axes {
	return b.axes
}

// addMaterial resolves ref and registers it with the scene.
func (b *Builder) addMaterial(s *Scene, ref string) int {
	m := b.materials.Lookup(ref)
	if i, ok := s.MaterialIndex(m.Name); ok {
		return i
	}

	out := Material{
		Name:          m.Name,
		Texture:       m.BaseTexture,
		Color:         [4]float32{m.Color[0], m.Color[1], m.Color[2], m.Alpha},
		DoubleSided:   m.NoCull,
		Missing:       m.Missing,
		PhysicalClass: b.materials.PhysicalClass(ref),
	}
	switch {
	case m.AlphaTest:
		out.AlphaMode = AlphaMask
		out.AlphaCutoff = m.AlphaTestRef
	case m.Translucent || m.Alpha < 1:
		out.AlphaMode = AlphaBlend
	}
	return s.AddMaterial(out)
}
