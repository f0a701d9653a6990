package bsp

import (
	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/pkg/octree"
)

// Clustering defaults.
const (
	DefaultClusterMinRadius = 256
	DefaultClusterAreaScale = 5
)

// Options configures a level decode.
type Options struct {
	RegionSize       float32
	MaxDepth         int
	ClusterMinRadius float32
	ClusterAreaScale float32
	KeepToolFaces    bool
	Brushes          bool
	StaticProps      bool
	Logger           *zap.Logger
}

// Option modifies Options.
type Option func(*Options)

// DefaultOptions returns the options Decode starts from.
func DefaultOptions() Options {
	return Options{
		RegionSize:       octree.DefaultRegionSize,
		MaxDepth:         octree.DefaultMaxDepth,
		ClusterMinRadius: DefaultClusterMinRadius,
		ClusterAreaScale: DefaultClusterAreaScale,
		StaticProps:      true,
		Logger:           zap.NewNop(),
	}
}

// WithOctree sets the spatial index region size and depth. A non-positive
// region size or a negative depth keeps the default; depth 0 is a flat index.
func WithOctree(regionSize float32, maxDepth int) Option {
	return func(o *Options) {
		if regionSize > 0 {
			o.RegionSize = regionSize
		}
		if maxDepth >= 0 {
			o.MaxDepth = maxDepth
		}
	}
}

// WithClustering sets the minimum cluster radius and the area scale.
func WithClustering(minRadius, areaScale float32) Option {
	return func(o *Options) {
		if minRadius > 0 {
			o.ClusterMinRadius = minRadius
		}
		if areaScale > 0 {
			o.ClusterAreaScale = areaScale
		}
	}
}

// WithToolFaces keeps nodraw, sky, skip, hint and trigger faces.
func WithToolFaces(keep bool) Option {
	return func(o *Options) { o.KeepToolFaces = keep }
}

// WithBrushes resolves brush solids into windings.
func WithBrushes(enabled bool) Option {
	return func(o *Options) { o.Brushes = enabled }
}

// WithStaticProps toggles decoding of the static prop game lump.
func WithStaticProps(enabled bool) Option {
	return func(o *Options) { o.StaticProps = enabled }
}

// WithLogger sets the logger for skipped lumps and geometry.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
