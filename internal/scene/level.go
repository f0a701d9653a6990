package scene

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/srcforge/internal/assets"
	"github.com/Faultbox/srcforge/pkg/bsp"
	"github.com/Faultbox/srcforge/pkg/math"
	"github.com/Faultbox/srcforge/pkg/mdl"
)

// FromLevel builds a scene from a decoded level: one mesh per cluster, one
// mesh per resolved brush and one instance node per static prop.
// Prop models that fail to load are logged and skipped. Cancelling ctx stops
// new prop model decodes and returns its error.
func (b *Builder) FromLevel(ctx context.Context, name string, lv *bsp.Level) (*Scene, error) {
	s := New(name)
	world := s.AddRoot(NewNode(name))

	for ci := range lv.Clusters {
		c := &lv.Clusters[ci]
		mesh := b.clusterMesh(lv, c)
		if len(mesh.Indices) == 0 {
			continue
		}
		mesh.Name = fmt.Sprintf("cluster_%d", ci)
		mesh.Material = b.addMaterial(s, c.Material)

		n := NewNode(mesh.Name)
		n.Mesh = s.AddMesh(mesh)
		if c.Entity > 0 {
			n.Translation = b.axes.Point(c.Origin)
			n.Rotation = b.axes.Rotation(math.QuatFromAngles(c.Angles.X, c.Angles.Y, c.Angles.Z))
		}
		s.AddChild(world, n)
	}

	if len(lv.Brushes) > 0 {
		b.addBrushes(s, lv)
	}

	if len(lv.StaticProps) > 0 {
		if err := b.addStaticProps(ctx, s, lv); err != nil {
			return nil, err
		}
	}

	st := s.Stats()
	b.log.Info("built level scene",
		zap.String("level", name),
		zap.Int("clusters", len(lv.Clusters)),
		zap.Int("meshes", st.Meshes),
		zap.Int("materials", st.Materials),
		zap.Int("triangles", st.Triangles))
	return s, nil
}

// clusterMesh merges the faces of a cluster into one triangle list.
func (b *Builder) clusterMesh(lv *bsp.Level, c *bsp.Cluster) Mesh {
	mesh := Mesh{Material: -1}
	for _, fi := range c.Faces {
		if fi < 0 || fi >= len(lv.Faces) {
			continue
		}
		f := &lv.Faces[fi]
		base := uint32(len(mesh.Positions))

		if f.Disp >= 0 && f.Disp < len(lv.Displacements) {
			d := &lv.Displacements[f.Disp]
			for i := range d.Positions {
				mesh.Positions = append(mesh.Positions, b.axes.Point(d.Positions[i]))
				mesh.Normals = append(mesh.Normals, b.axes.Direction(d.Normals[i]))
				mesh.UVs = append(mesh.UVs, d.UVs[i].Array())
			}
			for _, idx := range d.Indices {
				mesh.Indices = append(mesh.Indices, base+idx)
			}
			continue
		}

		pos, nrm, uv := lv.FaceVertices(f)
		for i := range pos {
			mesh.Positions = append(mesh.Positions, b.axes.Point(pos[i]))
			mesh.Normals = append(mesh.Normals, b.axes.Direction(nrm[i]))
			mesh.UVs = append(mesh.UVs, uv[i].Array())
		}
		mesh.Indices = appendFan(mesh.Indices, base, len(pos))
	}
	flipWinding(mesh.Indices)
	return mesh
}

// appendFan triangulates a convex polygon of n points starting at base.
func appendFan(dst []uint32, base uint32, n int) []uint32 {
	for k := 1; k+1 < n; k++ {
		dst = append(dst, base, base+uint32(k), base+uint32(k)+1)
	}
	return dst
}

// addBrushes adds one mesh per brush material under a "brushes" node.
func (b *Builder) addBrushes(s *Scene, lv *bsp.Level) {
	root := s.AddRoot(NewNode("brushes"))
	for _, brush := range lv.Brushes {
		byMaterial := make(map[string]*Mesh)
		var order []string
		for _, face := range brush.Faces {
			w := face.Winding
			if len(w) < 3 {
				continue
			}
			mesh, ok := byMaterial[face.Material]
			if !ok {
				mesh = &Mesh{Material: b.addMaterial(s, face.Material)}
				byMaterial[face.Material] = mesh
				order = append(order, face.Material)
			}

			base := uint32(len(mesh.Positions))
			normal := b.axes.Direction(face.Plane.Normal)
			for _, p := range w {
				mesh.Positions = append(mesh.Positions, b.axes.Point(p))
				mesh.Normals = append(mesh.Normals, normal)
				mesh.UVs = append(mesh.UVs, [2]float32{})
			}
			start := len(mesh.Indices)
			mesh.Indices = appendFan(mesh.Indices, base, len(w))
			// windings follow their own loop order; orient them to the plane
			if w.Normal().Dot(face.Plane.Normal) < 0 {
				flipWinding(mesh.Indices[start:])
			}
		}

		for i, mat := range order {
			mesh := byMaterial[mat]
			mesh.Name = fmt.Sprintf("brush_%d_%d", brush.Index, i)
			n := NewNode(mesh.Name)
			n.Mesh = s.AddMesh(*mesh)
			s.AddChild(root, n)
		}
	}
}

type propKey struct {
	model int
	skin  int
}

// addStaticProps decodes every referenced prop model in parallel and adds
// one instance node per prop. Instances of the same model and skin share meshes.
func (b *Builder) addStaticProps(ctx context.Context, s *Scene, lv *bsp.Level) error {
	models := make([]*mdl.Model, len(lv.PropModels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, p := range lv.PropModels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := mdl.Load(b.fs, assets.NormalizePath(p), mdl.WithLogger(b.log))
			if err != nil {
				b.log.Warn("skipping prop model", zap.String("model", p), zap.Error(err))
				return nil
			}
			models[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("loading prop models: %w", err)
	}

	root := s.AddRoot(NewNode("props"))
	shared := make(map[propKey][]int)
	skipped := 0
	for i := range lv.StaticProps {
		prop := &lv.StaticProps[i]
		if prop.ModelIndex < 0 || prop.ModelIndex >= len(models) || models[prop.ModelIndex] == nil {
			skipped++
			continue
		}
		m := models[prop.ModelIndex]

		key := propKey{model: prop.ModelIndex, skin: prop.Skin}
		meshes, ok := shared[key]
		if !ok {
			meshes = b.modelMeshes(s, m, prop.Skin, false)
			shared[key] = meshes
		}
		if len(meshes) == 0 {
			skipped++
			continue
		}

		n := NewNode(fmt.Sprintf("%s_%d", strings.TrimSuffix(path.Base(prop.Model), ".mdl"), i))
		n.Translation = b.axes.Point(prop.Origin)
		n.Rotation = b.axes.Rotation(math.QuatFromAngles(prop.Angles.X, prop.Angles.Y, prop.Angles.Z))
		n.Scale = [3]float32{prop.Scale, prop.Scale, prop.Scale}
		parent := s.AddChild(root, n)
		for _, mi := range meshes {
			child := NewNode(s.Meshes[mi].Name)
			child.Mesh = mi
			s.AddChild(parent, child)
		}
	}

	b.log.Debug("placed static props",
		zap.Int("props", len(lv.StaticProps)),
		zap.Int("models", len(models)),
		zap.Int("skipped", skipped))
	return nil
}
