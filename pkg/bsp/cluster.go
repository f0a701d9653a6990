package bsp

import (
	"sort"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/pkg/octree"
)

// cluster groups faces by material and proximity. Faces are visited in material
// order; each unassigned face seeds a cluster and pulls in every unassigned face
// of the same material and entity within its search radius. Displacements stay
// on their own.
func (d *decoder) cluster() {
	lv := d.level
	if len(lv.Faces) == 0 {
		return
	}

	order := make([]int, len(lv.Faces))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lv.Faces[order[a]].Material < lv.Faces[order[b]].Material
	})

	tree := octree.New[int](d.opts.RegionSize, d.opts.MaxDepth)
	nodes := make(map[int]octree.NodeID, len(lv.Faces))
	for i := range lv.Faces {
		f := &lv.Faces[i]
		if f.Disp >= 0 {
			continue
		}
		id := tree.Insert(f.Center, i)
		if origin, _ := lv.EntityTransform(f.Entity); !origin.IsZero() {
			tree.Move(id, f.Center.Add(origin))
		}
		nodes[i] = id
	}

	assigned := make([]bool, len(lv.Faces))
	for _, seed := range order {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		f := &lv.Faces[seed]
		origin, angles := lv.EntityTransform(f.Entity)
		c := Cluster{
			Material: f.Material,
			Entity:   f.Entity,
			Origin:   origin,
			Angles:   angles,
			Faces:    []int{seed},
		}

		if id, ok := nodes[seed]; ok {
			pos := tree.Position(id)
			tree.Remove(id)
			radius := math32.Max(d.opts.ClusterMinRadius, math32.Sqrt(f.Area)*d.opts.ClusterAreaScale)
			for _, other := range tree.RadiusSearchIDs(pos, radius) {
				j := tree.Value(other)
				g := &lv.Faces[j]
				if assigned[j] || g.Material != f.Material || g.Entity != f.Entity {
					continue
				}
				assigned[j] = true
				tree.Remove(other)
				c.Faces = append(c.Faces, j)
			}
		}
		lv.Clusters = append(lv.Clusters, c)
	}

	d.log.Debug("clustered faces",
		zap.Int("faces", len(lv.Faces)),
		zap.Int("clusters", len(lv.Clusters)),
		zap.Int("regions", tree.RegionCount()))
}
