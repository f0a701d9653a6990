// Package octree provides a spatially hashed octree over point-tagged values.
//
// Top-level regions are cubes of a fixed size addressed by their integer cell
// coordinate, so the index has no bounds. Each top-level region subdivides lazily
// into octants down to a fixed depth; values live in the leaf regions.
//
// Regions and nodes are stored in arenas and referenced by integer handles. A node
// is counted in exactly one region at every depth from its top-level region down
// to its leaf. Moving a node rewrites that chain; regions below the top level that
// become empty are pruned.
//
// Octant selection per axis: x >= center goes to +X, y <= center goes to -Y
// ("below"), z <= center goes to -Z ("behind"). Child index bit 0 is +X, bit 1 is
// +Y and bit 2 is +Z.
//
// An Octree is not safe for concurrent mutation.
package octree

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/Faultbox/srcforge/pkg/math"
)

// Default geometry used by the level decoder.
const (
	DefaultRegionSize = 512
	DefaultMaxDepth   = 4
)

// halfDiagonal is sqrt(3)/2 rounded up, the bounding-sphere radius of a unit cube.
const halfDiagonal = 0.8660255

// Cell coordinates are clamped to this range. Positions beyond it, and cells
// too far out for float32 to place their centers, land in loose regions that
// are never pruned during a search.
const maxCell = 1<<31 - 2

// NodeID is a handle to a node owned by an Octree.
type NodeID int32

type regionID int32

const noRegion regionID = -1

type cellKey struct {
	X, Y, Z int32
}

type region struct {
	parent   regionID
	slot     int8 // index in parent.children
	depth    int
	center   math.Vec3
	size     float32
	count    int
	children [8]regionID
	members  []NodeID // leaf depth only
	loose    bool
	live     bool
}

type node[T any] struct {
	value T
	pos   math.Vec3
	leaf  regionID
	live  bool
}

// Octree indexes values of type T by position.
type Octree[T any] struct {
	regionSize float32
	maxDepth   int
	looseLimit float32

	top         map[cellKey]regionID
	regions     []region
	freeRegions []regionID

	nodes     []node[T]
	freeNodes []NodeID
	count     int
}

// New creates an octree with the given top-level region size and maximum depth.
// A non-positive region size or a negative depth falls back to the default.
func New[T any](regionSize float32, maxDepth int) *Octree[T] {
	if regionSize <= 0 {
		regionSize = DefaultRegionSize
	}
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Octree[T]{
		regionSize: regionSize,
		maxDepth:   maxDepth,
		looseLimit: math32.Ldexp(regionSize, 19-maxDepth),
		top:        make(map[cellKey]regionID),
	}
}

// Len returns the number of live nodes.
func (o *Octree[T]) Len() int {
	return o.count
}

// RegionCount returns the number of live regions at every depth.
func (o *Octree[T]) RegionCount() int {
	return len(o.regions) - len(o.freeRegions)
}

// Insert adds a value at pos and returns its handle.
func (o *Octree[T]) Insert(pos math.Vec3, value T) NodeID {
	var id NodeID
	if n := len(o.freeNodes); n > 0 {
		id = o.freeNodes[n-1]
		o.freeNodes = o.freeNodes[:n-1]
		o.nodes[id] = node[T]{value: value, pos: pos, leaf: noRegion, live: true}
	} else {
		id = NodeID(len(o.nodes))
		o.nodes = append(o.nodes, node[T]{value: value, pos: pos, leaf: noRegion, live: true})
	}
	o.link(id)
	o.count++
	return id
}

// Value returns the value stored under id.
func (o *Octree[T]) Value(id NodeID) T {
	return o.nodes[id].value
}

// Position returns the current position of id.
func (o *Octree[T]) Position(id NodeID) math.Vec3 {
	return o.nodes[id].pos
}

// Move repositions id, rebucketing it when it crosses a leaf boundary.
func (o *Octree[T]) Move(id NodeID, pos math.Vec3) {
	n := &o.nodes[id]
	if !n.live {
		return
	}
	if o.findLeaf(pos) == n.leaf {
		n.pos = pos
		return
	}
	o.unlink(id)
	o.nodes[id].pos = pos
	o.link(id)
}

// Remove deletes id from the index. The handle may be reused by a later Insert.
func (o *Octree[T]) Remove(id NodeID) {
	if !o.nodes[id].live {
		return
	}
	o.unlink(id)
	var zero T
	o.nodes[id] = node[T]{value: zero, leaf: noRegion}
	o.freeNodes = append(o.freeNodes, id)
	o.count--
}

// RadiusSearch returns the values within radius of pos, ordered by handle.
func (o *Octree[T]) RadiusSearch(pos math.Vec3, radius float32) []T {
	ids := o.RadiusSearchIDs(pos, radius)
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = o.nodes[id].value
	}
	return out
}

// RadiusSearchIDs returns the handles within radius of pos in ascending order.
func (o *Octree[T]) RadiusSearchIDs(pos math.Vec3, radius float32) []NodeID {
	if !(radius >= 0) || o.count == 0 {
		return nil
	}

	var out []NodeID
	lo := o.cellOf(pos.Sub(math.Vec3{X: radius, Y: radius, Z: radius}))
	hi := o.cellOf(pos.Add(math.Vec3{X: radius, Y: radius, Z: radius}))

	if math32.IsInf(radius, 1) || o.span(lo, hi) > int64(len(o.top)) {
		for _, r := range o.top {
			out = o.search(r, pos, radius, out)
		}
	} else {
		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for z := lo.Z; z <= hi.Z; z++ {
					if r, ok := o.top[cellKey{x, y, z}]; ok {
						out = o.search(r, pos, radius, out)
					}
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// span returns the number of cells in [lo, hi], saturating just above the
// number of top-level regions.
func (o *Octree[T]) span(lo, hi cellKey) int64 {
	limit := int64(len(o.top)) + 1
	n := int64(1)
	for _, ext := range [3]int64{
		int64(hi.X) - int64(lo.X) + 1,
		int64(hi.Y) - int64(lo.Y) + 1,
		int64(hi.Z) - int64(lo.Z) + 1,
	} {
		if ext > limit {
			return limit
		}
		n *= ext
		if n > limit {
			return limit
		}
	}
	return n
}

func (o *Octree[T]) search(r regionID, pos math.Vec3, radius float32, out []NodeID) []NodeID {
	reg := &o.regions[r]
	if !reg.loose && reg.center.Distance(pos) > radius+halfDiagonal*reg.size {
		return out
	}
	if reg.depth == o.maxDepth {
		for _, id := range reg.members {
			if o.nodes[id].pos.Distance(pos) <= radius {
				out = append(out, id)
			}
		}
		return out
	}
	for _, c := range reg.children {
		if c != noRegion {
			out = o.search(c, pos, radius, out)
		}
	}
	return out
}

func (o *Octree[T]) cellOf(p math.Vec3) cellKey {
	return cellKey{
		X: o.cell(p.X),
		Y: o.cell(p.Y),
		Z: o.cell(p.Z),
	}
}

func (o *Octree[T]) cell(v float32) int32 {
	c := float64(math32.Floor(v / o.regionSize))
	switch {
	case c != c:
		return 0
	case c <= -maxCell:
		return -maxCell
	case c >= maxCell:
		return maxCell
	}
	return int32(c)
}

// loose reports whether a top-level cell cannot be placed exactly.
func (o *Octree[T]) loose(key cellKey, center math.Vec3) bool {
	for _, k := range [3]int32{key.X, key.Y, key.Z} {
		if k == maxCell || k == -maxCell {
			return true
		}
	}
	return math32.Abs(center.X) > o.looseLimit ||
		math32.Abs(center.Y) > o.looseLimit ||
		math32.Abs(center.Z) > o.looseLimit
}

func octant(center, p math.Vec3) int8 {
	var i int8
	if p.X >= center.X {
		i |= 1
	}
	if p.Y > center.Y {
		i |= 2
	}
	if p.Z > center.Z {
		i |= 4
	}
	return i
}

func childCenter(center math.Vec3, size float32, slot int8) math.Vec3 {
	q := size / 4
	c := center
	if slot&1 != 0 {
		c.X += q
	} else {
		c.X -= q
	}
	if slot&2 != 0 {
		c.Y += q
	} else {
		c.Y -= q
	}
	if slot&4 != 0 {
		c.Z += q
	} else {
		c.Z -= q
	}
	return c
}

func (o *Octree[T]) allocRegion(r region) regionID {
	r.live = true
	for i := range r.children {
		r.children[i] = noRegion
	}
	if n := len(o.freeRegions); n > 0 {
		id := o.freeRegions[n-1]
		o.freeRegions = o.freeRegions[:n-1]
		o.regions[id] = r
		return id
	}
	o.regions = append(o.regions, r)
	return regionID(len(o.regions) - 1)
}

func (o *Octree[T]) topRegion(p math.Vec3, create bool) regionID {
	key := o.cellOf(p)
	if r, ok := o.top[key]; ok {
		return r
	}
	if !create {
		return noRegion
	}
	center := math.Vec3{
		X: (float32(key.X) + 0.5) * o.regionSize,
		Y: (float32(key.Y) + 0.5) * o.regionSize,
		Z: (float32(key.Z) + 0.5) * o.regionSize,
	}
	r := o.allocRegion(region{
		parent: noRegion,
		slot:   -1,
		center: center,
		size:   o.regionSize,
		loose:  o.loose(key, center),
	})
	o.top[key] = r
	return r
}

// findLeaf returns the existing leaf region for p without creating regions.
func (o *Octree[T]) findLeaf(p math.Vec3) regionID {
	r := o.topRegion(p, false)
	for r != noRegion && o.regions[r].depth < o.maxDepth {
		r = o.regions[r].children[octant(o.regions[r].center, p)]
	}
	return r
}

// link adds the node to every region on the path to its leaf.
func (o *Octree[T]) link(id NodeID) {
	p := o.nodes[id].pos
	r := o.topRegion(p, true)
	for {
		o.regions[r].count++
		if o.regions[r].depth == o.maxDepth {
			o.regions[r].members = append(o.regions[r].members, id)
			o.nodes[id].leaf = r
			return
		}
		slot := octant(o.regions[r].center, p)
		child := o.regions[r].children[slot]
		if child == noRegion {
			parent := o.regions[r]
			child = o.allocRegion(region{
				parent: r,
				slot:   slot,
				depth:  parent.depth + 1,
				center: childCenter(parent.center, parent.size, slot),
				size:   parent.size / 2,
				loose:  parent.loose,
			})
			o.regions[r].children[slot] = child
		}
		r = child
	}
}

// unlink removes the node from its leaf chain and prunes emptied regions.
func (o *Octree[T]) unlink(id NodeID) {
	r := o.nodes[id].leaf
	if r == noRegion {
		return
	}
	members := o.regions[r].members
	for i, m := range members {
		if m == id {
			o.regions[r].members = append(members[:i], members[i+1:]...)
			break
		}
	}
	for r != noRegion {
		reg := &o.regions[r]
		reg.count--
		parent := reg.parent
		if reg.count == 0 && parent != noRegion {
			o.regions[parent].children[reg.slot] = noRegion
			*reg = region{parent: noRegion}
			o.freeRegions = append(o.freeRegions, r)
		}
		r = parent
	}
	o.nodes[id].leaf = noRegion
}
