package octree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/chewxy/math32"

	"github.com/Faultbox/srcforge/pkg/math"
)

func randomPoint(rng *rand.Rand, extent float32) math.Vec3 {
	return math.Vec3{
		X: (rng.Float32()*2 - 1) * extent,
		Y: (rng.Float32()*2 - 1) * extent,
		Z: (rng.Float32()*2 - 1) * extent,
	}
}

func bruteForce(points map[NodeID]math.Vec3, q math.Vec3, radius float32) []NodeID {
	var out []NodeID
	for id, p := range points {
		if p.Distance(q) <= radius {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRadiusSearch_MatchesBruteForce(t *testing.T) {
	tests := []struct {
		name     string
		extent   float32
		count    int
		depth    int
		radiuses []float32
	}{
		{"dense single region", 200, 300, DefaultMaxDepth, []float32{0, 5, 40, 150}},
		{"spread over many regions", 4000, 500, DefaultMaxDepth, []float32{64, 512, 1500}},
		{"flat index", 2000, 200, 0, []float32{100, 800}},
		{"huge radius", 3000, 100, 3, []float32{1e6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			tree := New[int](DefaultRegionSize, tt.depth)
			points := make(map[NodeID]math.Vec3)
			for i := 0; i < tt.count; i++ {
				p := randomPoint(rng, tt.extent)
				points[tree.Insert(p, i)] = p
			}

			for q := 0; q < 50; q++ {
				center := randomPoint(rng, tt.extent)
				for _, r := range tt.radiuses {
					got := tree.RadiusSearchIDs(center, r)
					want := bruteForce(points, center, r)
					if !equalIDs(got, want) {
						t.Fatalf("query %v r=%v: got %d ids, want %d", center, r, len(got), len(want))
					}
				}
			}
		})
	}
}

func TestRadiusSearch_AfterMovesAndRemovals(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tree := New[string](DefaultRegionSize, DefaultMaxDepth)
	points := make(map[NodeID]math.Vec3)
	var ids []NodeID
	for i := 0; i < 400; i++ {
		p := randomPoint(rng, 2500)
		id := tree.Insert(p, "v")
		points[id] = p
		ids = append(ids, id)
	}

	for i, id := range ids {
		switch i % 3 {
		case 0:
			p := randomPoint(rng, 2500)
			tree.Move(id, p)
			points[id] = p
		case 1:
			// small nudge, usually stays in the same leaf
			p := points[id].Add(math.Vec3{X: 0.5})
			tree.Move(id, p)
			points[id] = p
		case 2:
			if i%6 == 2 {
				tree.Remove(id)
				delete(points, id)
			}
		}
	}

	if tree.Len() != len(points) {
		t.Fatalf("Len() = %d, want %d", tree.Len(), len(points))
	}
	for q := 0; q < 100; q++ {
		center := randomPoint(rng, 2500)
		for _, r := range []float32{10, 300, 1200} {
			got := tree.RadiusSearchIDs(center, r)
			want := bruteForce(points, center, r)
			if !equalIDs(got, want) {
				t.Fatalf("query %v r=%v: got %v, want %v", center, r, got, want)
			}
		}
	}
}

func TestMove_RebucketsNode(t *testing.T) {
	tree := New[int](DefaultRegionSize, DefaultMaxDepth)
	id := tree.Insert(math.Vec3{X: 10, Y: 10, Z: 10}, 99)

	tree.Move(id, math.Vec3{X: 5000, Y: -3000, Z: 100})

	if got := tree.RadiusSearch(math.Vec3{X: 10, Y: 10, Z: 10}, 50); len(got) != 0 {
		t.Errorf("old position still returns %v", got)
	}
	got := tree.RadiusSearch(math.Vec3{X: 5000, Y: -3000, Z: 100}, 1)
	if len(got) != 1 || got[0] != 99 {
		t.Errorf("new position returned %v, want [99]", got)
	}
	if tree.Value(id) != 99 {
		t.Errorf("Value() = %d after move", tree.Value(id))
	}
}

func TestRemove_PrunesEmptyRegions(t *testing.T) {
	tree := New[int](DefaultRegionSize, DefaultMaxDepth)
	a := tree.Insert(math.Vec3{X: 1, Y: 1, Z: 1}, 1)
	// A single node creates one region per depth.
	if got, want := tree.RegionCount(), DefaultMaxDepth+1; got != want {
		t.Fatalf("RegionCount() = %d, want %d", got, want)
	}

	b := tree.Insert(math.Vec3{X: 500, Y: 500, Z: 500}, 2)
	before := tree.RegionCount()
	tree.Remove(b)
	if got := tree.RegionCount(); got != before-DefaultMaxDepth {
		t.Errorf("RegionCount() after remove = %d, want %d", got, before-DefaultMaxDepth)
	}

	tree.Remove(a)
	// The top-level region has no parent and stays.
	if got := tree.RegionCount(); got != 1 {
		t.Errorf("RegionCount() after removing all = %d, want 1", got)
	}
	if tree.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tree.Len())
	}
}

func TestOctant_TieBreaking(t *testing.T) {
	center := math.Vec3{X: 256, Y: 256, Z: 256}
	tests := []struct {
		name string
		p    math.Vec3
		want int8
	}{
		{"exact center", center, 1},
		{"strictly positive", math.Vec3{X: 300, Y: 300, Z: 300}, 7},
		{"strictly negative", math.Vec3{X: 10, Y: 10, Z: 10}, 0},
		{"above only", math.Vec3{X: 10, Y: 257, Z: 256}, 2},
		{"in front only", math.Vec3{X: 255, Y: 256, Z: 257}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := octant(center, tt.p); got != tt.want {
				t.Errorf("octant(%v) = %d, want %d", tt.p, got, tt.want)
			}
		})
	}
}

func TestRadiusSearch_Empty(t *testing.T) {
	tree := New[int](0, -1)
	if got := tree.RadiusSearch(math.Vec3{}, 100); len(got) != 0 {
		t.Errorf("empty tree returned %v", got)
	}
	tree.Insert(math.Vec3{X: 1e7, Y: -1e7, Z: 3}, 1)
	if got := tree.RadiusSearch(math.Vec3{}, 100); len(got) != 0 {
		t.Errorf("far query returned %v", got)
	}
}

func TestRadiusSearch_ExtremeValues(t *testing.T) {
	tree := New[int](DefaultRegionSize, DefaultMaxDepth)
	points := map[NodeID]math.Vec3{}
	for i, p := range []math.Vec3{
		{},
		{X: 100},
		{X: -700, Y: 40, Z: 12},
		{X: 3e12},
		{Y: -5e11, Z: 2e9},
	} {
		points[tree.Insert(p, i)] = p
	}

	tests := []struct {
		name   string
		center math.Vec3
		radius float32
	}{
		{"huge radius", math.Vec3{}, 2e12},
		{"infinite radius", math.Vec3{}, math32.Inf(1)},
		{"far point", math.Vec3{X: 3e12}, 1},
		{"far query near origin", math.Vec3{Y: -5e11, Z: 2e9}, 10},
		{"query beyond cell range", math.Vec3{X: -1e30}, 1e3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tree.RadiusSearchIDs(tt.center, tt.radius)
			want := bruteForce(points, tt.center, tt.radius)
			if !equalIDs(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}

	if got := tree.RadiusSearchIDs(math.Vec3{}, math32.NaN()); got != nil {
		t.Errorf("NaN radius returned %v", got)
	}
	if got := tree.RadiusSearchIDs(math.Vec3{}, -1); got != nil {
		t.Errorf("negative radius returned %v", got)
	}
}

func TestRadiusSearch_FlatIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tree := New[int](256, 0)
	points := make(map[NodeID]math.Vec3)
	for i := 0; i < 200; i++ {
		p := randomPoint(rng, 2000)
		points[tree.Insert(p, i)] = p
	}
	if got := tree.RegionCount(); got > len(points) {
		t.Errorf("RegionCount() = %d, want at most %d top-level regions", got, len(points))
	}
	for q := 0; q < 20; q++ {
		center := randomPoint(rng, 2000)
		got := tree.RadiusSearchIDs(center, 400)
		if want := bruteForce(points, center, 400); !equalIDs(got, want) {
			t.Fatalf("query %v: got %v, want %v", center, got, want)
		}
	}
}
