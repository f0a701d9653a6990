// Package scene holds the reconstructed scene graph handed to exporters and
// builds it from decoded levels and models.
package scene

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/srcforge/pkg/math"
)

// AlphaMode mirrors the glTF alpha modes.
type AlphaMode int

const (
	AlphaOpaque AlphaMode = iota
	AlphaMask
	AlphaBlend
)

// String returns the glTF name of the mode.
func (m AlphaMode) String() string {
	switch m {
	case AlphaMask:
		return "MASK"
	case AlphaBlend:
		return "BLEND"
	default:
		return "OPAQUE"
	}
}

// Material is the exporter's view of a resolved material.
type Material struct {
	Name          string
	Texture       string // texture path, "" when untextured
	Color         [4]float32
	AlphaMode     AlphaMode
	AlphaCutoff   float32
	DoubleSided   bool
	Missing       bool
	PhysicalClass string
}

// Mesh is one indexed triangle list drawn with a single material.
// Triangles are counter-clockwise when seen from the front.
type Mesh struct {
	Name      string
	Material  int // index into Scene.Materials, -1 for none
	Positions [][3]float32
	Normals   [][3]float32
	UVs       [][2]float32
	Joints    [][4]uint16 // empty for rigid meshes
	Weights   [][4]float32
	Indices   []uint32
}

// Skinned reports whether the mesh carries joint influences.
func (m *Mesh) Skinned() bool {
	return len(m.Joints) > 0 && len(m.Joints) == len(m.Positions)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Bounds returns the axis-aligned bounds of the positions.
func (m *Mesh) Bounds() (lo, hi [3]float32) {
	if len(m.Positions) == 0 {
		return lo, hi
	}
	lo = m.Positions[0]
	hi = m.Positions[0]
	for _, p := range m.Positions[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = math32.Min(lo[i], p[i])
			hi[i] = math32.Max(hi[i], p[i])
		}
	}
	return lo, hi
}

// Node is a transform in the hierarchy, optionally carrying a mesh.
type Node struct {
	Name        string
	Mesh        int // -1 for none
	Skin        int // -1 for none
	Children    []int
	Translation [3]float32
	Rotation    [4]float32 // x, y, z, w
	Scale       [3]float32
}

// NewNode returns a node with an identity transform.
func NewNode(name string) Node {
	return Node{
		Name:     name,
		Mesh:     -1,
		Skin:     -1,
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	}
}

// Skin binds joints to skinned meshes.
type Skin struct {
	Name        string
	Joints      []int // node indices
	InverseBind [][16]float32
	Skeleton    int // root joint node, -1 for none
}

// Scene is a complete exportable asset.
type Scene struct {
	Name      string
	Nodes     []Node
	Roots     []int
	Meshes    []Mesh
	Materials []Material
	Skins     []Skin

	materialIndex map[string]int
}

// New returns an empty scene.
func New(name string) *Scene {
	return &Scene{Name: name, materialIndex: make(map[string]int)}
}

// AddNode appends a node and returns its index.
func (s *Scene) AddNode(n Node) int {
	s.Nodes = append(s.Nodes, n)
	return len(s.Nodes) - 1
}

// AddRoot appends a node and marks it as a root.
func (s *Scene) AddRoot(n Node) int {
	i := s.AddNode(n)
	s.Roots = append(s.Roots, i)
	return i
}

// AddChild appends a node under parent.
func (s *Scene) AddChild(parent int, n Node) int {
	i := s.AddNode(n)
	s.Nodes[parent].Children = append(s.Nodes[parent].Children, i)
	return i
}

// AddMesh appends a mesh and returns its index.
func (s *Scene) AddMesh(m Mesh) int {
	s.Meshes = append(s.Meshes, m)
	return len(s.Meshes) - 1
}

// AddMaterial returns the index of a material, adding it on first use.
func (s *Scene) AddMaterial(m Material) int {
	if i, ok := s.materialIndex[m.Name]; ok {
		return i
	}
	s.Materials = append(s.Materials, m)
	i := len(s.Materials) - 1
	s.materialIndex[m.Name] = i
	return i
}

// MaterialIndex returns the index of a named material.
func (s *Scene) MaterialIndex(name string) (int, bool) {
	i, ok := s.materialIndex[name]
	return i, ok
}

// Stats summarizes the scene for logging.
type Stats struct {
	Nodes     int
	Meshes    int
	Materials int
	Vertices  int
	Triangles int
}

// Stats counts the scene contents.
func (s *Scene) Stats() Stats {
	st := Stats{Nodes: len(s.Nodes), Meshes: len(s.Meshes), Materials: len(s.Materials)}
	for i := range s.Meshes {
		st.Vertices += len(s.Meshes[i].Positions)
		st.Triangles += s.Meshes[i].TriangleCount()
	}
	return st
}

// Axes converts engine coordinates (Z up, inches) to glTF coordinates
// (Y up, meters by default).
type Axes struct {
	Scale float32
}

// Point converts a position.
func (a Axes) Point(v math.Vec3) [3]float32 {
	return [3]float32{v.X * a.Scale, v.Z * a.Scale, -v.Y * a.Scale}
}

// Direction converts a normal or direction without scaling.
func (a Axes) Direction(v math.Vec3) [3]float32 {
	return [3]float32{v.X, v.Z, -v.Y}
}

// Rotation converts an orientation.
func (a Axes) Rotation(q math.Quat) [4]float32 {
	return [4]float32{q.X, q.Z, -q.Y, q.W}
}

// Matrix converts a rigid transform matrix (column-major) into glTF space.
func (a Axes) Matrix(m math.Mat4) [16]float32 {
	// basis change C * m * C^-1 with C mapping (x, y, z) to (x, z, -y)
	c := math.Mat4{
		1, 0, 0, 0,
		0, 0, -1, 0,
		0, 1, 0, 0,
		0, 0, 0, 1,
	}
	out := c.Mul(m).Mul(c.Inverse())
	out[12] *= a.Scale
	out[13] *= a.Scale
	out[14] *= a.Scale
	return out
}

// flipWinding reverses every triangle in place.
func flipWinding(indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		indices[i+1], indices[i+2] = indices[i+2], indices[i+1]
	}
}
