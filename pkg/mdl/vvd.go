package mdl

import (
	"errors"
	"fmt"

	"github.com/Faultbox/srcforge/pkg/math"
)

// VVD format errors.
var (
	ErrInvalidVVDMagic       = errors.New("invalid VVD magic: expected 'IDSV'")
	ErrUnsupportedVVDVersion = errors.New("unsupported VVD version")
)

// MaxLODs is the number of LOD slots in vertex and strip files.
const MaxLODs = 8

type vvdHeader struct {
	ID             [4]byte
	Version        int32
	Checksum       int32
	NumLODs        int32
	NumLODVertices [MaxLODs]int32
	NumFixups      int32
	FixupStart     int32
	VertexStart    int32
	TangentStart   int32
}

type vvdVertex struct {
	Weights  [3]float32
	Bones    [3]uint8
	NumBones uint8
	Position [3]float32
	Normal   [3]float32
	UV       [2]float32
}

// Vertex is one studio vertex with up to three bone weights.
type Vertex struct {
	Weights  [3]float32
	Bones    [3]uint8
	NumBones int
	Position math.Vec3
	Normal   math.Vec3
	UV       math.Vec2
}

// Fixup keeps Count vertices starting at Source for every LOD <= LOD.
type Fixup struct {
	LOD    int32
	Source int32
	Count  int32
}

// FixupTable remaps LOD vertex sets onto the canonical vertex array.
type FixupTable []Fixup

// Resolve maps index i of the vertex set for lod to an index into the
// canonical vertex array. Without a table the mapping is the identity.
// It returns -1 when i lies outside the LOD's vertex set.
func (t FixupTable) Resolve(lod, i int) int {
	if len(t) == 0 {
		return i
	}
	if i < 0 {
		return -1
	}
	base := 0
	for _, f := range t {
		if int(f.LOD) < lod {
			continue
		}
		if i < base+int(f.Count) {
			return int(f.Source) + i - base
		}
		base += int(f.Count)
	}
	return -1
}

// VertexCount returns the number of vertices in the LOD's vertex set.
func (t FixupTable) VertexCount(lod int) int {
	n := 0
	for _, f := range t {
		if int(f.LOD) >= lod {
			n += int(f.Count)
		}
	}
	return n
}

// VertexFile is a parsed .vvd file.
type VertexFile struct {
	Version        int32
	Checksum       int32
	NumLODs        int
	NumLODVertices [MaxLODs]int
	Fixups         FixupTable
	Vertices       []Vertex
	Tangents       [][4]float32
}

// VertexesForLOD returns the vertex set of a LOD: the concatenation of every
// fixup range whose LOD is at least lod, in table order. Without a fixup table
// the whole vertex array is returned.
func (f *VertexFile) VertexesForLOD(lod int) []Vertex {
	if len(f.Fixups) == 0 {
		return f.Vertices
	}
	out := make([]Vertex, 0, f.Fixups.VertexCount(lod))
	for _, fx := range f.Fixups {
		if int(fx.LOD) < lod {
			continue
		}
		start, end := int(fx.Source), int(fx.Source+fx.Count)
		if start < 0 || end > len(f.Vertices) || start > end {
			continue
		}
		out = append(out, f.Vertices[start:end]...)
	}
	return out
}

// Vertex returns the vertex at index i of the LOD vertex set.
func (f *VertexFile) Vertex(lod, i int) (Vertex, bool) {
	j := f.Fixups.Resolve(lod, i)
	if j < 0 || j >= len(f.Vertices) {
		return Vertex{}, false
	}
	return f.Vertices[j], true
}

// ParseVVD parses a .vvd vertex file.
func ParseVVD(data []byte) (*VertexFile, error) {
	var h vvdHeader
	if err := readRecord(data, 0, &h); err != nil {
		return nil, err
	}
	if string(h.ID[:]) != "IDSV" {
		return nil, ErrInvalidVVDMagic
	}
	if h.Version != 4 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVVDVersion, h.Version)
	}
	if h.NumLODs < 0 || h.NumLODs > MaxLODs {
		return nil, fmt.Errorf("%w: %d LODs", ErrTruncatedMDLData, h.NumLODs)
	}

	vf := &VertexFile{
		Version:  h.Version,
		Checksum: h.Checksum,
		NumLODs:  int(h.NumLODs),
	}
	for i, n := range h.NumLODVertices {
		vf.NumLODVertices[i] = int(n)
	}

	nf, err := count(h.NumFixups, "fixup")
	if err != nil {
		return nil, err
	}
	if nf > 0 {
		vf.Fixups = make(FixupTable, nf)
		if err := readRecord(data, int(h.FixupStart), []Fixup(vf.Fixups)); err != nil {
			return nil, fmt.Errorf("reading fixups: %w", err)
		}
	}

	// LOD 0 vertex count covers every stored vertex.
	nv := int(h.NumLODVertices[0])
	if nv < 0 || nv > len(data)/studioVertexSize {
		return nil, fmt.Errorf("%w: vertex count %d", ErrTruncatedMDLData, nv)
	}
	raw := make([]vvdVertex, nv)
	if err := readRecord(data, int(h.VertexStart), raw); err != nil {
		return nil, fmt.Errorf("reading vertices: %w", err)
	}
	vf.Vertices = make([]Vertex, nv)
	for i, r := range raw {
		vf.Vertices[i] = Vertex{
			Weights:  r.Weights,
			Bones:    r.Bones,
			NumBones: int(r.NumBones),
			Position: math.V3(r.Position),
			Normal:   math.V3(r.Normal),
			UV:       math.Vec2{X: r.UV[0], Y: r.UV[1]},
		}
	}

	if h.TangentStart > 0 {
		vf.Tangents = make([][4]float32, nv)
		if err := readRecord(data, int(h.TangentStart), vf.Tangents); err != nil {
			vf.Tangents = nil
		}
	}

	return vf, nil
}
