package mdl

import (
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/pkg/encoding"
	"github.com/Faultbox/srcforge/pkg/math"
)

// Option configures assembly and loading.
type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger sets the logger used for skipped meshes and fallbacks.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SkinnedVertex is an assembled vertex with bone indices into Model.Bones.
type SkinnedVertex struct {
	Position math.Vec3
	Normal   math.Vec3
	UV       math.Vec2
	Tangent  [4]float32
	Bones    [3]int
	Weights  [3]float32
	NumBones int
}

// SkinnedMesh is a flat triangle list for one material.
type SkinnedMesh struct {
	SkinRef  int // index into the skin table columns
	Material int // texture index for skin family 0
	Vertices []SkinnedVertex
	Indices  []uint32
}

// ModelLOD is one level of detail of a sub-model.
type ModelLOD struct {
	SwitchPoint float32
	Meshes      []SkinnedMesh
}

// ModelPart is one assembled sub-model.
type ModelPart struct {
	Name string
	LODs []ModelLOD
}

// ModelBodyPart groups mutually exclusive sub-models.
type ModelBodyPart struct {
	Name   string
	Models []ModelPart
}

// Model is a fully assembled studio model.
type Model struct {
	Name          string
	Flags         uint32
	Bones         []Bone
	Materials     []string
	MaterialPaths []string
	Skins         [][]int16
	BodyParts     []ModelBodyPart
	HullMin       math.Vec3
	HullMax       math.Vec3
}

// IsStaticProp reports whether the model was compiled as a static prop.
func (m *Model) IsStaticProp() bool {
	return m.Flags&FlagStaticProp != 0
}

// MaterialForSkin returns the texture index a skin reference uses in a skin family.
func (m *Model) MaterialForSkin(skinRef, family int) int {
	if family < 0 || family >= len(m.Skins) {
		family = 0
	}
	if family < len(m.Skins) && skinRef >= 0 && skinRef < len(m.Skins[family]) {
		return int(m.Skins[family][skinRef])
	}
	return skinRef
}

// MaterialCandidates returns the .vmt paths to try for a material, in search order.
func (m *Model) MaterialCandidates(material int) []string {
	if material < 0 || material >= len(m.Materials) {
		return nil
	}
	name := m.Materials[material]
	paths := m.MaterialPaths
	if len(paths) == 0 {
		paths = []string{""}
	}
	out := make([]string, 0, len(paths))
	for _, dir := range paths {
		p := path.Join("materials", encoding.NormalizePath(dir), encoding.NormalizePath(name)) + ".vmt"
		out = append(out, p)
	}
	return out
}

// Assemble rebuilds flat skinned meshes from a studio header, its vertex file
// and its strip file. The three must carry the same checksum.
func Assemble(hdr *Header, vvd *VertexFile, vtx *StripFile, opts ...Option) (*Model, error) {
	o := buildOptions(opts)

	if hdr.Checksum != vvd.Checksum {
		return nil, fmt.Errorf("%w: mdl %#x, vvd %#x", ErrChecksumMismatch, uint32(hdr.Checksum), uint32(vvd.Checksum))
	}
	if hdr.Checksum != vtx.Checksum {
		return nil, fmt.Errorf("%w: mdl %#x, vtx %#x", ErrChecksumMismatch, uint32(hdr.Checksum), uint32(vtx.Checksum))
	}

	m := &Model{
		Name:          hdr.Name,
		Flags:         hdr.Flags,
		Bones:         hdr.Bones,
		MaterialPaths: hdr.TexturePaths,
		Skins:         hdr.Skins,
		HullMin:       hdr.HullMin,
		HullMax:       hdr.HullMax,
		BodyParts:     make([]ModelBodyPart, len(hdr.BodyParts)),
	}
	m.Materials = make([]string, len(hdr.Textures))
	for i, t := range hdr.Textures {
		m.Materials[i] = t.Name
	}

	if len(vtx.BodyParts) != len(hdr.BodyParts) {
		o.log.Warn("body part count differs between mdl and vtx",
			zap.String("model", hdr.Name),
			zap.Int("mdl", len(hdr.BodyParts)),
			zap.Int("vtx", len(vtx.BodyParts)))
	}

	a := assembler{model: m, vvd: vvd, log: o.log}
	for i, bp := range hdr.BodyParts {
		out := ModelBodyPart{Name: bp.Name, Models: make([]ModelPart, len(bp.Models))}
		for j, sub := range bp.Models {
			out.Models[j].Name = sub.Name
			if i >= len(vtx.BodyParts) || j >= len(vtx.BodyParts[i].Models) {
				continue
			}
			lods, err := a.subModel(&sub, &vtx.BodyParts[i].Models[j])
			if err != nil {
				return nil, fmt.Errorf("body part %d model %d: %w", i, j, err)
			}
			out.Models[j].LODs = lods
		}
		m.BodyParts[i] = out
	}

	return m, nil
}

type assembler struct {
	model *Model
	vvd   *VertexFile
	log   *zap.Logger
}

func (a *assembler) subModel(sub *SubModel, sm *StripModel) ([]ModelLOD, error) {
	lods := make([]ModelLOD, len(sm.LODs))
	for l, lod := range sm.LODs {
		out := ModelLOD{SwitchPoint: lod.SwitchPoint}
		for k := range lod.Meshes {
			if k >= len(sub.Meshes) {
				a.log.Debug("strip mesh without studio mesh", zap.String("model", sub.Name), zap.Int("mesh", k))
				continue
			}
			mesh, err := a.mesh(sub, &sub.Meshes[k], &lod.Meshes[k])
			if err != nil {
				return nil, fmt.Errorf("LOD %d mesh %d: %w", l, k, err)
			}
			if len(mesh.Indices) == 0 {
				continue
			}
			out.Meshes = append(out.Meshes, *mesh)
		}
		lods[l] = out
	}
	return lods, nil
}

func (a *assembler) mesh(sub *SubModel, mesh *Mesh, sm *StripMesh) (*SkinnedMesh, error) {
	out := &SkinnedMesh{
		SkinRef:  mesh.Material,
		Material: a.model.MaterialForSkin(mesh.Material, 0),
	}
	base := sub.VertexIndex + mesh.VertexOffset
	numBones := len(a.model.Bones)

	for g := range sm.StripGroups {
		group := &sm.StripGroups[g]
		palette := bonePalette(group)
		first := uint32(len(out.Vertices))

		for _, sv := range group.Vertices {
			idx := a.vvd.Fixups.Resolve(0, base+int(sv.OrigMeshVertID))
			if idx < 0 || idx >= len(a.vvd.Vertices) {
				return nil, fmt.Errorf("%w: vertex %d outside vertex file", ErrTruncatedMDLData, base+int(sv.OrigMeshVertID))
			}
			v := a.vvd.Vertices[idx]
			bones, weights, n := resolveWeights(sv, v, &palette, numBones)
			var tangent [4]float32
			if idx < len(a.vvd.Tangents) {
				tangent = a.vvd.Tangents[idx]
			}
			out.Vertices = append(out.Vertices, SkinnedVertex{
				Position: v.Position,
				Normal:   v.Normal,
				UV:       v.UV,
				Tangent:  tangent,
				Bones:    bones,
				Weights:  weights,
				NumBones: n,
			})
		}

		if len(group.Strips) == 0 {
			out.Indices = appendTriList(out.Indices, group.Indices, first)
			continue
		}
		for s := range group.Strips {
			strip := &group.Strips[s]
			if strip.IndexOffset < 0 || strip.NumIndices < 0 || strip.NumIndices > len(group.Indices)-strip.IndexOffset {
				return nil, fmt.Errorf("%w: strip %d indices %d+%d of %d",
					ErrInvalidVTXLayout, s, strip.IndexOffset, strip.NumIndices, len(group.Indices))
			}
			idx := group.Indices[strip.IndexOffset : strip.IndexOffset+strip.NumIndices]
			if strip.IsTriStrip() {
				out.Indices = appendTriStrip(out.Indices, idx, first)
			} else {
				out.Indices = appendTriList(out.Indices, idx, first)
			}
		}
	}
	return out, nil
}

// bonePalette maps hardware bone ids to model bones for one strip group.
// Unset slots are -1.
func bonePalette(group *StripGroup) [MaxBonesPerStrip]int32 {
	var p [MaxBonesPerStrip]int32
	for i := range p {
		p[i] = -1
	}
	for _, s := range group.Strips {
		changes := s.BoneChanges
		if len(changes) > MaxBonesPerStrip {
			changes = changes[:MaxBonesPerStrip]
		}
		for _, c := range changes {
			if c.HardwareID >= 0 && c.HardwareID < MaxBonesPerStrip {
				p[c.HardwareID] = c.NewBoneID
			}
		}
	}
	return p
}

// resolveWeights picks the strip vertex's weight slots from the studio vertex,
// maps hardware ids through the palette and renormalizes the weights.
func resolveWeights(sv StripVertex, v Vertex, palette *[MaxBonesPerStrip]int32, numBones int) ([3]int, [3]float32, int) {
	var bones [3]int
	var weights [3]float32
	n := 0

	if sv.NumBones == 0 {
		for j := 0; j < v.NumBones && j < 3; j++ {
			bones[n] = int(v.Bones[j])
			weights[n] = v.Weights[j]
			n++
		}
	} else {
		for j := 0; j < int(sv.NumBones) && j < 3; j++ {
			slot := sv.BoneWeightIndex[j]
			if slot >= 3 {
				continue
			}
			bone := -1
			if hw := sv.BoneIDs[j]; hw >= 0 && int(hw) < MaxBonesPerStrip {
				bone = int(palette[hw])
			}
			if bone < 0 || bone >= numBones {
				bone = int(v.Bones[slot])
			}
			bones[n] = bone
			weights[n] = v.Weights[slot]
			n++
		}
	}

	var sum float32
	for j := 0; j < n; j++ {
		sum += weights[j]
	}
	if n == 0 || sum <= 0 {
		if n == 0 {
			bones[0] = int(v.Bones[0])
			n = 1
		}
		weights = [3]float32{1, 0, 0}
		return bones, weights, n
	}
	for j := 0; j < n; j++ {
		weights[j] /= sum
	}
	return bones, weights, n
}

func appendTriList(dst []uint32, idx []uint16, base uint32) []uint32 {
	for i := 0; i+2 < len(idx); i += 3 {
		dst = append(dst, base+uint32(idx[i]), base+uint32(idx[i+1]), base+uint32(idx[i+2]))
	}
	return dst
}

// appendTriStrip converts a triangle strip to a list, flipping every odd
// triangle and dropping degenerate ones.
func appendTriStrip(dst []uint32, idx []uint16, base uint32) []uint32 {
	for i := 0; i+2 < len(idx); i++ {
		a, b, c := idx[i], idx[i+1], idx[i+2]
		if a == b || b == c || a == c {
			continue
		}
		if i%2 == 1 {
			a, b = b, a
		}
		dst = append(dst, base+uint32(a), base+uint32(b), base+uint32(c))
	}
	return dst
}
