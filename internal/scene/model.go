package scene

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/pkg/math"
	"github.com/Faultbox/srcforge/pkg/mdl"
)

// FromModel builds a skinned scene from an assembled model: a node per bone,
// one skin, and the first sub-model of every body part at the chosen LOD.
func (b *Builder) FromModel(name string, m *mdl.Model) (*Scene, error) {
	s := New(name)
	root := s.AddRoot(NewNode(name))

	skin := -1
	if len(m.Bones) > 0 {
		skin = b.addSkeleton(s, root, m)
	}

	meshes := b.modelMeshes(s, m, 0, skin >= 0)
	if len(meshes) == 0 {
		return nil, fmt.Errorf("model %s: %w", m.Name, ErrNoGeometry)
	}
	for _, mi := range meshes {
		n := NewNode(s.Meshes[mi].Name)
		n.Mesh = mi
		n.Skin = skin
		s.AddChild(root, n)
	}

	st := s.Stats()
	b.log.Info("built model scene",
		zap.String("model", m.Name),
		zap.Int("bones", len(m.Bones)),
		zap.Int("meshes", st.Meshes),
		zap.Int("triangles", st.Triangles))
	return s, nil
}

// addSkeleton adds the bone hierarchy under root and returns the skin index.
func (b *Builder) addSkeleton(s *Scene, root int, m *mdl.Model) int {
	joints := make([]int, len(m.Bones))
	world := make([]math.Mat4, len(m.Bones))
	inverse := make([][16]float32, len(m.Bones))

	for i, bone := range m.Bones {
		n := NewNode(bone.Name)
		n.Translation = b.axes.Point(bone.Position)
		n.Rotation = b.axes.Rotation(bone.Rotation)

		local := math.FromTRS(bone.Position, bone.Rotation, 1)
		parent := root
		switch {
		case bone.Parent >= 0 && bone.Parent < i:
			parent = joints[bone.Parent]
			world[i] = world[bone.Parent].Mul(local)
		case bone.Parent >= i:
			b.log.Warn("bone parent out of order",
				zap.String("bone", bone.Name),
				zap.Int("index", i),
				zap.Int("parent", bone.Parent))
			world[i] = local
		default:
			world[i] = local
		}
		joints[i] = s.AddChild(parent, n)
		inverse[i] = b.axes.Matrix(world[i].Inverse())
	}

	s.Skins = append(s.Skins, Skin{
		Name:        m.Name,
		Joints:      joints,
		InverseBind: inverse,
		Skeleton:    joints[0],
	})
	return len(s.Skins) - 1
}

// modelMeshes converts the meshes of the default sub-model of every body
// part and returns their scene indices.
func (b *Builder) modelMeshes(s *Scene, m *mdl.Model, family int, skinned bool) []int {
	var out []int
	for _, bp := range m.BodyParts {
		if len(bp.Models) == 0 || len(bp.Models[0].LODs) == 0 {
			continue
		}
		part := &bp.Models[0]
		lod := min(b.lod, len(part.LODs)-1)
		for k := range part.LODs[lod].Meshes {
			sm := &part.LODs[lod].Meshes[k]
			if len(sm.Indices) == 0 {
				continue
			}
			mesh := b.convertMesh(sm, len(m.Bones), skinned)
			mesh.Name = fmt.Sprintf("%s_%s_%d", m.Name, bp.Name, k)
			mesh.Material = -1
			if ref := b.modelMaterial(m, m.MaterialForSkin(sm.SkinRef, family)); ref != "" {
				mesh.Material = b.addMaterial(s, ref)
			}
			out = append(out, s.AddMesh(mesh))
		}
	}
	return out
}

// modelMaterial returns the first candidate material path that exists, or
// the first candidate so the lookup degrades to the error material.
func (b *Builder) modelMaterial(m *mdl.Model, index int) string {
	candidates := m.MaterialCandidates(index)
	for _, c := range candidates {
		if b.fs.Exists(c) {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

// convertMesh converts a studio mesh into scene space. Joint weights are
// renormalized over the bones that exist.
func (b *Builder) convertMesh(sm *mdl.SkinnedMesh, numBones int, skinned bool) Mesh {
	n := len(sm.Vertices)
	mesh := Mesh{
		Positions: make([][3]float32, n),
		Normals:   make([][3]float32, n),
		UVs:       make([][2]float32, n),
		Indices:   append([]uint32(nil), sm.Indices...),
	}
	if skinned {
		mesh.Joints = make([][4]uint16, n)
		mesh.Weights = make([][4]float32, n)
	}

	for i := range sm.Vertices {
		v := &sm.Vertices[i]
		mesh.Positions[i] = b.axes.Point(v.Position)
		mesh.Normals[i] = b.axes.Direction(v.Normal)
		mesh.UVs[i] = v.UV.Array()
		if skinned {
			mesh.Joints[i], mesh.Weights[i] = influences(v, numBones)
		}
	}
	flipWinding(mesh.Indices)
	return mesh
}

func influences(v *mdl.SkinnedVertex, numBones int) ([4]uint16, [4]float32) {
	var joints [4]uint16
	var weights [4]float32
	var sum float32
	for k := 0; k < v.NumBones && k < 3; k++ {
		bone := v.Bones[k]
		if bone < 0 || bone >= numBones || v.Weights[k] <= 0 {
			continue
		}
		joints[k] = uint16(bone)
		weights[k] = v.Weights[k]
		sum += v.Weights[k]
	}
	if sum == 0 {
		return [4]uint16{}, [4]float32{1, 0, 0, 0}
	}
	for k := range weights {
		weights[k] /= sum
	}
	return joints, weights
}
