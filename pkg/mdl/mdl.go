// Package mdl decodes compiled Source studio models (.mdl, .vvd, .vtx) and
// assembles them into skinned triangle meshes.
package mdl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Faultbox/srcforge/pkg/encoding"
	"github.com/Faultbox/srcforge/pkg/math"
)

// MDL format errors.
var (
	ErrInvalidMDLMagic       = errors.New("invalid MDL magic: expected 'IDST'")
	ErrUnsupportedMDLVersion = errors.New("unsupported MDL version")
	ErrTruncatedMDLData      = errors.New("truncated MDL data")
	ErrChecksumMismatch      = errors.New("model checksum mismatch")
)

// Supported studio header versions.
const (
	MinMDLVersion = 44
	MaxMDLVersion = 49
)

// FlagStaticProp marks models compiled with $staticprop.
const FlagStaticProp uint32 = 0x0010

// studioHeader mirrors the first 240 bytes of studiohdr_t.
type studioHeader struct {
	ID                  [4]byte
	Version             int32
	Checksum            int32
	Name                [64]byte
	Length              int32
	EyePosition         [3]float32
	IllumPosition       [3]float32
	HullMin             [3]float32
	HullMax             [3]float32
	ViewBBMin           [3]float32
	ViewBBMax           [3]float32
	Flags               int32
	NumBones            int32
	BoneIndex           int32
	NumBoneControllers  int32
	BoneControllerIndex int32
	NumHitboxSets       int32
	HitboxSetIndex      int32
	NumLocalAnim        int32
	LocalAnimIndex      int32
	NumLocalSeq         int32
	LocalSeqIndex       int32
	ActivityListVersion int32
	EventsIndexed       int32
	NumTextures         int32
	TextureIndex        int32
	NumCDTextures       int32
	CDTextureIndex      int32
	NumSkinRef          int32
	NumSkinFamilies     int32
	SkinIndex           int32
	NumBodyParts        int32
	BodyPartIndex       int32
}

// studioBone is mstudiobone_t (216 bytes).
type studioBone struct {
	NameIndex      int32
	Parent         int32
	BoneController [6]int32
	Pos            [3]float32
	Quat           [4]float32
	Rot            [3]float32
	PosScale       [3]float32
	RotScale       [3]float32
	PoseToBone     [12]float32
	QAlignment     [4]float32
	Flags          int32
	ProcType       int32
	ProcIndex      int32
	PhysicsBone    int32
	SurfaceProp    int32
	Contents       int32
	Unused         [8]int32
}

// studioTexture is mstudiotexture_t (64 bytes).
type studioTexture struct {
	NameIndex      int32
	Flags          int32
	Used           int32
	Unused1        int32
	Material       int32
	ClientMaterial int32
	Unused         [10]int32
}

// studioBodyPart is mstudiobodyparts_t (16 bytes).
type studioBodyPart struct {
	NameIndex  int32
	NumModels  int32
	Base       int32
	ModelIndex int32
}

// studioModel is mstudiomodel_t (148 bytes).
type studioModel struct {
	Name            [64]byte
	Type            int32
	BoundingRadius  float32
	NumMeshes       int32
	MeshIndex       int32
	NumVertices     int32
	VertexIndex     int32
	TangentsIndex   int32
	NumAttachments  int32
	AttachmentIndex int32
	NumEyeballs     int32
	EyeballIndex    int32
	VertexData      [2]int32
	Unused          [8]int32
}

// studioMesh is mstudiomesh_t (116 bytes).
type studioMesh struct {
	Material       int32
	ModelIndex     int32
	NumVertices    int32
	VertexOffset   int32
	NumFlexes      int32
	FlexIndex      int32
	MaterialType   int32
	MaterialParam  int32
	MeshID         int32
	Center         [3]float32
	ModelVertex    int32
	NumLODVertices [8]int32
	Unused         [8]int32
}

const (
	studioHeaderSize   = 240
	studioBoneSize     = 216
	studioTextureSize  = 64
	studioBodyPartSize = 16
	studioModelSize    = 148
	studioMeshSize     = 116
	studioVertexSize   = 48
	maxStudioElements  = 1 << 16
)

// Bone is one entry of the skeleton in bind pose.
type Bone struct {
	Name        string
	Parent      int // -1 for root bones
	Position    math.Vec3
	Rotation    math.Quat
	Euler       math.Vec3 // radians, x = roll, y = pitch, z = yaw
	Flags       uint32
	SurfaceProp string
}

// Texture is a material reference from the texture table.
type Texture struct {
	Name  string
	Flags uint32
}

// Mesh is one material run inside a sub-model.
type Mesh struct {
	Material     int
	NumVertices  int
	VertexOffset int // relative to the owning sub-model
	Center       math.Vec3
}

// SubModel is one selectable model of a body part.
type SubModel struct {
	Name           string
	BoundingRadius float32
	NumVertices    int
	VertexIndex    int // first vertex in the LOD 0 vertex set
	Meshes         []Mesh
}

// BodyPart groups mutually exclusive sub-models.
type BodyPart struct {
	Name   string
	Base   int
	Models []SubModel
}

// Header is a parsed .mdl studio header with its skeleton, materials and body parts.
type Header struct {
	Version      int32
	Checksum     int32
	Name         string
	Flags        uint32
	Eye          math.Vec3
	HullMin      math.Vec3
	HullMax      math.Vec3
	ViewMin      math.Vec3
	ViewMax      math.Vec3
	Bones        []Bone
	Textures     []Texture
	TexturePaths []string
	Skins        [][]int16 // [family][skinref] -> texture index
	BodyParts    []BodyPart
}

// IsStaticProp reports whether the model was compiled as a static prop.
func (h *Header) IsStaticProp() bool {
	return h.Flags&FlagStaticProp != 0
}

// section returns data[off:off+size] or a truncation error.
func section(data []byte, off, size int) ([]byte, error) {
	if off < 0 || size < 0 || off+size > len(data) || off+size < off {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedMDLData, size, off, len(data))
	}
	return data[off : off+size], nil
}

// readRecord decodes one fixed-size little-endian record at off.
func readRecord(data []byte, off int, v any) error {
	b, err := section(data, off, binary.Size(v))
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

// cstring reads a NUL-terminated string at off. Out of range offsets read as "".
func cstring(data []byte, off int) string {
	if off <= 0 || off >= len(data) {
		return ""
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		end = len(data) - off
	}
	return encoding.LegacyToUTF8(data[off : off+end])
}

func count(n int32, what string) (int, error) {
	if n < 0 || n > maxStudioElements {
		return 0, fmt.Errorf("%w: %s count %d", ErrTruncatedMDLData, what, n)
	}
	return int(n), nil
}

// ParseMDL parses the studio header of a .mdl file.
func ParseMDL(data []byte) (*Header, error) {
	if len(data) < studioHeaderSize {
		return nil, ErrTruncatedMDLData
	}

	var sh studioHeader
	if err := readRecord(data, 0, &sh); err != nil {
		return nil, err
	}
	if string(sh.ID[:]) != "IDST" {
		return nil, ErrInvalidMDLMagic
	}
	if sh.Version < MinMDLVersion || sh.Version > MaxMDLVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMDLVersion, sh.Version)
	}

	h := &Header{
		Version:  sh.Version,
		Checksum: sh.Checksum,
		Name:     encoding.FixedStringToUTF8(sh.Name[:]),
		Flags:    uint32(sh.Flags),
		Eye:      math.V3(sh.EyePosition),
		HullMin:  math.V3(sh.HullMin),
		HullMax:  math.V3(sh.HullMax),
		ViewMin:  math.V3(sh.ViewBBMin),
		ViewMax:  math.V3(sh.ViewBBMax),
	}

	if err := h.parseBones(data, &sh); err != nil {
		return nil, fmt.Errorf("parsing bones: %w", err)
	}
	if err := h.parseTextures(data, &sh); err != nil {
		return nil, fmt.Errorf("parsing textures: %w", err)
	}
	if err := h.parseSkins(data, &sh); err != nil {
		return nil, fmt.Errorf("parsing skins: %w", err)
	}
	if err := h.parseBodyParts(data, &sh); err != nil {
		return nil, fmt.Errorf("parsing body parts: %w", err)
	}

	return h, nil
}

func (h *Header) parseBones(data []byte, sh *studioHeader) error {
	n, err := count(sh.NumBones, "bone")
	if err != nil {
		return err
	}
	h.Bones = make([]Bone, n)
	for i := range h.Bones {
		off := int(sh.BoneIndex) + i*studioBoneSize
		var sb studioBone
		if err := readRecord(data, off, &sb); err != nil {
			return fmt.Errorf("bone %d: %w", i, err)
		}
		parent := int(sb.Parent)
		if parent < -1 || parent >= i {
			parent = -1
		}
		h.Bones[i] = Bone{
			Name:     cstring(data, off+int(sb.NameIndex)),
			Parent:   parent,
			Position: math.V3(sb.Pos),
			Rotation: math.Quat{X: sb.Quat[0], Y: sb.Quat[1], Z: sb.Quat[2], W: sb.Quat[3]},
			Euler:    math.V3(sb.Rot),
			Flags:    uint32(sb.Flags),
		}
		if sb.SurfaceProp != 0 {
			h.Bones[i].SurfaceProp = cstring(data, off+int(sb.SurfaceProp))
		}
	}
	return nil
}

func (h *Header) parseTextures(data []byte, sh *studioHeader) error {
	n, err := count(sh.NumTextures, "texture")
	if err != nil {
		return err
	}
	h.Textures = make([]Texture, n)
	for i := range h.Textures {
		off := int(sh.TextureIndex) + i*studioTextureSize
		var st studioTexture
		if err := readRecord(data, off, &st); err != nil {
			return fmt.Errorf("texture %d: %w", i, err)
		}
		h.Textures[i] = Texture{
			Name:  cstring(data, off+int(st.NameIndex)),
			Flags: uint32(st.Flags),
		}
	}

	n, err = count(sh.NumCDTextures, "texture path")
	if err != nil {
		return err
	}
	h.TexturePaths = make([]string, n)
	for i := range h.TexturePaths {
		var off int32
		if err := readRecord(data, int(sh.CDTextureIndex)+i*4, &off); err != nil {
			return fmt.Errorf("texture path %d: %w", i, err)
		}
		h.TexturePaths[i] = cstring(data, int(off))
	}
	return nil
}

func (h *Header) parseSkins(data []byte, sh *studioHeader) error {
	families, err := count(sh.NumSkinFamilies, "skin family")
	if err != nil {
		return err
	}
	refs, err := count(sh.NumSkinRef, "skin reference")
	if err != nil {
		return err
	}
	h.Skins = make([][]int16, families)
	for f := range h.Skins {
		h.Skins[f] = make([]int16, refs)
		off := int(sh.SkinIndex) + f*refs*2
		if err := readRecord(data, off, h.Skins[f]); err != nil {
			return fmt.Errorf("skin family %d: %w", f, err)
		}
	}
	return nil
}

func (h *Header) parseBodyParts(data []byte, sh *studioHeader) error {
	n, err := count(sh.NumBodyParts, "body part")
	if err != nil {
		return err
	}
	h.BodyParts = make([]BodyPart, n)
	for i := range h.BodyParts {
		bpOff := int(sh.BodyPartIndex) + i*studioBodyPartSize
		var sbp studioBodyPart
		if err := readRecord(data, bpOff, &sbp); err != nil {
			return fmt.Errorf("body part %d: %w", i, err)
		}
		nm, err := count(sbp.NumModels, "model")
		if err != nil {
			return err
		}
		bp := BodyPart{
			Name:   cstring(data, bpOff+int(sbp.NameIndex)),
			Base:   int(sbp.Base),
			Models: make([]SubModel, nm),
		}
		for j := range bp.Models {
			mOff := bpOff + int(sbp.ModelIndex) + j*studioModelSize
			m, err := parseSubModel(data, mOff)
			if err != nil {
				return fmt.Errorf("body part %d model %d: %w", i, j, err)
			}
			bp.Models[j] = *m
		}
		h.BodyParts[i] = bp
	}
	return nil
}

func parseSubModel(data []byte, off int) (*SubModel, error) {
	var sm studioModel
	if err := readRecord(data, off, &sm); err != nil {
		return nil, err
	}
	nm, err := count(sm.NumMeshes, "mesh")
	if err != nil {
		return nil, err
	}
	m := &SubModel{
		Name:           encoding.FixedStringToUTF8(sm.Name[:]),
		BoundingRadius: sm.BoundingRadius,
		NumVertices:    int(sm.NumVertices),
		VertexIndex:    int(sm.VertexIndex) / studioVertexSize,
		Meshes:         make([]Mesh, nm),
	}
	for k := range m.Meshes {
		var smesh studioMesh
		if err := readRecord(data, off+int(sm.MeshIndex)+k*studioMeshSize, &smesh); err != nil {
			return nil, fmt.Errorf("mesh %d: %w", k, err)
		}
		m.Meshes[k] = Mesh{
			Material:     int(smesh.Material),
			NumVertices:  int(smesh.NumVertices),
			VertexOffset: int(smesh.VertexOffset),
			Center:       math.V3(smesh.Center),
		}
	}
	return m, nil
}
