package mdl

import (
	"errors"
	"fmt"
)

// VTX format errors.
var (
	ErrUnsupportedVTXVersion = errors.New("unsupported VTX version")
	ErrInvalidVTXLayout      = errors.New("invalid VTX strip layout")
)

// Strip flags.
const (
	StripIsTriList  uint8 = 0x01
	StripIsTriStrip uint8 = 0x02
)

// MaxBonesPerStrip bounds a strip group's hardware bone palette.
const MaxBonesPerStrip = 26

type vtxHeader struct {
	Version          int32
	VertCacheSize    int32
	MaxBonesPerStrip uint16
	MaxBonesPerTri   uint16
	MaxBonesPerVert  int32
	Checksum         int32
	NumLODs          int32
	MaterialReplace  int32
	NumBodyParts     int32
	BodyPartOffset   int32
}

type vtxCountOffset struct {
	Count  int32
	Offset int32
}

type vtxLOD struct {
	NumMeshes   int32
	MeshOffset  int32
	SwitchPoint float32
}

type vtxMesh struct {
	NumStripGroups   int32
	StripGroupOffset int32
	Flags            uint8
}

type vtxStripGroup struct {
	NumVerts    int32
	VertOffset  int32
	NumIndices  int32
	IndexOffset int32
	NumStrips   int32
	StripOffset int32
	Flags       uint8
}

type vtxStrip struct {
	NumIndices       int32
	IndexOffset      int32
	NumVerts         int32
	VertOffset       int32
	NumBones         int16
	Flags            uint8
	NumBoneChanges   int32
	BoneChangeOffset int32
}

const (
	vtxBodyPartSize           = 8
	vtxModelSize              = 8
	vtxLODSize                = 12
	vtxMeshSize               = 9
	vtxStripGroupSize         = 25
	vtxStripGroupSizeExtended = 33
	vtxStripSize              = 27
	vtxStripSizeExtended      = 35
	vtxVertexSize             = 9
	vtxIndexSize              = 2
)

// StripVertex is one draw-stream vertex. Weight slots index the VVD vertex's
// weights; BoneIDs are hardware palette ids.
type StripVertex struct {
	BoneWeightIndex [3]uint8
	NumBones        uint8
	OrigMeshVertID  uint16
	BoneIDs         [3]int8
}

// BoneStateChange maps a hardware palette slot to a model bone.
type BoneStateChange struct {
	HardwareID int32
	NewBoneID  int32
}

// Strip is one draw call inside a strip group.
type Strip struct {
	NumIndices  int
	IndexOffset int
	NumVerts    int
	VertOffset  int
	NumBones    int
	Flags       uint8
	BoneChanges []BoneStateChange
}

// IsTriStrip reports whether the strip's indices form a triangle strip.
func (s *Strip) IsTriStrip() bool {
	return s.Flags&StripIsTriList == 0 && s.Flags&StripIsTriStrip != 0
}

// StripGroup is a vertex and index buffer shared by its strips.
type StripGroup struct {
	Flags    uint8
	Vertices []StripVertex
	Indices  []uint16
	Strips   []Strip
}

// StripMesh holds the strip groups of one mesh.
type StripMesh struct {
	Flags       uint8
	StripGroups []StripGroup
}

// StripLOD is one level of detail of a sub-model.
type StripLOD struct {
	SwitchPoint float32
	Meshes      []StripMesh
}

// StripModel holds the LODs of one sub-model.
type StripModel struct {
	LODs []StripLOD
}

// StripBodyPart holds the sub-models of one body part.
type StripBodyPart struct {
	Models []StripModel
}

// StripFile is a parsed .vtx file.
type StripFile struct {
	Version          int32
	Checksum         int32
	NumLODs          int
	MaxBonesPerStrip int
	MaxBonesPerVert  int
	BodyParts        []StripBodyPart
}

// ParseVTX parses a version 7 .vtx strip file.
func ParseVTX(data []byte) (*StripFile, error) {
	var h vtxHeader
	if err := readRecord(data, 0, &h); err != nil {
		return nil, err
	}
	if h.Version != 7 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVTXVersion, h.Version)
	}

	sf := &StripFile{
		Version:          h.Version,
		Checksum:         h.Checksum,
		NumLODs:          int(h.NumLODs),
		MaxBonesPerStrip: int(h.MaxBonesPerStrip),
		MaxBonesPerVert:  int(h.MaxBonesPerVert),
	}

	nb, err := count(h.NumBodyParts, "body part")
	if err != nil {
		return nil, err
	}
	sf.BodyParts = make([]StripBodyPart, nb)
	for i := range sf.BodyParts {
		bpOff := int(h.BodyPartOffset) + i*vtxBodyPartSize
		var bp vtxCountOffset
		if err := readRecord(data, bpOff, &bp); err != nil {
			return nil, fmt.Errorf("body part %d: %w", i, err)
		}
		nm, err := count(bp.Count, "model")
		if err != nil {
			return nil, err
		}
		sf.BodyParts[i].Models = make([]StripModel, nm)
		for j := range sf.BodyParts[i].Models {
			mOff := bpOff + int(bp.Offset) + j*vtxModelSize
			m, err := parseStripModel(data, mOff)
			if err != nil {
				return nil, fmt.Errorf("body part %d model %d: %w", i, j, err)
			}
			sf.BodyParts[i].Models[j] = *m
		}
	}

	return sf, nil
}

func parseStripModel(data []byte, off int) (*StripModel, error) {
	var m vtxCountOffset
	if err := readRecord(data, off, &m); err != nil {
		return nil, err
	}
	nl, err := count(m.Count, "LOD")
	if err != nil {
		return nil, err
	}
	sm := &StripModel{LODs: make([]StripLOD, nl)}
	for l := range sm.LODs {
		lodOff := off + int(m.Offset) + l*vtxLODSize
		var lod vtxLOD
		if err := readRecord(data, lodOff, &lod); err != nil {
			return nil, fmt.Errorf("LOD %d: %w", l, err)
		}
		nmesh, err := count(lod.NumMeshes, "mesh")
		if err != nil {
			return nil, err
		}
		sl := StripLOD{SwitchPoint: lod.SwitchPoint, Meshes: make([]StripMesh, nmesh)}
		for k := range sl.Meshes {
			meshOff := lodOff + int(lod.MeshOffset) + k*vtxMeshSize
			mesh, err := parseStripMesh(data, meshOff)
			if err != nil {
				return nil, fmt.Errorf("LOD %d mesh %d: %w", l, k, err)
			}
			sl.Meshes[k] = *mesh
		}
		sm.LODs[l] = sl
	}
	return sm, nil
}

func parseStripMesh(data []byte, off int) (*StripMesh, error) {
	var m vtxMesh
	if err := readRecord(data, off, &m); err != nil {
		return nil, err
	}
	ng, err := count(m.NumStripGroups, "strip group")
	if err != nil {
		return nil, err
	}
	mesh := &StripMesh{Flags: m.Flags}
	if ng == 0 {
		return mesh, nil
	}

	// Newer compilers append topology fields to strip group and strip headers.
	// The layout is not flagged, so try the standard sizes first.
	base := off + int(m.StripGroupOffset)
	var lastErr error
	for _, sizes := range [][2]int{
		{vtxStripGroupSize, vtxStripSize},
		{vtxStripGroupSizeExtended, vtxStripSizeExtended},
	} {
		groups, err := parseStripGroups(data, base, ng, sizes[0], sizes[1])
		if err == nil {
			mesh.StripGroups = groups
			return mesh, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func parseStripGroups(data []byte, base, n, groupSize, stripSize int) ([]StripGroup, error) {
	groups := make([]StripGroup, n)
	for g := range groups {
		off := base + g*groupSize
		var sg vtxStripGroup
		if err := readRecord(data, off, &sg); err != nil {
			return nil, err
		}
		if sg.NumVerts < 0 || sg.NumIndices < 0 || sg.NumStrips < 0 || sg.NumStrips > maxStudioElements ||
			int(sg.NumVerts) > len(data)/vtxVertexSize || int(sg.NumIndices) > len(data)/vtxIndexSize {
			return nil, fmt.Errorf("%w: strip group %d counts", ErrInvalidVTXLayout, g)
		}

		group := StripGroup{
			Flags:    sg.Flags,
			Vertices: make([]StripVertex, sg.NumVerts),
			Indices:  make([]uint16, sg.NumIndices),
			Strips:   make([]Strip, sg.NumStrips),
		}
		if err := readRecord(data, off+int(sg.VertOffset), group.Vertices); err != nil {
			return nil, fmt.Errorf("%w: strip group %d vertices", ErrInvalidVTXLayout, g)
		}
		if err := readRecord(data, off+int(sg.IndexOffset), group.Indices); err != nil {
			return nil, fmt.Errorf("%w: strip group %d indices", ErrInvalidVTXLayout, g)
		}
		for _, idx := range group.Indices {
			if int(idx) >= len(group.Vertices) {
				return nil, fmt.Errorf("%w: strip group %d index %d out of range", ErrInvalidVTXLayout, g, idx)
			}
		}

		for s := range group.Strips {
			sOff := off + int(sg.StripOffset) + s*stripSize
			strip, err := parseStrip(data, sOff, &sg)
			if err != nil {
				return nil, fmt.Errorf("strip group %d strip %d: %w", g, s, err)
			}
			group.Strips[s] = *strip
		}
		groups[g] = group
	}
	return groups, nil
}

func parseStrip(data []byte, off int, sg *vtxStripGroup) (*Strip, error) {
	var st vtxStrip
	if err := readRecord(data, off, &st); err != nil {
		return nil, err
	}
	if !within(st.IndexOffset, st.NumIndices, sg.NumIndices) || !within(st.VertOffset, st.NumVerts, sg.NumVerts) ||
		st.NumBones < 0 || st.NumBoneChanges < 0 || st.NumBoneChanges > maxStudioElements {
		return nil, ErrInvalidVTXLayout
	}

	strip := &Strip{
		NumIndices:  int(st.NumIndices),
		IndexOffset: int(st.IndexOffset),
		NumVerts:    int(st.NumVerts),
		VertOffset:  int(st.VertOffset),
		NumBones:    int(st.NumBones),
		Flags:       st.Flags,
		BoneChanges: make([]BoneStateChange, st.NumBoneChanges),
	}
	if err := readRecord(data, off+int(st.BoneChangeOffset), strip.BoneChanges); err != nil {
		return nil, fmt.Errorf("%w: bone state changes", ErrInvalidVTXLayout)
	}
	return strip, nil
}

// within reports whether [off, off+n) lies inside [0, total).
func within(off, n, total int32) bool {
	return off >= 0 && n >= 0 && int64(off)+int64(n) <= int64(total)
}
