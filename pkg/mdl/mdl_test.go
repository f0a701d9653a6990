package mdl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

var le = binary.LittleEndian

// buildMDL writes a studio header with two bones, one texture and a single
// four-vertex mesh.
func buildMDL(checksum int32) []byte {
	const (
		boneOff  = studioHeaderSize
		texOff   = boneOff + 2*studioBoneSize
		cdOff    = texOff + studioTextureSize
		skinOff  = cdOff + 4
		bodyOff  = skinOff + 4
		modelOff = bodyOff + studioBodyPartSize
		meshOff  = modelOff + studioModelSize
		strOff   = meshOff + studioMeshSize
	)
	strs := []string{"root", "child", "Brick", "models/test/", "body"}
	offs := make([]int, len(strs))
	cursor := strOff
	for i, s := range strs {
		offs[i] = cursor
		cursor += len(s) + 1
	}

	sh := studioHeader{
		ID:              [4]byte{'I', 'D', 'S', 'T'},
		Version:         48,
		Checksum:        checksum,
		Flags:           int32(FlagStaticProp),
		HullMin:         [3]float32{-1, -1, 0},
		HullMax:         [3]float32{1, 1, 2},
		NumBones:        2,
		BoneIndex:       boneOff,
		NumTextures:     1,
		TextureIndex:    texOff,
		NumCDTextures:   1,
		CDTextureIndex:  cdOff,
		NumSkinRef:      1,
		NumSkinFamilies: 1,
		SkinIndex:       skinOff,
		NumBodyParts:    1,
		BodyPartIndex:   bodyOff,
	}
	copy(sh.Name[:], "test/box.mdl")

	buf := new(bytes.Buffer)
	binary.Write(buf, le, &sh)
	binary.Write(buf, le, []studioBone{
		{NameIndex: int32(offs[0] - boneOff), Parent: -1, Quat: [4]float32{0, 0, 0, 1}},
		{NameIndex: int32(offs[1] - boneOff - studioBoneSize), Parent: 0, Pos: [3]float32{0, 0, 10}, Quat: [4]float32{0, 0, 0, 1}},
	})
	binary.Write(buf, le, studioTexture{NameIndex: int32(offs[2] - texOff)})
	binary.Write(buf, le, int32(offs[3]))
	binary.Write(buf, le, []int16{0, 0})
	binary.Write(buf, le, studioBodyPart{NameIndex: int32(offs[4] - bodyOff), NumModels: 1, Base: 1, ModelIndex: studioBodyPartSize})
	sm := studioModel{NumMeshes: 1, MeshIndex: studioModelSize, NumVertices: 4}
	copy(sm.Name[:], "box")
	binary.Write(buf, le, &sm)
	binary.Write(buf, le, studioMesh{NumVertices: 4})
	for _, s := range strs {
		buf.WriteString(s)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// buildVVD writes six vertices. The fixup table puts vertices 4 and 5 first
// and keeps only them at LOD 1.
func buildVVD(checksum int32, withFixups bool) []byte {
	const vertexOff = 64
	fixups := []Fixup{{LOD: 1, Source: 4, Count: 2}, {LOD: 0, Source: 0, Count: 4}}
	h := vvdHeader{
		ID:       [4]byte{'I', 'D', 'S', 'V'},
		Version:  4,
		Checksum: checksum,
		NumLODs:  2,
	}
	h.NumLODVertices[0] = 6
	h.NumLODVertices[1] = 2
	h.VertexStart = vertexOff
	if withFixups {
		h.NumFixups = int32(len(fixups))
		h.FixupStart = vertexOff
		h.VertexStart = vertexOff + int32(len(fixups))*12
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, le, &h)
	if withFixups {
		binary.Write(buf, le, fixups)
	}
	for i := 0; i < 6; i++ {
		v := vvdVertex{
			Weights:  [3]float32{1, 0, 0},
			NumBones: 1,
			Position: [3]float32{float32(i), 0, 0},
			Normal:   [3]float32{0, 0, 1},
			UV:       [2]float32{float32(i) / 10, 0},
		}
		switch i {
		case 4:
			v.Weights = [3]float32{0.2, 0.2, 0}
			v.Bones = [3]uint8{0, 1, 0}
			v.NumBones = 2
		case 5:
			v.Weights = [3]float32{0, 0, 0}
			v.Bones = [3]uint8{1, 0, 0}
		}
		binary.Write(buf, le, &v)
	}
	return buf.Bytes()
}

// buildVTX writes one body part with two LODs over the same strip group data.
// LOD 0 has one triangle-list strip with bone state changes, LOD 1 has no strips.
func buildVTX(checksum int32) []byte {
	const (
		bodyOff   = 36
		modelOff  = bodyOff + vtxBodyPartSize
		lod0Off   = modelOff + vtxModelSize
		lod1Off   = lod0Off + vtxLODSize
		mesh0Off  = lod1Off + vtxLODSize
		mesh1Off  = mesh0Off + vtxMeshSize
		group0Off = mesh1Off + vtxMeshSize
		group1Off = group0Off + vtxStripGroupSize
		vertsOff  = group1Off + vtxStripGroupSize
		idxOff    = vertsOff + 4*9
		stripOff  = idxOff + 6*2
		changeOff = stripOff + vtxStripSize
	)

	buf := new(bytes.Buffer)
	binary.Write(buf, le, &vtxHeader{Version: 7, Checksum: checksum, NumLODs: 2, NumBodyParts: 1, BodyPartOffset: bodyOff, MaxBonesPerStrip: 53})
	binary.Write(buf, le, vtxCountOffset{Count: 1, Offset: modelOff - bodyOff})
	binary.Write(buf, le, vtxCountOffset{Count: 2, Offset: lod0Off - modelOff})
	binary.Write(buf, le, vtxLOD{NumMeshes: 1, MeshOffset: mesh0Off - lod0Off})
	binary.Write(buf, le, vtxLOD{NumMeshes: 1, MeshOffset: mesh1Off - lod1Off, SwitchPoint: 100})
	binary.Write(buf, le, vtxMesh{NumStripGroups: 1, StripGroupOffset: group0Off - mesh0Off})
	binary.Write(buf, le, vtxMesh{NumStripGroups: 1, StripGroupOffset: group1Off - mesh1Off})
	binary.Write(buf, le, vtxStripGroup{
		NumVerts:    4,
		VertOffset:  vertsOff - group0Off,
		NumIndices:  6,
		IndexOffset: idxOff - group0Off,
		NumStrips:   1,
		StripOffset: stripOff - group0Off,
	})
	binary.Write(buf, le, vtxStripGroup{
		NumVerts:    4,
		VertOffset:  vertsOff - group1Off,
		NumIndices:  6,
		IndexOffset: idxOff - group1Off,
	})
	binary.Write(buf, le, []StripVertex{
		{BoneWeightIndex: [3]uint8{0, 1, 0}, NumBones: 2, OrigMeshVertID: 0, BoneIDs: [3]int8{0, 1, -1}},
		{OrigMeshVertID: 1, BoneIDs: [3]int8{-1, -1, -1}},
		{NumBones: 1, OrigMeshVertID: 2, BoneIDs: [3]int8{0, -1, -1}},
		{NumBones: 1, OrigMeshVertID: 3, BoneIDs: [3]int8{1, -1, -1}},
	})
	binary.Write(buf, le, []uint16{0, 1, 2, 2, 1, 3})
	binary.Write(buf, le, vtxStrip{
		NumIndices:       6,
		NumVerts:         4,
		NumBones:         2,
		Flags:            StripIsTriList,
		NumBoneChanges:   2,
		BoneChangeOffset: changeOff - stripOff,
	})
	binary.Write(buf, le, []BoneStateChange{{HardwareID: 0, NewBoneID: 1}, {HardwareID: 1, NewBoneID: 0}})
	return buf.Bytes()
}

func TestParseMDL_Valid(t *testing.T) {
	h, err := ParseMDL(buildMDL(42))
	if err != nil {
		t.Fatalf("ParseMDL: %v", err)
	}
	if h.Name != "test/box.mdl" || h.Checksum != 42 || !h.IsStaticProp() {
		t.Errorf("header = %q checksum %d flags %#x", h.Name, h.Checksum, h.Flags)
	}
	if len(h.Bones) != 2 || h.Bones[0].Name != "root" || h.Bones[1].Name != "child" {
		t.Fatalf("bones = %+v", h.Bones)
	}
	if h.Bones[0].Parent != -1 || h.Bones[1].Parent != 0 || h.Bones[1].Position.Z != 10 {
		t.Errorf("bone hierarchy = %+v", h.Bones)
	}
	if len(h.Textures) != 1 || h.Textures[0].Name != "Brick" {
		t.Errorf("textures = %+v", h.Textures)
	}
	if len(h.TexturePaths) != 1 || h.TexturePaths[0] != "models/test/" {
		t.Errorf("texture paths = %q", h.TexturePaths)
	}
	if len(h.BodyParts) != 1 || h.BodyParts[0].Name != "body" || len(h.BodyParts[0].Models) != 1 {
		t.Fatalf("body parts = %+v", h.BodyParts)
	}
	if m := h.BodyParts[0].Models[0]; m.Name != "box" || len(m.Meshes) != 1 || m.Meshes[0].NumVertices != 4 {
		t.Errorf("model = %+v", m)
	}
}

func TestParseMDL_Errors(t *testing.T) {
	good := buildMDL(1)
	badMagic := append([]byte(nil), good...)
	copy(badMagic, "IDSQ")
	badVersion := append([]byte(nil), good...)
	le.PutUint32(badVersion[4:], 37)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated", good[:100], ErrTruncatedMDLData},
		{"magic", badMagic, ErrInvalidMDLMagic},
		{"version", badVersion, ErrUnsupportedMDLVersion},
		{"bones cut off", good[:studioHeaderSize+10], ErrTruncatedMDLData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMDL(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseVVD_Fixups(t *testing.T) {
	vf, err := ParseVVD(buildVVD(7, true))
	if err != nil {
		t.Fatalf("ParseVVD: %v", err)
	}
	if len(vf.Vertices) != 6 || len(vf.Fixups) != 2 {
		t.Fatalf("vertices %d fixups %d", len(vf.Vertices), len(vf.Fixups))
	}

	// LOD 0 reproduces every vertex; the coarsest LOD its declared count.
	if got := len(vf.VertexesForLOD(0)); got != len(vf.Vertices) {
		t.Errorf("LOD 0 count = %d, want %d", got, len(vf.Vertices))
	}
	coarsest := vf.NumLODs - 1
	if got := len(vf.VertexesForLOD(coarsest)); got != vf.NumLODVertices[coarsest] {
		t.Errorf("LOD %d count = %d, want %d", coarsest, got, vf.NumLODVertices[coarsest])
	}

	lod0 := vf.VertexesForLOD(0)
	wantOrder := []float32{4, 5, 0, 1, 2, 3}
	for i, want := range wantOrder {
		if lod0[i].Position.X != want {
			t.Errorf("LOD 0 vertex %d = %v, want x=%v", i, lod0[i].Position, want)
		}
	}

	tests := []struct {
		lod, i, want int
	}{
		{0, 0, 4},
		{0, 1, 5},
		{0, 2, 0},
		{0, 5, 3},
		{1, 1, 5},
		{1, 2, -1},
		{0, 6, -1},
	}
	for _, tt := range tests {
		if got := vf.Fixups.Resolve(tt.lod, tt.i); got != tt.want {
			t.Errorf("Resolve(%d, %d) = %d, want %d", tt.lod, tt.i, got, tt.want)
		}
	}
}

func TestParseVVD_NoFixups(t *testing.T) {
	vf, err := ParseVVD(buildVVD(7, false))
	if err != nil {
		t.Fatalf("ParseVVD: %v", err)
	}
	if got := len(vf.VertexesForLOD(1)); got != 6 {
		t.Errorf("VertexesForLOD without fixups = %d, want 6", got)
	}
	if got := vf.Fixups.Resolve(1, 3); got != 3 {
		t.Errorf("Resolve identity = %d, want 3", got)
	}
	if _, err := ParseVVD([]byte("IDSQ")); !errors.Is(err, ErrTruncatedMDLData) {
		t.Errorf("short vvd: err = %v", err)
	}

	huge := buildVVD(7, false)
	le.PutUint32(huge[16:], 0x7fffffff)
	if _, err := ParseVVD(huge); !errors.Is(err, ErrTruncatedMDLData) {
		t.Errorf("huge vertex count: err = %v", err)
	}
}

func TestParseVTX(t *testing.T) {
	sf, err := ParseVTX(buildVTX(7))
	if err != nil {
		t.Fatalf("ParseVTX: %v", err)
	}
	lods := sf.BodyParts[0].Models[0].LODs
	if len(lods) != 2 || lods[1].SwitchPoint != 100 {
		t.Fatalf("LODs = %+v", lods)
	}
	group := lods[0].Meshes[0].StripGroups[0]
	if len(group.Vertices) != 4 || len(group.Indices) != 6 || len(group.Strips) != 1 {
		t.Fatalf("strip group = %+v", group)
	}
	if got := group.Strips[0].BoneChanges; len(got) != 2 || got[0].NewBoneID != 1 {
		t.Errorf("bone changes = %+v", got)
	}

	bad := buildVTX(7)
	le.PutUint32(bad[0:], 6)
	if _, err := ParseVTX(bad); !errors.Is(err, ErrUnsupportedVTXVersion) {
		t.Errorf("version 6: err = %v", err)
	}
}

func TestParseVTX_InvalidCounts(t *testing.T) {
	const (
		group0Off = 94
		stripOff  = 192
	)
	tests := []struct {
		name  string
		at    int
		value uint32
	}{
		{"strip index offset overflow", stripOff + 4, 0x7fffffff},
		{"strip vertex offset overflow", stripOff + 12, 0x7fffffff},
		{"strip negative index count", stripOff, 0xffffffff},
		{"group vertex count", group0Off, 0x7fffffff},
		{"group index count", group0Off + 8, 0x40000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildVTX(7)
			le.PutUint32(data[tt.at:], tt.value)
			if _, err := ParseVTX(data); !errors.Is(err, ErrInvalidVTXLayout) {
				t.Errorf("err = %v, want %v", err, ErrInvalidVTXLayout)
			}
		})
	}
}

func TestParseVTX_ExtendedStripGroups(t *testing.T) {
	const (
		group0 = vtxMeshSize
		group1 = group0 + vtxStripGroupSizeExtended
		data0  = group1 + vtxStripGroupSizeExtended
		idx0   = data0 + 3*9
		data1  = idx0 + 3*2
		idx1   = data1 + 3*9
	)
	buf := new(bytes.Buffer)
	binary.Write(buf, le, vtxMesh{NumStripGroups: 2, StripGroupOffset: group0})
	for _, g := range []struct{ at, verts, idx int32 }{{group0, data0, idx0}, {group1, data1, idx1}} {
		binary.Write(buf, le, vtxStripGroup{NumVerts: 3, VertOffset: g.verts - g.at, NumIndices: 3, IndexOffset: g.idx - g.at})
		buf.Write(make([]byte, 8))
	}
	for i := 0; i < 2; i++ {
		binary.Write(buf, le, []StripVertex{{OrigMeshVertID: 0}, {OrigMeshVertID: 1}, {OrigMeshVertID: 2}})
		binary.Write(buf, le, []uint16{0, 1, 2})
	}

	mesh, err := parseStripMesh(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("parseStripMesh: %v", err)
	}
	if len(mesh.StripGroups) != 2 {
		t.Fatalf("strip groups = %d, want 2", len(mesh.StripGroups))
	}
	for i, g := range mesh.StripGroups {
		if len(g.Vertices) != 3 || len(g.Indices) != 3 || g.Vertices[2].OrigMeshVertID != 2 {
			t.Errorf("group %d = %+v", i, g)
		}
	}
}

func assembleTestModel(t *testing.T) *Model {
	t.Helper()
	hdr, err := ParseMDL(buildMDL(7))
	if err != nil {
		t.Fatalf("ParseMDL: %v", err)
	}
	vvd, err := ParseVVD(buildVVD(7, true))
	if err != nil {
		t.Fatalf("ParseVVD: %v", err)
	}
	vtx, err := ParseVTX(buildVTX(7))
	if err != nil {
		t.Fatalf("ParseVTX: %v", err)
	}
	m, err := Assemble(hdr, vvd, vtx)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return m
}

func TestAssemble(t *testing.T) {
	m := assembleTestModel(t)
	part := m.BodyParts[0].Models[0]
	if len(part.LODs) != 2 {
		t.Fatalf("LODs = %d, want 2", len(part.LODs))
	}
	mesh := part.LODs[0].Meshes[0]
	if len(mesh.Vertices) != 4 || len(mesh.Indices) != 6 {
		t.Fatalf("mesh vertices %d indices %d", len(mesh.Vertices), len(mesh.Indices))
	}

	// Mesh vertex ids resolve through the fixup table.
	for i, want := range []float32{4, 5, 0, 1} {
		if got := mesh.Vertices[i].Position.X; got != want {
			t.Errorf("vertex %d x = %v, want %v", i, got, want)
		}
	}
	wantIdx := []uint32{0, 1, 2, 2, 1, 3}
	for i, want := range wantIdx {
		if mesh.Indices[i] != want {
			t.Errorf("indices = %v, want %v", mesh.Indices, wantIdx)
			break
		}
	}
	if got := len(part.LODs[1].Meshes[0].Indices); got != 6 {
		t.Errorf("LOD 1 indices = %d, want 6", got)
	}
	if m.Materials[0] != "Brick" || mesh.Material != 0 {
		t.Errorf("material = %q (%d)", m.Materials[0], mesh.Material)
	}
	if got := m.MaterialCandidates(0); len(got) != 1 || got[0] != "materials/models/test/brick.vmt" {
		t.Errorf("MaterialCandidates = %q", got)
	}
}

func TestAssemble_BoneWeights(t *testing.T) {
	m := assembleTestModel(t)
	verts := m.BodyParts[0].Models[0].LODs[0].Meshes[0].Vertices

	tests := []struct {
		name    string
		v       SkinnedVertex
		bones   []int
		weights []float32
	}{
		// hardware ids 0 and 1 are swapped by the palette; 0.2 + 0.2 renormalizes to halves
		{"palette and renormalize", verts[0], []int{1, 0}, []float32{0.5, 0.5}},
		// no strip bones: studio bones with all-zero weights bind to the first bone
		{"zero weights", verts[1], []int{1}, []float32{1}},
		{"single bone", verts[2], []int{1}, []float32{1}},
		{"single bone palette", verts[3], []int{0}, []float32{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.NumBones != len(tt.bones) {
				t.Fatalf("NumBones = %d, want %d", tt.v.NumBones, len(tt.bones))
			}
			var sum float32
			for i := range tt.bones {
				if tt.v.Bones[i] != tt.bones[i] || tt.v.Weights[i] != tt.weights[i] {
					t.Errorf("slot %d = bone %d weight %v, want bone %d weight %v",
						i, tt.v.Bones[i], tt.v.Weights[i], tt.bones[i], tt.weights[i])
				}
				sum += tt.v.Weights[i]
			}
			if sum != 1 {
				t.Errorf("weights sum = %v, want 1", sum)
			}
		})
	}
}

func TestAssemble_StripOutOfRange(t *testing.T) {
	hdr, _ := ParseMDL(buildMDL(7))
	vvd, _ := ParseVVD(buildVVD(7, true))
	vtx, err := ParseVTX(buildVTX(7))
	if err != nil {
		t.Fatalf("ParseVTX: %v", err)
	}
	strip := &vtx.BodyParts[0].Models[0].LODs[0].Meshes[0].StripGroups[0].Strips[0]
	strip.IndexOffset = 1<<31 - 1
	strip.NumIndices = 1

	if _, err := Assemble(hdr, vvd, vtx); !errors.Is(err, ErrInvalidVTXLayout) {
		t.Errorf("err = %v, want %v", err, ErrInvalidVTXLayout)
	}
}

func TestAssemble_ChecksumMismatch(t *testing.T) {
	hdr, _ := ParseMDL(buildMDL(7))
	vvd, _ := ParseVVD(buildVVD(8, true))
	vtx, _ := ParseVTX(buildVTX(7))
	if _, err := Assemble(hdr, vvd, vtx); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("vvd mismatch: err = %v, want ErrChecksumMismatch", err)
	}

	vvd, _ = ParseVVD(buildVVD(7, true))
	vtx, _ = ParseVTX(buildVTX(9))
	if _, err := Assemble(hdr, vvd, vtx); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("vtx mismatch: err = %v, want ErrChecksumMismatch", err)
	}
}

func TestAppendTriStrip(t *testing.T) {
	got := appendTriStrip(nil, []uint16{0, 1, 2, 3, 3, 4}, 10)
	// 0,1,2 / 2,1,3 flipped / 2,3,3 and 3,3,4 degenerate
	want := []uint32{10, 11, 12, 12, 11, 13}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("appendTriStrip = %v, want %v", got, want)
	}
}

type memFS map[string][]byte

func (m memFS) Exists(path string) bool {
	_, ok := m[path]
	return ok
}

func (m memFS) Open(path string) ([]byte, error) {
	if b, ok := m[path]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%s: not found", path)
}

func TestLoad(t *testing.T) {
	fs := memFS{
		"models/box.mdl":    buildMDL(7),
		"models/box.vvd":    buildVVD(7, true),
		"models/box.sw.vtx": buildVTX(7),
	}
	m, err := Load(fs, "models/box.mdl")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name != "test/box.mdl" || len(m.Bones) != 2 {
		t.Errorf("model = %q bones %d", m.Name, len(m.Bones))
	}

	delete(fs, "models/box.sw.vtx")
	if _, err := Load(fs, "models/box.mdl"); err == nil {
		t.Error("Load without strip file succeeded")
	}
}
