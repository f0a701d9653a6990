package bsp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/chewxy/math32"

	"github.com/Faultbox/srcforge/pkg/math"
)

var le = binary.LittleEndian

func records(v any) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, le, v)
	return buf.Bytes()
}

type bspBuilder struct {
	lumps map[LumpType][]byte
}

func newBSPBuilder() *bspBuilder {
	return &bspBuilder{lumps: make(map[LumpType][]byte)}
}

func (b *bspBuilder) set(t LumpType, v any) *bspBuilder {
	if raw, ok := v.([]byte); ok {
		b.lumps[t] = raw
	} else {
		b.lumps[t] = records(v)
	}
	return b
}

func (b *bspBuilder) build(version int32) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString("VBSP")
	binary.Write(buf, le, version)
	cursor := int32(headerSize)
	var body bytes.Buffer
	for i := 0; i < NumLumps; i++ {
		data := b.lumps[LumpType(i)]
		var off int32
		if len(data) > 0 {
			off = cursor
		}
		binary.Write(buf, le, []int32{off, int32(len(data)), 0, 0})
		body.Write(data)
		cursor += int32(len(data))
	}
	binary.Write(buf, le, int32(7))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// quadLevel builds a level with one 64x64 floor quad per entry of xs. Face i
// belongs to model i.
func quadLevel(flags int32, entities string, xs ...float32) *bspBuilder {
	return sizedQuadLevel(flags, entities, 64, xs...)
}

func sizedQuadLevel(flags int32, entities string, size float32, xs ...float32) *bspBuilder {
	var (
		verts [][3]float32
		edges = []dedge{{}}
		surfEdges []int32
		faces     []dface
		models    []dmodel
	)
	for i, x := range xs {
		base := uint16(len(verts))
		verts = append(verts,
			[3]float32{x, 0, 0},
			[3]float32{x, size, 0},
			[3]float32{x + size, size, 0},
			[3]float32{x + size, 0, 0},
		)
		e := int32(len(edges))
		edges = append(edges,
			dedge{V: [2]uint16{base, base + 1}},
			dedge{V: [2]uint16{base + 1, base + 2}},
			dedge{V: [2]uint16{base + 2, base + 3}},
			dedge{V: [2]uint16{base, base + 3}},
		)
		surfEdges = append(surfEdges, e, e+1, e+2, -(e + 3))
		faces = append(faces, dface{
			FirstEdge: int32(i * 4),
			NumEdges:  4,
			DispInfo:  -1,
		})
		models = append(models, dmodel{FirstFace: int32(i), NumFaces: 1})
	}

	return newBSPBuilder().
		set(LumpEntities, []byte(entities+"\x00")).
		set(LumpPlanes, []dplane{{Normal: [3]float32{0, 0, 1}, Type: 2}}).
		set(LumpTexData, []dtexdata{{Width: 64, Height: 64}}).
		set(LumpVertexes, verts).
		set(LumpTexInfo, []dtexinfo{{
			TextureVecs: [2][4]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
			Flags:       flags,
		}}).
		set(LumpFaces, faces).
		set(LumpEdges, edges).
		set(LumpSurfEdges, surfEdges).
		set(LumpModels, models).
		set(LumpTexDataStringData, []byte("BRICK/BRICKWALL001\x00")).
		set(LumpTexDataStringTable, []int32{0})
}

const worldspawn = `{
"classname" "worldspawn"
}`

func TestDecode_OneQuad(t *testing.T) {
	lv, err := Decode(quadLevel(0, worldspawn, 0).build(20))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(lv.Faces) != 1 {
		t.Fatalf("faces = %d, want 1", len(lv.Faces))
	}
	if len(lv.Clusters) != 1 || len(lv.Clusters[0].Faces) != 1 {
		t.Fatalf("clusters = %+v, want one cluster with one face", lv.Clusters)
	}
	f := lv.Faces[0]
	if f.NumEdges != 4 {
		t.Errorf("NumEdges = %d, want 4", f.NumEdges)
	}
	if f.Material != "BRICK/BRICKWALL001" {
		t.Errorf("Material = %q", f.Material)
	}
	if f.Center != (math.Vec3{X: 32, Y: 32}) {
		t.Errorf("Center = %v, want (32,32,0)", f.Center)
	}
	if f.Area != 64*64 {
		t.Errorf("Area = %v, want %v", f.Area, 64*64)
	}
	if f.Disp != -1 || f.Entity != 0 {
		t.Errorf("Disp = %d, Entity = %d", f.Disp, f.Entity)
	}

	pos, nrm, uv := lv.FaceVertices(&f)
	wantPos := []math.Vec3{{}, {Y: 64}, {X: 64, Y: 64}, {X: 64}}
	wantUV := []math.Vec2{{}, {Y: 1}, {X: 1, Y: 1}, {X: 1}}
	for i := range wantPos {
		if pos[i] != wantPos[i] {
			t.Errorf("pos[%d] = %v, want %v", i, pos[i], wantPos[i])
		}
		if uv[i] != wantUV[i] {
			t.Errorf("uv[%d] = %v, want %v", i, uv[i], wantUV[i])
		}
		if nrm[i] != (math.Vec3{Z: 1}) {
			t.Errorf("normal[%d] = %v, want plane normal", i, nrm[i])
		}
	}
	if len(lv.Entities) != 1 || lv.Entities[0].ClassName() != "worldspawn" {
		t.Errorf("entities = %+v", lv.Entities)
	}
	if got := lv.Materials(); len(got) != 1 || got[0] != "BRICK/BRICKWALL001" {
		t.Errorf("Materials() = %v", got)
	}
}

func TestDecode_VertexNormals(t *testing.T) {
	b := quadLevel(0, worldspawn, 0)
	b.set(LumpVertNormals, [][3]float32{{0, 0, 1}, {0, 1, 0}})
	b.set(LumpVertNormalIndices, []uint16{1, 1, 0, 7})

	lv, err := Decode(b.build(20))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []math.Vec3{{Y: 1}, {Y: 1}, {Z: 1}, {Z: 1}}
	for i, n := range lv.Normals {
		if n != want[i] {
			t.Errorf("normal[%d] = %v, want %v", i, n, want[i])
		}
	}
}

func TestDecode_ToolFaces(t *testing.T) {
	data := quadLevel(int32(SurfNoDraw), worldspawn, 0).build(19)

	lv, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lv.Faces) != 0 || len(lv.Clusters) != 0 {
		t.Errorf("tool face kept: %d faces, %d clusters", len(lv.Faces), len(lv.Clusters))
	}

	lv, err = Decode(data, WithToolFaces(true))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lv.Faces) != 1 {
		t.Errorf("faces = %d, want 1 with tool faces kept", len(lv.Faces))
	}
}

// displaced turns every face of b into a flat power-2 displacement.
func displaced(b *bspBuilder, n int) {
	faces := make([]dface, n)
	infos := make([]ddispinfo, n)
	for i := range faces {
		faces[i] = dface{FirstEdge: int32(i * 4), NumEdges: 4, DispInfo: int16(i)}
		infos[i] = ddispinfo{DispVertStart: int32(i * 25), Power: 2, MapFace: uint16(i)}
	}
	b.set(LumpFaces, faces)
	b.set(LumpDispInfo, infos)
	b.set(LumpDispVerts, make([]ddispvert, n*25))
}

func TestDecode_Clustering(t *testing.T) {
	tests := []struct {
		name         string
		entities     string
		size         float32
		xs           []float32
		disp         bool
		wantClusters int
	}{
		{"neighbours merge", worldspawn, 64, []float32{0, 128}, false, 1},
		{"distant faces split", worldspawn, 64, []float32{0, 2048}, false, 2},
		{"entities never merge", worldspawn + `
{
"classname" "func_brush"
"model" "*1"
"origin" "10 0 0"
}`, 64, []float32{0, 128}, false, 2},
		// adjacent, same material and entity
		{"displacements stay single", worldspawn, 64, []float32{0, 64}, true, 2},
		// centers 3072 apart: beyond the minimum radius, within sqrt(area)*5
		{"large faces use area radius", worldspawn, 1024, []float32{0, 3072}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := sizedQuadLevel(0, tt.entities, tt.size, tt.xs...)
			if tt.disp {
				displaced(b, len(tt.xs))
			}
			lv, err := Decode(b.build(21))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(lv.Clusters) != tt.wantClusters {
				t.Fatalf("clusters = %d, want %d", len(lv.Clusters), tt.wantClusters)
			}
			seen := 0
			for _, c := range lv.Clusters {
				seen += len(c.Faces)
				for _, fi := range c.Faces {
					if lv.Faces[fi].Entity != c.Entity {
						t.Errorf("face %d entity %d in cluster of entity %d", fi, lv.Faces[fi].Entity, c.Entity)
					}
					if tt.disp && len(c.Faces) != 1 {
						t.Errorf("displacement face %d shares a cluster of %d", fi, len(c.Faces))
					}
				}
			}
			if seen != len(lv.Faces) {
				t.Errorf("clusters cover %d faces, want %d", seen, len(lv.Faces))
			}
			if tt.disp && len(lv.Displacements) != len(tt.xs) {
				t.Errorf("displacements = %d, want %d", len(lv.Displacements), len(tt.xs))
			}
		})
	}
}

func TestDecode_BrushEntityOrigin(t *testing.T) {
	ents := worldspawn + `
{
"classname" "func_door"
"model" "*1"
"origin" "10 0 0"
"angles" "0 90 0"
}`
	lv, err := Decode(quadLevel(0, ents, 0, 128).build(20))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if lv.Faces[1].Entity != 1 || lv.Faces[1].Model != 1 {
		t.Fatalf("face 1 entity = %d model = %d", lv.Faces[1].Entity, lv.Faces[1].Model)
	}
	var found bool
	for _, c := range lv.Clusters {
		if c.Entity != 1 {
			continue
		}
		found = true
		if c.Origin != (math.Vec3{X: 10}) || c.Angles != (math.Vec3{Y: 90}) {
			t.Errorf("cluster transform = %v %v", c.Origin, c.Angles)
		}
	}
	if !found {
		t.Error("no cluster for the brush entity")
	}
}

func TestDecode_Errors(t *testing.T) {
	valid := quadLevel(0, worldspawn, 0).build(20)

	badMagic := append([]byte(nil), valid...)
	copy(badMagic, "IBSP")

	badVersion := append([]byte(nil), valid...)
	le.PutUint32(badVersion[4:], 30)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", badMagic, ErrInvalidBSPMagic},
		{"unsupported version", badVersion, ErrUnsupportedBSPVersion},
		{"truncated header", valid[:100], ErrTruncatedBSPData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecode_MissingLumps(t *testing.T) {
	data := newBSPBuilder().set(LumpEntities, []byte(worldspawn)).build(20)
	lv, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lv.Faces) != 0 || len(lv.Planes) != 0 || len(lv.Clusters) != 0 {
		t.Errorf("expected empty level, got %d faces", len(lv.Faces))
	}
	if len(lv.Entities) != 1 {
		t.Errorf("entities = %d, want 1", len(lv.Entities))
	}
}

func TestDecode_MalformedLump(t *testing.T) {
	b := quadLevel(0, worldspawn, 0)
	b.set(LumpSurfEdges, []byte{1, 2, 3})
	lv, err := Decode(b.build(20))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lv.Faces) != 0 {
		t.Errorf("faces = %d, want 0 with a broken surfedge lump", len(lv.Faces))
	}
}

func TestDecode_TruncatedEntityLump(t *testing.T) {
	lv, err := Decode(quadLevel(0, worldspawn+"\n[", 0).build(20))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lv.Faces) != 1 {
		t.Errorf("faces = %d, want 1", len(lv.Faces))
	}
	if len(lv.Entities) > 1 {
		t.Errorf("entities = %d", len(lv.Entities))
	}
}

func TestFaceVertex(t *testing.T) {
	l := &lumps{
		vertexes: make([][3]float32, 3),
		edges:    []dedge{{}, {V: [2]uint16{1, 2}}},
	}
	tests := []struct {
		name   string
		edge   int32
		want   int
		wantOK bool
	}{
		{"forward", 1, 1, true},
		{"backward", -1, 2, true},
		{"edge out of range", 2, 0, false},
		{"negative out of range", -2, 0, false},
		{"min int32", -1 << 31, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l.surfEdges = []int32{tt.edge}
			got, ok := l.faceVertex(0, 0)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("faceVertex = %d, %v, want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
	if _, ok := l.faceVertex(0, 5); ok {
		t.Error("surfedge index out of range accepted")
	}
}

func TestWithOctree(t *testing.T) {
	tests := []struct {
		name       string
		regionSize float32
		maxDepth   int
		wantSize   float32
		wantDepth  int
	}{
		{"custom", 1024, 6, 1024, 6},
		{"flat index", 256, 0, 256, 0},
		{"defaults kept", 0, -1, 512, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			WithOctree(tt.regionSize, tt.maxDepth)(&o)
			if o.RegionSize != tt.wantSize || o.MaxDepth != tt.wantDepth {
				t.Errorf("options = %v/%d, want %v/%d", o.RegionSize, o.MaxDepth, tt.wantSize, tt.wantDepth)
			}
		})
	}

	lv, err := Decode(quadLevel(0, worldspawn, 0, 128).build(20), WithOctree(512, 0))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lv.Clusters) != 1 {
		t.Errorf("clusters = %d with a flat index, want 1", len(lv.Clusters))
	}
}

func TestLumpData_Compressed(t *testing.T) {
	data := quadLevel(0, worldspawn, 0).build(20)
	hdr, err := ParseHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	hdr.Lumps[LumpPlanes].FourCC = [4]byte{0x10, 0, 0, 0}
	if _, err := hdr.LumpData(data, LumpPlanes); !errors.Is(err, ErrCompressedLump) {
		t.Errorf("err = %v, want ErrCompressedLump", err)
	}
	if _, err := hdr.LumpData(data, LumpBrushes); !errors.Is(err, ErrMissingLump) {
		t.Errorf("err = %v, want ErrMissingLump", err)
	}
}

func TestTessellate_FlatGrid(t *testing.T) {
	// clockwise from +Z, starting one corner past the origin
	corners := []math.Vec3{{Y: 1}, {X: 1, Y: 1}, {X: 1}, {}}
	uvs := []math.Vec2{{Y: 1}, {X: 1, Y: 1}, {X: 1}, {}}
	verts := make([]DispVert, 25)
	info := DispInfo{Power: 2}

	d, err := Tessellate(corners, uvs, math.Vec3{Z: 1}, info, verts)
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	if d.Size != 5 || len(d.Positions) != 25 {
		t.Fatalf("size = %d, positions = %d", d.Size, len(d.Positions))
	}
	// Rotation puts the origin first, so rows run along Y and columns along X.
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			want := math.Vec3{X: float32(j) / 4, Y: float32(i) / 4}
			if got := d.Positions[i*5+j]; got != want {
				t.Errorf("grid(%d,%d) = %v, want %v", i, j, got, want)
			}
			if got := d.UVs[i*5+j]; got != (math.Vec2{X: want.X, Y: want.Y}) {
				t.Errorf("uv(%d,%d) = %v", i, j, got)
			}
			if got := d.Normals[i*5+j]; got != (math.Vec3{Z: 1}) {
				t.Errorf("normal(%d,%d) = %v", i, j, got)
			}
		}
	}
	if len(d.Indices) != 4*4*6 {
		t.Errorf("indices = %d, want %d", len(d.Indices), 4*4*6)
	}
	for k := 0; k < len(d.Indices); k += 3 {
		a, b, c := d.Positions[d.Indices[k]], d.Positions[d.Indices[k+1]], d.Positions[d.Indices[k+2]]
		// clockwise when viewed from the face normal
		if n := b.Sub(a).Cross(c.Sub(a)); n.Z >= 0 {
			t.Fatalf("triangle %d is not clockwise: %v", k/3, n)
		}
	}
}

func TestTessellate_Offsets(t *testing.T) {
	corners := []math.Vec3{{}, {X: 64}, {X: 64, Y: 64}, {Y: 64}}
	uvs := make([]math.Vec2, 4)
	verts := make([]DispVert, 25)
	verts[12] = DispVert{Vec: math.Vec3{Z: 1}, Dist: 16, Alpha: 200}

	d, err := Tessellate(corners, uvs, math.Vec3{Z: 1}, DispInfo{Power: 2}, verts)
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	if got := d.Positions[12]; got != (math.Vec3{X: 32, Y: 32, Z: 16}) {
		t.Errorf("center = %v", got)
	}
	if d.Alphas[12] != 200 {
		t.Errorf("alpha = %v", d.Alphas[12])
	}
	for k, n := range d.Normals {
		if n.Z <= 0 {
			t.Errorf("normal %d = %v points away from the face", k, n)
		}
	}
}

func TestTessellate_Errors(t *testing.T) {
	quad := []math.Vec3{{}, {X: 1}, {X: 1, Y: 1}, {Y: 1}}
	uvs := make([]math.Vec2, 4)
	tests := []struct {
		name    string
		corners []math.Vec3
		info    DispInfo
		verts   int
		want    error
	}{
		{"triangle", quad[:3], DispInfo{Power: 2}, 25, ErrDispNotQuad},
		{"power", quad, DispInfo{Power: 5}, 25, ErrDispPower},
		{"short verts", quad, DispInfo{Power: 2, DispVertStart: 1}, 25, ErrDispVertices},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tessellate(tt.corners, uvs[:len(tt.corners)], math.Vec3{Z: 1}, tt.info, make([]DispVert, tt.verts))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecode_Displacement(t *testing.T) {
	b := quadLevel(0, worldspawn, 0)
	faces := []dface{{NumEdges: 4, DispInfo: 0}}
	b.set(LumpFaces, faces)
	b.set(LumpDispInfo, []ddispinfo{{Power: 2}})
	b.set(LumpDispVerts, make([]ddispvert, 25))

	lv, err := Decode(b.build(20))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lv.Displacements) != 1 || lv.Faces[0].Disp != 0 {
		t.Fatalf("displacements = %d, face disp = %d", len(lv.Displacements), lv.Faces[0].Disp)
	}
	d := lv.Displacements[0]
	if d.Positions[0] != (math.Vec3{}) || d.Positions[24] != (math.Vec3{X: 64, Y: 64}) {
		t.Errorf("corners = %v %v", d.Positions[0], d.Positions[24])
	}
	if d.Face != 0 {
		t.Errorf("Face = %d", d.Face)
	}
}

func cubeSides(half float32) []BrushSide {
	axes := []math.Vec3{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1}}
	sides := make([]BrushSide, len(axes))
	for i, n := range axes {
		sides[i] = BrushSide{Plane: Plane{Normal: n, Dist: half}, TexInfo: i}
	}
	return sides
}

func TestResolveBrush_Cube(t *testing.T) {
	sides := cubeSides(32)
	// duplicate and bevel sides are ignored
	sides = append(sides,
		BrushSide{Plane: Plane{Normal: math.Vec3{X: 1}, Dist: 32.005}},
		BrushSide{Plane: Plane{Normal: math.Vec3{X: 0.6, Y: 0.8}, Dist: 10}, Bevel: true},
	)

	faces := ResolveBrush(sides)
	if len(faces) != 6 {
		t.Fatalf("faces = %d, want 6", len(faces))
	}
	for _, f := range faces {
		if len(f.Winding) != 4 {
			t.Errorf("side %d: %d points, want 4", f.TexInfo, len(f.Winding))
		}
		for _, p := range f.Winding {
			for axis := 0; axis < 3; axis++ {
				if v := math32.Abs(p.Idx(axis)); v != 32 {
					t.Errorf("side %d: point %v off the cube", f.TexInfo, p)
				}
			}
		}
		if !f.Winding.IsConvex(f.Plane.Normal, 1e-3) {
			t.Errorf("side %d not convex", f.TexInfo)
		}
		if f.Winding.Normal().Dot(f.Plane.Normal) >= 0 {
			t.Errorf("side %d winding is not clockwise", f.TexInfo)
		}
	}
}

func TestResolveBrush_ConvexAndIdempotent(t *testing.T) {
	n := math.Vec3{X: 1, Y: 1, Z: 1}.Normalize()
	sides := append(cubeSides(32), BrushSide{Plane: Plane{Normal: n, Dist: 40}, TexInfo: 6})

	faces := ResolveBrush(sides)
	if len(faces) != 7 {
		t.Fatalf("faces = %d, want 7", len(faces))
	}
	for _, f := range faces {
		if !f.Winding.IsConvex(f.Plane.Normal, 1e-2) {
			t.Errorf("side %d not convex: %v", f.TexInfo, f.Winding)
		}
		again := ClipToPlanes(f.Winding, f.Plane, sides)
		if len(again) != len(f.Winding) {
			t.Fatalf("side %d: re-clip changed %d points to %d", f.TexInfo, len(f.Winding), len(again))
		}
		for i := range again {
			if again[i].Distance(f.Winding[i]) > SnapEpsilon {
				t.Errorf("side %d point %d moved: %v -> %v", f.TexInfo, i, f.Winding[i], again[i])
			}
		}
	}
}

func TestResolveBrush_Degenerate(t *testing.T) {
	sides := []BrushSide{
		{Plane: Plane{Normal: math.Vec3{Z: 1}, Dist: 0}},
		{Plane: Plane{Normal: math.Vec3{Z: -1}, Dist: -10}},
	}
	if faces := ResolveBrush(sides); len(faces) != 0 {
		t.Errorf("faces = %d, want 0 for an empty solid", len(faces))
	}
}

func TestDecode_Brushes(t *testing.T) {
	b := quadLevel(0, worldspawn, 0)
	planes := []dplane{{Normal: [3]float32{0, 0, 1}}}
	var bsides []dbrushside
	for _, s := range cubeSides(16) {
		bsides = append(bsides, dbrushside{PlaneNum: uint16(len(planes))})
		planes = append(planes, dplane{Normal: s.Plane.Normal.Array(), Dist: s.Plane.Dist})
	}
	b.set(LumpPlanes, planes)
	b.set(LumpBrushSides, bsides)
	b.set(LumpBrushes, []dbrush{{FirstSide: 0, NumSides: 6, Contents: 1}})

	lv, err := Decode(b.build(21), WithBrushes(true))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lv.Brushes) != 1 || len(lv.Brushes[0].Faces) != 6 {
		t.Fatalf("brushes = %+v", lv.Brushes)
	}
	if m := lv.Brushes[0].Faces[0].Material; m != "BRICK/BRICKWALL001" {
		t.Errorf("material = %q", m)
	}
}

func buildStaticProps(version uint16, stride int, names []string, props []StaticProp) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, le, int32(len(names)))
	for _, n := range names {
		var b [staticPropNameSize]byte
		copy(b[:], n)
		buf.Write(b[:])
	}
	binary.Write(buf, le, int32(2))
	binary.Write(buf, le, []uint16{3, 4})
	binary.Write(buf, le, int32(len(props)))
	for _, p := range props {
		rec := make([]byte, stride)
		for i, v := range []float32{p.Origin.X, p.Origin.Y, p.Origin.Z, p.Angles.X, p.Angles.Y, p.Angles.Z} {
			le.PutUint32(rec[i*4:], math32.Float32bits(v))
		}
		le.PutUint16(rec[24:], uint16(p.ModelIndex))
		rec[30] = p.Solid
		le.PutUint32(rec[32:], uint32(p.Skin))
		if stride >= 80 {
			le.PutUint32(rec[76:], math32.Float32bits(p.Scale))
		}
		buf.Write(rec)
	}

	sprp := buf.Bytes()
	dir := new(bytes.Buffer)
	binary.Write(dir, le, int32(1))
	binary.Write(dir, le, int32(GameLumpStaticProps))
	binary.Write(dir, le, uint16(0))
	binary.Write(dir, le, version)
	binary.Write(dir, le, int32(4+gameLumpEntrySize))
	binary.Write(dir, le, int32(len(sprp)))
	dir.Write(sprp)
	return dir.Bytes()
}

func TestParseStaticProps(t *testing.T) {
	names := []string{"models/props/crate.mdl", "models/props/barrel.mdl"}
	props := []StaticProp{
		{Origin: math.Vec3{X: 1, Y: 2, Z: 3}, Angles: math.Vec3{Y: 90}, ModelIndex: 1, Skin: 2, Solid: 6, Scale: 2},
		{Origin: math.Vec3{X: -5}, ModelIndex: 0, Scale: 1},
	}
	tests := []struct {
		name      string
		version   uint16
		stride    int
		wantScale float32
	}{
		{"v10", 10, 76, 1},
		{"v11 scale", 11, 80, 2},
		{"unknown version derives stride", 12, 88, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lump := buildStaticProps(tt.version, tt.stride, names, props)
			got, gotNames, err := ParseStaticProps(lump, lump)
			if err != nil {
				t.Fatalf("ParseStaticProps: %v", err)
			}
			if len(gotNames) != 2 || len(got) != 2 {
				t.Fatalf("names = %d, props = %d", len(gotNames), len(got))
			}
			p := got[0]
			if p.Model != names[1] || p.Origin != props[0].Origin || p.Angles != props[0].Angles {
				t.Errorf("prop = %+v", p)
			}
			if p.Skin != 2 || p.Solid != 6 {
				t.Errorf("skin = %d, solid = %d", p.Skin, p.Solid)
			}
			if p.Scale != tt.wantScale {
				t.Errorf("scale = %v, want %v", p.Scale, tt.wantScale)
			}
			if got[1].Model != names[0] {
				t.Errorf("second model = %q", got[1].Model)
			}
		})
	}
}

func TestParseStaticProps_Errors(t *testing.T) {
	if _, _, err := ParseStaticProps(nil, []byte{0, 0, 0, 0}); !errors.Is(err, ErrNoStaticProps) {
		t.Errorf("empty directory: err = %v", err)
	}
	lump := buildStaticProps(10, 76, []string{"a.mdl"}, []StaticProp{{}})
	if _, _, err := ParseStaticProps(lump[:len(lump)-10], lump); !errors.Is(err, ErrStaticPropTruncate) {
		t.Errorf("truncated: err = %v", err)
	}
	short := buildStaticProps(10, 40, []string{"a.mdl"}, []StaticProp{{}})
	if _, _, err := ParseStaticProps(short, short); !errors.Is(err, ErrStaticPropVersion) {
		t.Errorf("short records: err = %v", err)
	}
}
