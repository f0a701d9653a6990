package bsp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Faultbox/srcforge/pkg/math"
)

// On-disk lump records.

type dplane struct {
	Normal [3]float32
	Dist   float32
	Type   int32
}

type dedge struct {
	V [2]uint16
}

type dtexinfo struct {
	TextureVecs  [2][4]float32
	LightmapVecs [2][4]float32
	Flags        int32
	TexData      int32
}

type dtexdata struct {
	Reflectivity [3]float32
	NameID       int32
	Width        int32
	Height       int32
	ViewWidth    int32
	ViewHeight   int32
}

type dface struct {
	PlaneNum        uint16
	Side            uint8
	OnNode          uint8
	FirstEdge       int32
	NumEdges        int16
	TexInfo         int16
	DispInfo        int16
	FogVolumeID     int16
	Styles          [4]uint8
	LightOfs        int32
	Area            float32
	LightmapMins    [2]int32
	LightmapSize    [2]int32
	OrigFace        int32
	NumPrims        uint16
	FirstPrimID     uint16
	SmoothingGroups uint32
}

type dmodel struct {
	Mins      [3]float32
	Maxs      [3]float32
	Origin    [3]float32
	HeadNode  int32
	FirstFace int32
	NumFaces  int32
}

type dbrush struct {
	FirstSide int32
	NumSides  int32
	Contents  int32
}

type dbrushside struct {
	PlaneNum uint16
	TexInfo  int16
	DispInfo int16
	Bevel    int16
}

type ddispinfo struct {
	StartPosition      [3]float32
	DispVertStart      int32
	DispTriStart       int32
	Power              int32
	MinTess            int32
	SmoothingAngle     float32
	Contents           int32
	MapFace            uint16
	_                  [2]byte
	LightmapAlphaStart int32
	LightmapSamplePos  int32
	Neighbors          [88]byte
	AllowedVerts       [10]uint32
}

type ddispvert struct {
	Vec   [3]float32
	Dist  float32
	Alpha float32
}

// Record sizes in bytes.
const (
	planeSize     = 20
	edgeSize      = 4
	texInfoSize   = 72
	texDataSize   = 32
	faceSize      = 56
	modelSize     = 48
	brushSize     = 12
	brushSideSize = 8
	dispInfoSize  = 176
	dispVertSize  = 20
)

// decodeRecords decodes a lump made of fixed-size records.
func decodeRecords[T any](data []byte) ([]T, error) {
	var zero T
	size := binary.Size(zero)
	if size <= 0 {
		return nil, fmt.Errorf("record %T has no fixed size", zero)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrTruncatedBSPData, len(data), size)
	}
	out := make([]T, len(data)/size)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

// lumps holds the typed contents of every lump the decoder reads.
type lumps struct {
	entities      []byte
	planes        []dplane
	texData       []dtexdata
	vertexes      [][3]float32
	texInfo       []dtexinfo
	faces         []dface
	edges         []dedge
	surfEdges     []int32
	models        []dmodel
	brushes       []dbrush
	brushSides    []dbrushside
	dispInfo      []ddispinfo
	dispVerts     []ddispvert
	vertNormals   [][3]float32
	normalIndices []uint16
	game          []byte
	stringData    []byte
	stringTable   []int32
}

// lumpDecoder stores one lump's contents in l.
type lumpDecoder func(l *lumps, data []byte) error

// lumpDecoders dispatches by lump type. Order of decoding is the order of decodeOrder.
var lumpDecoders = map[LumpType]lumpDecoder{
	LumpEntities:           func(l *lumps, d []byte) error { l.entities = d; return nil },
	LumpPlanes:             func(l *lumps, d []byte) (err error) { l.planes, err = decodeRecords[dplane](d); return },
	LumpTexData:            func(l *lumps, d []byte) (err error) { l.texData, err = decodeRecords[dtexdata](d); return },
	LumpVertexes:           func(l *lumps, d []byte) (err error) { l.vertexes, err = decodeRecords[[3]float32](d); return },
	LumpTexInfo:            func(l *lumps, d []byte) (err error) { l.texInfo, err = decodeRecords[dtexinfo](d); return },
	LumpFaces:              func(l *lumps, d []byte) (err error) { l.faces, err = decodeRecords[dface](d); return },
	LumpEdges:              func(l *lumps, d []byte) (err error) { l.edges, err = decodeRecords[dedge](d); return },
	LumpSurfEdges:          func(l *lumps, d []byte) (err error) { l.surfEdges, err = decodeRecords[int32](d); return },
	LumpModels:             func(l *lumps, d []byte) (err error) { l.models, err = decodeRecords[dmodel](d); return },
	LumpBrushes:            func(l *lumps, d []byte) (err error) { l.brushes, err = decodeRecords[dbrush](d); return },
	LumpBrushSides:         func(l *lumps, d []byte) (err error) { l.brushSides, err = decodeRecords[dbrushside](d); return },
	LumpDispInfo:           func(l *lumps, d []byte) (err error) { l.dispInfo, err = decodeRecords[ddispinfo](d); return },
	LumpDispVerts:          func(l *lumps, d []byte) (err error) { l.dispVerts, err = decodeRecords[ddispvert](d); return },
	LumpVertNormals:        func(l *lumps, d []byte) (err error) { l.vertNormals, err = decodeRecords[[3]float32](d); return },
	LumpVertNormalIndices:  func(l *lumps, d []byte) (err error) { l.normalIndices, err = decodeRecords[uint16](d); return },
	LumpGame:               func(l *lumps, d []byte) error { l.game = d; return nil },
	LumpTexDataStringData:  func(l *lumps, d []byte) error { l.stringData = d; return nil },
	LumpTexDataStringTable: func(l *lumps, d []byte) (err error) { l.stringTable, err = decodeRecords[int32](d); return },
}

var decodeOrder = []LumpType{
	LumpEntities, LumpPlanes, LumpTexData, LumpVertexes, LumpTexInfo, LumpFaces,
	LumpEdges, LumpSurfEdges, LumpModels, LumpBrushes, LumpBrushSides,
	LumpDispInfo, LumpDispVerts, LumpVertNormals, LumpVertNormalIndices,
	LumpGame, LumpTexDataStringData, LumpTexDataStringTable,
}

// Plane is a unit normal and distance from the origin.
type Plane struct {
	Normal math.Vec3
	Dist   float32
}

// Distance returns the signed distance of p from the plane.
func (p Plane) Distance(v math.Vec3) float32 {
	return p.Normal.Dot(v) - p.Dist
}

// Flip returns the plane facing the opposite way.
func (p Plane) Flip() Plane {
	return Plane{Normal: p.Normal.Neg(), Dist: -p.Dist}
}

// NearlyEqual reports whether two planes are duplicates within the brush tolerances.
func (p Plane) NearlyEqual(o Plane) bool {
	d := p.Dist - o.Dist
	if d < 0 {
		d = -d
	}
	return p.Normal.Dot(o.Normal) >= planeDotEpsilon && d < planeDistEpsilon
}

// TexInfo is a texture projection and surface flags.
type TexInfo struct {
	TextureVecs [2][4]float32
	Flags       SurfaceFlags
	TexData     int
}

// TexData is a texture reference with its dimensions.
type TexData struct {
	Name         string
	Width        int
	Height       int
	Reflectivity math.Vec3
}

// Model is a brush model: model 0 is the world, the rest belong to brush entities.
type Model struct {
	Mins      math.Vec3
	Maxs      math.Vec3
	Origin    math.Vec3
	FirstFace int
	NumFaces  int
}

// SurfaceFlags are texinfo surface flags.
type SurfaceFlags uint32

// Surface flags of tool textures.
const (
	SurfSky2D   SurfaceFlags = 0x0002
	SurfSky     SurfaceFlags = 0x0004
	SurfTrigger SurfaceFlags = 0x0040
	SurfNoDraw  SurfaceFlags = 0x0080
	SurfHint    SurfaceFlags = 0x0100
	SurfSkip    SurfaceFlags = 0x0200
)

// ToolFlags covers every flag of a surface that is not rendered.
const ToolFlags = SurfSky2D | SurfSky | SurfTrigger | SurfNoDraw | SurfHint | SurfSkip

// IsTool reports whether the surface uses a tool texture.
func (f SurfaceFlags) IsTool() bool {
	return f&ToolFlags != 0
}
