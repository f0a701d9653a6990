// Package bsp decodes compiled Source levels (VBSP) into faces, displacement
// surfaces, brush solids, static props and spatial face clusters.
package bsp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// BSP format errors.
var (
	ErrInvalidBSPMagic       = errors.New("invalid BSP magic: expected 'VBSP'")
	ErrUnsupportedBSPVersion = errors.New("unsupported BSP version")
	ErrTruncatedBSPData      = errors.New("truncated BSP data")
	ErrCompressedLump        = errors.New("compressed lump")
	ErrMissingLump           = errors.New("missing lump")
)

// Supported VBSP versions.
const (
	MinVersion = 19
	MaxVersion = 21
)

// NumLumps is the size of the lump directory.
const NumLumps = 64

const (
	headerSize = 8 + NumLumps*16 + 4
	lumpSize   = 16
)

// LumpType identifies an entry of the lump directory.
type LumpType int

// Lumps the decoder reads.
const (
	LumpEntities           LumpType = 0
	LumpPlanes             LumpType = 1
	LumpTexData            LumpType = 2
	LumpVertexes           LumpType = 3
	LumpTexInfo            LumpType = 6
	LumpFaces              LumpType = 7
	LumpEdges              LumpType = 12
	LumpSurfEdges          LumpType = 13
	LumpModels             LumpType = 14
	LumpBrushes            LumpType = 18
	LumpBrushSides         LumpType = 19
	LumpDispInfo           LumpType = 26
	LumpVertNormals        LumpType = 30
	LumpVertNormalIndices  LumpType = 31
	LumpDispVerts          LumpType = 33
	LumpGame               LumpType = 35
	LumpTexDataStringData  LumpType = 43
	LumpTexDataStringTable LumpType = 44
)

var lumpNames = map[LumpType]string{
	LumpEntities:           "ENTITIES",
	LumpPlanes:             "PLANES",
	LumpTexData:            "TEXDATA",
	LumpVertexes:           "VERTEXES",
	LumpTexInfo:            "TEXINFO",
	LumpFaces:              "FACES",
	LumpEdges:              "EDGES",
	LumpSurfEdges:          "SURFEDGES",
	LumpModels:             "MODELS",
	LumpBrushes:            "BRUSHES",
	LumpBrushSides:         "BRUSHSIDES",
	LumpDispInfo:           "DISPINFO",
	LumpVertNormals:        "VERTNORMALS",
	LumpVertNormalIndices:  "VERTNORMALINDICES",
	LumpDispVerts:          "DISP_VERTS",
	LumpGame:               "GAME_LUMP",
	LumpTexDataStringData:  "TEXDATA_STRING_DATA",
	LumpTexDataStringTable: "TEXDATA_STRING_TABLE",
}

// String returns the engine name of the lump.
func (t LumpType) String() string {
	if name, ok := lumpNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LUMP_%d", int(t))
}

// Lump is one entry of the lump directory. A non-zero FourCC holds the
// uncompressed size of an LZMA compressed lump.
type Lump struct {
	Offset  int32
	Length  int32
	Version int32
	FourCC  [4]byte
}

// Compressed reports whether the lump data is LZMA compressed.
func (l Lump) Compressed() bool {
	return binary.LittleEndian.Uint32(l.FourCC[:]) != 0
}

// Header is the VBSP file header.
type Header struct {
	Version  int32
	Lumps    [NumLumps]Lump
	Revision int32
}

// ParseHeader parses and validates the VBSP header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, ErrTruncatedBSPData
	}
	if string(data[0:4]) != "VBSP" {
		return nil, ErrInvalidBSPMagic
	}

	le := binary.LittleEndian
	h := &Header{Version: int32(le.Uint32(data[4:]))}
	if h.Version < MinVersion || h.Version > MaxVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBSPVersion, h.Version)
	}

	for i := range h.Lumps {
		off := 8 + i*lumpSize
		l := &h.Lumps[i]
		l.Offset = int32(le.Uint32(data[off:]))
		l.Length = int32(le.Uint32(data[off+4:]))
		l.Version = int32(le.Uint32(data[off+8:]))
		copy(l.FourCC[:], data[off+12:off+16])
	}
	h.Revision = int32(le.Uint32(data[8+NumLumps*lumpSize:]))

	return h, nil
}

// LumpData returns the raw bytes of a lump.
func (h *Header) LumpData(data []byte, t LumpType) ([]byte, error) {
	if t < 0 || int(t) >= NumLumps {
		return nil, fmt.Errorf("%w: %d", ErrMissingLump, int(t))
	}
	l := h.Lumps[t]
	if l.Length == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingLump, t)
	}
	start, end := int(l.Offset), int(l.Offset)+int(l.Length)
	if l.Offset < 0 || l.Length < 0 || end > len(data) {
		return nil, fmt.Errorf("%w: %s at %d+%d exceeds %d bytes", ErrTruncatedBSPData, t, l.Offset, l.Length, len(data))
	}
	if l.Compressed() {
		return nil, fmt.Errorf("%w: %s", ErrCompressedLump, t)
	}
	return data[start:end], nil
}
