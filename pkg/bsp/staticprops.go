package bsp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/pkg/encoding"
	"github.com/Faultbox/srcforge/pkg/math"
)

// Static prop errors.
var (
	ErrNoStaticProps      = errors.New("no static prop game lump")
	ErrStaticPropVersion  = errors.New("unsupported static prop version")
	ErrStaticPropTruncate = errors.New("truncated static prop lump")
)

// GameLumpStaticProps is the game lump id of static props ("sprp").
const GameLumpStaticProps = 's'<<24 | 'p'<<16 | 'r'<<8 | 'p'

const (
	gameLumpEntrySize   = 16
	gameLumpCompressed  = 0x0001
	staticPropNameSize  = 128
	minStaticPropStride = 56
)

// staticPropStride is the record size of each static prop lump version.
var staticPropStride = map[uint16]int{
	4:  56,
	5:  60,
	6:  64,
	7:  68,
	8:  68,
	9:  72,
	10: 76,
	11: 80,
}

// StaticProp is one placed model instance.
type StaticProp struct {
	Model          string
	ModelIndex     int
	Origin         math.Vec3
	Angles         math.Vec3 // pitch yaw roll in degrees
	Skin           int
	Solid          uint8
	Flags          uint8
	FirstLeaf      int
	LeafCount      int
	FadeMin        float32
	FadeMax        float32
	LightingOrigin math.Vec3
	Scale          float32
}

// GameLump is one entry of the game lump directory.
type GameLump struct {
	ID      int32
	Flags   uint16
	Version uint16
	Offset  int32
	Length  int32
}

// ParseGameLumps reads the game lump directory.
func ParseGameLumps(lump []byte) ([]GameLump, error) {
	if len(lump) < 4 {
		return nil, fmt.Errorf("%w: game lump header", ErrTruncatedBSPData)
	}
	le := binary.LittleEndian
	n := int(int32(le.Uint32(lump)))
	if n < 0 || 4+n*gameLumpEntrySize > len(lump) {
		return nil, fmt.Errorf("%w: %d game lumps", ErrTruncatedBSPData, n)
	}
	out := make([]GameLump, n)
	for i := range out {
		off := 4 + i*gameLumpEntrySize
		out[i] = GameLump{
			ID:      int32(le.Uint32(lump[off:])),
			Flags:   le.Uint16(lump[off+4:]),
			Version: le.Uint16(lump[off+6:]),
			Offset:  int32(le.Uint32(lump[off+8:])),
			Length:  int32(le.Uint32(lump[off+12:])),
		}
	}
	return out, nil
}

// ParseStaticProps decodes a static prop game lump. Offsets in the game lump
// directory are relative to the start of the file.
func ParseStaticProps(file, gameLump []byte) ([]StaticProp, []string, error) {
	dir, err := ParseGameLumps(gameLump)
	if err != nil {
		return nil, nil, err
	}
	for _, gl := range dir {
		if gl.ID != GameLumpStaticProps {
			continue
		}
		if gl.Flags&gameLumpCompressed != 0 {
			return nil, nil, fmt.Errorf("%w: sprp", ErrCompressedLump)
		}
		end := int(gl.Offset) + int(gl.Length)
		if gl.Offset < 0 || gl.Length < 0 || end > len(file) {
			return nil, nil, fmt.Errorf("%w: sprp at %d+%d", ErrStaticPropTruncate, gl.Offset, gl.Length)
		}
		return decodeStaticProps(file[gl.Offset:end], gl.Version)
	}
	return nil, nil, ErrNoStaticProps
}

func decodeStaticProps(data []byte, version uint16) ([]StaticProp, []string, error) {
	le := binary.LittleEndian
	r := 0
	readCount := func() (int, error) {
		if r+4 > len(data) {
			return 0, fmt.Errorf("%w: count at %d", ErrStaticPropTruncate, r)
		}
		n := int(int32(le.Uint32(data[r:])))
		r += 4
		if n < 0 {
			return 0, fmt.Errorf("%w: negative count", ErrStaticPropTruncate)
		}
		return n, nil
	}

	numNames, err := readCount()
	if err != nil {
		return nil, nil, err
	}
	if r+numNames*staticPropNameSize > len(data) {
		return nil, nil, fmt.Errorf("%w: %d model names", ErrStaticPropTruncate, numNames)
	}
	names := make([]string, numNames)
	for i := range names {
		names[i] = encoding.FixedStringToUTF8(data[r : r+staticPropNameSize])
		r += staticPropNameSize
	}

	numLeaves, err := readCount()
	if err != nil {
		return nil, nil, err
	}
	r += numLeaves * 2
	if r > len(data) {
		return nil, nil, fmt.Errorf("%w: %d leaves", ErrStaticPropTruncate, numLeaves)
	}

	numProps, err := readCount()
	if err != nil {
		return nil, nil, err
	}
	if numProps == 0 {
		return nil, names, nil
	}
	stride, err := propStride(version, numProps, len(data)-r)
	if err != nil {
		return nil, nil, err
	}

	props := make([]StaticProp, numProps)
	for i := range props {
		rec := data[r+i*stride : r+(i+1)*stride]
		p := &props[i]
		p.Origin = readVec3(rec[0:])
		p.Angles = readVec3(rec[12:])
		p.ModelIndex = int(le.Uint16(rec[24:]))
		p.FirstLeaf = int(le.Uint16(rec[26:]))
		p.LeafCount = int(le.Uint16(rec[28:]))
		p.Solid = rec[30]
		p.Flags = rec[31]
		p.Skin = int(int32(le.Uint32(rec[32:])))
		p.FadeMin = readFloat(rec[36:])
		p.FadeMax = readFloat(rec[40:])
		p.LightingOrigin = readVec3(rec[44:])
		p.Scale = 1
		if version >= 11 && stride >= 80 {
			p.Scale = readFloat(rec[76:])
		}
		if p.ModelIndex < len(names) {
			p.Model = names[p.ModelIndex]
		}
	}
	return props, names, nil
}

// propStride picks the record size for a version, falling back to the size
// implied by the remaining bytes.
func propStride(version uint16, count, remaining int) (int, error) {
	if s, ok := staticPropStride[version]; ok && s*count == remaining {
		return s, nil
	}
	if remaining%count == 0 && remaining/count >= minStaticPropStride {
		return remaining / count, nil
	}
	if s, ok := staticPropStride[version]; ok && s*count <= remaining {
		return s, nil
	}
	return 0, fmt.Errorf("%w: version %d with %d props in %d bytes", ErrStaticPropVersion, version, count, remaining)
}

func readFloat(b []byte) float32 {
	return math32.Float32frombits(binary.LittleEndian.Uint32(b))
}

func readVec3(b []byte) math.Vec3 {
	return math.Vec3{X: readFloat(b), Y: readFloat(b[4:]), Z: readFloat(b[8:])}
}

func (d *decoder) decodeStaticProps() {
	if len(d.game) == 0 {
		return
	}
	props, names, err := ParseStaticProps(d.data, d.game)
	if err != nil {
		if errors.Is(err, ErrNoStaticProps) {
			d.log.Debug("no static props")
		} else {
			d.log.Warn("skipping static props", zap.Error(err))
		}
		return
	}
	d.level.StaticProps = props
	d.level.PropModels = names
}
