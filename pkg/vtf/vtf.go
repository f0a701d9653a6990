// Package vtf decodes Valve Texture Format images and their block-compressed payloads.
package vtf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// VTF format errors.
var (
	ErrInvalidVTFMagic       = errors.New("invalid VTF magic: expected 'VTF\\x00'")
	ErrUnsupportedVTFVersion = errors.New("unsupported VTF version")
	ErrTruncatedVTFData      = errors.New("truncated VTF data")
	ErrUnsupportedFormat     = errors.New("unsupported image format")
	ErrInvalidDimensions     = errors.New("invalid image dimensions")
	ErrImageOutOfRange       = errors.New("image index out of range")
)

// Texture flags used by the decoder.
const (
	FlagPointSample   uint32 = 0x0001
	FlagClampS        uint32 = 0x0004
	FlagClampT        uint32 = 0x0008
	FlagOneBitAlpha   uint32 = 0x1000
	FlagEightBitAlpha uint32 = 0x2000
	FlagEnvMap        uint32 = 0x4000
)

// Resource tags (three bytes followed by a flag byte).
var (
	resourceLowRes  = [3]byte{0x01, 0, 0}
	resourceHighRes = [3]byte{0x30, 0, 0}
)

const (
	headerMinSize = 64
	resourceStart = 80
	resourceSize  = 8
	noFirstFrame  = 0xffff
)

// Version is the VTF major.minor version.
type Version struct {
	Major uint32
	Minor uint32
}

// String returns the version as "Major.Minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether the version is >= major.minor.
func (v Version) AtLeast(major, minor uint32) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// Resource is one entry of the 7.3+ resource directory.
type Resource struct {
	Tag   [3]byte
	Flags uint8
	Data  uint32 // offset, or inline value when Flags has bit 0x2 set
}

// VTF is a parsed texture file. Image data stays in the source buffer.
type VTF struct {
	Version      Version
	HeaderSize   uint32
	Width        int
	Height       int
	Depth        int
	Flags        uint32
	Frames       int
	FirstFrame   uint16
	Reflectivity [3]float32
	BumpScale    float32
	Format       ImageFormat
	MipCount     int
	LowFormat    ImageFormat
	LowWidth     int
	LowHeight    int
	Resources    []Resource

	data       []byte
	highOffset int
	lowOffset  int
}

// Faces returns the number of faces per frame: 6 or 7 for environment maps, 1 otherwise.
func (v *VTF) Faces() int {
	if v.Flags&FlagEnvMap == 0 {
		return 1
	}
	if v.Version.Major == 7 && v.Version.Minor < 5 && v.FirstFrame != noFirstFrame {
		return 7
	}
	return 6
}

// MipSize returns the dimensions of a mip level. Level 0 is full size.
func (v *VTF) MipSize(mip int) (w, h, d int) {
	return mipDim(v.Width, mip), mipDim(v.Height, mip), mipDim(v.Depth, mip)
}

func mipDim(n, mip int) int {
	n >>= uint(mip)
	if n < 1 {
		return 1
	}
	return n
}

// HasAlpha reports whether the texture carries alpha data.
func (v *VTF) HasAlpha() bool {
	return v.Flags&(FlagOneBitAlpha|FlagEightBitAlpha) != 0
}

// Parse parses a VTF texture from raw bytes.
func Parse(data []byte) (*VTF, error) {
	if len(data) < headerMinSize {
		return nil, ErrTruncatedVTFData
	}
	if string(data[0:4]) != "VTF\x00" {
		return nil, ErrInvalidVTFMagic
	}

	le := binary.LittleEndian
	v := &VTF{
		Version: Version{
			Major: le.Uint32(data[4:]),
			Minor: le.Uint32(data[8:]),
		},
	}
	if v.Version.Major != 7 || v.Version.Minor > 5 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVTFVersion, v.Version)
	}

	v.HeaderSize = le.Uint32(data[12:])
	v.Width = int(le.Uint16(data[16:]))
	v.Height = int(le.Uint16(data[18:]))
	v.Flags = le.Uint32(data[20:])
	v.Frames = int(le.Uint16(data[24:]))
	v.FirstFrame = le.Uint16(data[26:])
	for i := range v.Reflectivity {
		v.Reflectivity[i] = math32.Float32frombits(le.Uint32(data[32+4*i:]))
	}
	v.BumpScale = math32.Float32frombits(le.Uint32(data[48:]))
	v.Format = ImageFormat(int32(le.Uint32(data[52:])))
	v.MipCount = int(data[56])
	v.LowFormat = ImageFormat(int32(le.Uint32(data[57:])))
	v.LowWidth = int(data[61])
	v.LowHeight = int(data[62])
	v.Depth = 1
	if v.Version.AtLeast(7, 2) && len(data) >= 65 {
		if d := int(le.Uint16(data[63:])); d > 0 {
			v.Depth = d
		}
	}
	if v.Frames < 1 {
		v.Frames = 1
	}
	if v.MipCount < 1 {
		v.MipCount = 1
	}
	if v.Width == 0 || v.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, v.Width, v.Height)
	}

	v.data = data
	v.lowOffset = -1
	v.highOffset = -1

	if v.Version.AtLeast(7, 3) {
		if err := v.parseResources(); err != nil {
			return nil, err
		}
	} else {
		off := int(v.HeaderSize)
		if v.LowFormat != FormatNone && v.LowWidth > 0 && v.LowHeight > 0 {
			v.lowOffset = off
			off += v.LowFormat.DataSize(v.LowWidth, v.LowHeight)
		}
		v.highOffset = off
	}

	if v.highOffset >= 0 {
		if end := v.highOffset + v.highResSize(); end > len(data) {
			return nil, fmt.Errorf("%w: image data needs %d bytes, have %d", ErrTruncatedVTFData, end, len(data))
		}
	}

	return v, nil
}

func (v *VTF) parseResources() error {
	if len(v.data) < resourceStart {
		return ErrTruncatedVTFData
	}
	n := int(binary.LittleEndian.Uint32(v.data[68:]))
	if resourceStart+n*resourceSize > len(v.data) {
		return fmt.Errorf("%w: %d resource entries", ErrTruncatedVTFData, n)
	}

	v.Resources = make([]Resource, n)
	for i := range v.Resources {
		off := resourceStart + i*resourceSize
		r := Resource{Flags: v.data[off+3], Data: binary.LittleEndian.Uint32(v.data[off+4:])}
		copy(r.Tag[:], v.data[off:off+3])
		v.Resources[i] = r

		switch r.Tag {
		case resourceHighRes:
			v.highOffset = int(r.Data)
		case resourceLowRes:
			v.lowOffset = int(r.Data)
		}
	}
	return nil
}

// highResSize returns the byte size of the whole high-resolution mip chain.
func (v *VTF) highResSize() int {
	size := 0
	faces := v.Faces()
	for mip := 0; mip < v.MipCount; mip++ {
		w, h, d := v.MipSize(mip)
		size += v.Format.DataSize(w, h) * d * faces * v.Frames
	}
	return size
}

// imageOffset returns the byte offset of one image inside the high-resolution data.
// Mips are stored smallest first; each mip holds frames, then faces, then depth slices.
func (v *VTF) imageOffset(mip, frame, face, slice int) int {
	faces := v.Faces()
	off := v.highOffset
	for m := v.MipCount - 1; m > mip; m-- {
		w, h, d := v.MipSize(m)
		off += v.Format.DataSize(w, h) * d * faces * v.Frames
	}
	w, h, d := v.MipSize(mip)
	size := v.Format.DataSize(w, h)
	return off + ((frame*faces+face)*d+slice)*size
}

// ImageData returns the raw bytes of one image.
func (v *VTF) ImageData(mip, frame, face, slice int) ([]byte, error) {
	if v.highOffset < 0 {
		return nil, fmt.Errorf("%w: no high resolution image", ErrTruncatedVTFData)
	}
	_, _, d := v.MipSize(mip)
	if mip < 0 || mip >= v.MipCount || frame < 0 || frame >= v.Frames ||
		face < 0 || face >= v.Faces() || slice < 0 || slice >= d {
		return nil, fmt.Errorf("%w: mip %d frame %d face %d slice %d", ErrImageOutOfRange, mip, frame, face, slice)
	}
	w, h, _ := v.MipSize(mip)
	off := v.imageOffset(mip, frame, face, slice)
	end := off + v.Format.DataSize(w, h)
	if end > len(v.data) {
		return nil, ErrTruncatedVTFData
	}
	return v.data[off:end], nil
}

// Image decodes one image of the mip chain.
func (v *VTF) Image(mip, frame, face, slice int) (*image.NRGBA, error) {
	data, err := v.ImageData(mip, frame, face, slice)
	if err != nil {
		return nil, err
	}
	w, h, _ := v.MipSize(mip)
	if v.Format == FormatDXT1 && v.Flags&FlagOneBitAlpha != 0 {
		pix, err := DecodeDXT1(data, w, h, true)
		if err != nil {
			return nil, err
		}
		return &image.NRGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}, nil
	}
	return DecodeImage(v.Format, data, w, h)
}

// Thumbnail decodes the low resolution preview image, or returns nil when absent.
func (v *VTF) Thumbnail() (*image.NRGBA, error) {
	if v.lowOffset < 0 || v.LowFormat == FormatNone || v.LowWidth == 0 || v.LowHeight == 0 {
		return nil, nil
	}
	end := v.lowOffset + v.LowFormat.DataSize(v.LowWidth, v.LowHeight)
	if end > len(v.data) {
		return nil, ErrTruncatedVTFData
	}
	return DecodeImage(v.LowFormat, v.data[v.lowOffset:end], v.LowWidth, v.LowHeight)
}
