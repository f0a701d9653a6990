package vtf

import "fmt"

// ImageFormat is the pixel format tag stored in a VTF header.
type ImageFormat int32

// Image formats. Values are the on-disk enumeration.
const (
	FormatNone             ImageFormat = -1
	FormatRGBA8888         ImageFormat = 0
	FormatABGR8888         ImageFormat = 1
	FormatRGB888           ImageFormat = 2
	FormatBGR888           ImageFormat = 3
	FormatRGB565           ImageFormat = 4
	FormatI8               ImageFormat = 5
	FormatIA88             ImageFormat = 6
	FormatP8               ImageFormat = 7
	FormatA8               ImageFormat = 8
	FormatRGB888Bluescreen ImageFormat = 9
	FormatBGR888Bluescreen ImageFormat = 10
	FormatARGB8888         ImageFormat = 11
	FormatBGRA8888         ImageFormat = 12
	FormatDXT1             ImageFormat = 13
	FormatDXT3             ImageFormat = 14
	FormatDXT5             ImageFormat = 15
	FormatBGRX8888         ImageFormat = 16
	FormatBGR565           ImageFormat = 17
	FormatBGRX5551         ImageFormat = 18
	FormatBGRA4444         ImageFormat = 19
	FormatDXT1OneBitAlpha  ImageFormat = 20
	FormatBGRA5551         ImageFormat = 21
	FormatUV88             ImageFormat = 22
	FormatUVWQ8888         ImageFormat = 23
	FormatRGBA16161616F    ImageFormat = 24
	FormatRGBA16161616     ImageFormat = 25
	FormatUVLX8888         ImageFormat = 26
)

type formatInfo struct {
	name       string
	bytesPP    int // 0 for block formats
	blockBytes int // bytes per 4x4 block, 0 for packed formats
}

var formats = map[ImageFormat]formatInfo{
	FormatRGBA8888:         {"RGBA8888", 4, 0},
	FormatABGR8888:         {"ABGR8888", 4, 0},
	FormatRGB888:           {"RGB888", 3, 0},
	FormatBGR888:           {"BGR888", 3, 0},
	FormatRGB565:           {"RGB565", 2, 0},
	FormatI8:               {"I8", 1, 0},
	FormatIA88:             {"IA88", 2, 0},
	FormatP8:               {"P8", 1, 0},
	FormatA8:               {"A8", 1, 0},
	FormatRGB888Bluescreen: {"RGB888_BLUESCREEN", 3, 0},
	FormatBGR888Bluescreen: {"BGR888_BLUESCREEN", 3, 0},
	FormatARGB8888:         {"ARGB8888", 4, 0},
	FormatBGRA8888:         {"BGRA8888", 4, 0},
	FormatDXT1:             {"DXT1", 0, 8},
	FormatDXT3:             {"DXT3", 0, 16},
	FormatDXT5:             {"DXT5", 0, 16},
	FormatBGRX8888:         {"BGRX8888", 4, 0},
	FormatBGR565:           {"BGR565", 2, 0},
	FormatBGRX5551:         {"BGRX5551", 2, 0},
	FormatBGRA4444:         {"BGRA4444", 2, 0},
	FormatDXT1OneBitAlpha:  {"DXT1_ONEBITALPHA", 0, 8},
	FormatBGRA5551:         {"BGRA5551", 2, 0},
	FormatUV88:             {"UV88", 2, 0},
	FormatUVWQ8888:         {"UVWQ8888", 4, 0},
	FormatRGBA16161616F:    {"RGBA16161616F", 8, 0},
	FormatRGBA16161616:     {"RGBA16161616", 8, 0},
	FormatUVLX8888:         {"UVLX8888", 4, 0},
}

// String returns the engine name of the format.
func (f ImageFormat) String() string {
	if info, ok := formats[f]; ok {
		return info.name
	}
	if f == FormatNone {
		return "NONE"
	}
	return fmt.Sprintf("Unknown(%d)", int32(f))
}

// Compressed reports whether the format is stored as 4x4 blocks.
func (f ImageFormat) Compressed() bool {
	return formats[f].blockBytes > 0
}

// DataSize returns the number of bytes one w x h image occupies in this format.
// Block formats round each dimension up to a whole block.
func (f ImageFormat) DataSize(w, h int) int {
	info, ok := formats[f]
	if !ok || w <= 0 || h <= 0 {
		return 0
	}
	if info.blockBytes > 0 {
		return ((w + 3) / 4) * ((h + 3) / 4) * info.blockBytes
	}
	return w * h * info.bytesPP
}
