package vtf

import (
	"encoding/binary"
	"fmt"
	"image"
)

// Channel positions inside a packed pixel. -1 means the channel is absent.
type channelOrder struct {
	r, g, b, a int
}

// byteOrders lists the byte position of each channel for 8-bit-per-channel formats.
var byteOrders = map[ImageFormat]channelOrder{
	FormatRGBA8888:         {0, 1, 2, 3},
	FormatABGR8888:         {3, 2, 1, 0},
	FormatRGB888:           {0, 1, 2, -1},
	FormatBGR888:           {2, 1, 0, -1},
	FormatRGB888Bluescreen: {0, 1, 2, -1},
	FormatBGR888Bluescreen: {2, 1, 0, -1},
	FormatARGB8888:         {1, 2, 3, 0},
	FormatBGRA8888:         {2, 1, 0, 3},
	FormatBGRX8888:         {2, 1, 0, -1},
	FormatUVWQ8888:         {0, 1, 2, 3},
	FormatUVLX8888:         {0, 1, 2, 3},
	FormatUV88:             {0, 1, -1, -1},
}

// bitField describes one channel of a 16-bit packed pixel.
type bitField struct {
	shift, bits uint
}

// wordLayouts lists 16-bit formats. Channels are named from the least significant bit.
var wordLayouts = map[ImageFormat][4]bitField{
	FormatRGB565:   {{0, 5}, {5, 6}, {11, 5}, {0, 0}},
	FormatBGR565:   {{11, 5}, {5, 6}, {0, 5}, {0, 0}},
	FormatBGRX5551: {{10, 5}, {5, 5}, {0, 5}, {0, 0}},
	FormatBGRA5551: {{10, 5}, {5, 5}, {0, 5}, {15, 1}},
	FormatBGRA4444: {{8, 4}, {4, 4}, {0, 4}, {12, 4}},
}

// expandBits scales an n-bit channel value to 8 bits.
func expandBits(v uint16, bits uint) uint8 {
	switch bits {
	case 1:
		if v != 0 {
			return 255
		}
		return 0
	case 4:
		return uint8(v * 17)
	case 5:
		return expand5(v)
	case 6:
		return expand6(v)
	default:
		return uint8(v)
	}
}

// DecodePacked converts a non-block format to RGBA8 pixels.
func DecodePacked(format ImageFormat, data []byte, w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	info, ok := formats[format]
	if !ok || info.blockBytes > 0 {
		return nil, fmt.Errorf("%w: %s is not a packed format", ErrUnsupportedFormat, format)
	}
	if need := format.DataSize(w, h); len(data) < need {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedVTFData, need, len(data))
	}

	n := w * h
	out := make([]byte, n*4)
	bpp := info.bytesPP

	switch format {
	case FormatI8:
		for i := 0; i < n; i++ {
			v := data[i]
			copy(out[i*4:], []byte{v, v, v, 255})
		}
		return out, nil
	case FormatIA88:
		for i := 0; i < n; i++ {
			v := data[i*2]
			copy(out[i*4:], []byte{v, v, v, data[i*2+1]})
		}
		return out, nil
	case FormatA8:
		for i := 0; i < n; i++ {
			out[i*4+3] = data[i]
		}
		return out, nil
	}

	if order, ok := byteOrders[format]; ok {
		bluescreen := format == FormatRGB888Bluescreen || format == FormatBGR888Bluescreen
		for i := 0; i < n; i++ {
			src := data[i*bpp : i*bpp+bpp]
			px := out[i*4 : i*4+4]
			px[0] = pick(src, order.r, 0)
			px[1] = pick(src, order.g, 0)
			px[2] = pick(src, order.b, 0)
			px[3] = pick(src, order.a, 255)
			if bluescreen && px[0] == 0 && px[1] == 0 && px[2] == 255 {
				px[2], px[3] = 0, 0
			}
		}
		return out, nil
	}

	if layout, ok := wordLayouts[format]; ok {
		for i := 0; i < n; i++ {
			v := binary.LittleEndian.Uint16(data[i*2:])
			px := out[i*4 : i*4+4]
			for ch := 0; ch < 3; ch++ {
				f := layout[ch]
				px[ch] = expandBits(v>>f.shift&(1<<f.bits-1), f.bits)
			}
			if f := layout[3]; f.bits > 0 {
				px[3] = expandBits(v>>f.shift&(1<<f.bits-1), f.bits)
			} else {
				px[3] = 255
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

func pick(src []byte, idx int, def uint8) uint8 {
	if idx < 0 {
		return def
	}
	return src[idx]
}

// DecodeRGBA decodes one image of any supported format into RGBA8 pixels.
func DecodeRGBA(format ImageFormat, data []byte, w, h int) ([]byte, error) {
	switch format {
	case FormatDXT1:
		return DecodeDXT1(data, w, h, false)
	case FormatDXT1OneBitAlpha:
		return DecodeDXT1(data, w, h, true)
	case FormatDXT3:
		return DecodeDXT3(data, w, h)
	case FormatDXT5:
		return DecodeDXT5(data, w, h)
	case FormatP8, FormatRGBA16161616F, FormatRGBA16161616, FormatNone:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return DecodePacked(format, data, w, h)
}

// DecodeImage decodes one image into a non-premultiplied RGBA image.
func DecodeImage(format ImageFormat, data []byte, w, h int) (*image.NRGBA, error) {
	pix, err := DecodeRGBA(format, data, w, h)
	if err != nil {
		return nil, err
	}
	return &image.NRGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}, nil
}
