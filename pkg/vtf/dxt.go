package vtf

import (
	"encoding/binary"
	"fmt"
)

// rgba is one decoded pixel.
type rgba [4]uint8

func expand5(v uint16) uint8 { return uint8(v<<3 | v>>2) }
func expand6(v uint16) uint8 { return uint8(v<<2 | v>>4) }

// unpack565 expands a 16-bit endpoint with red in the high bits.
func unpack565(c uint16) rgba {
	return rgba{expand5(c >> 11 & 0x1f), expand6(c >> 5 & 0x3f), expand5(c & 0x1f), 255}
}

// colorPalette builds the four selectable colors of a color block.
// When fourColor is false and c0 <= c1 the block uses three colors plus a
// transparent or black entry for code 3.
func colorPalette(c0, c1 uint16, fourColor, oneBitAlpha bool) [4]rgba {
	a := unpack565(c0)
	b := unpack565(c1)
	var p [4]rgba
	p[0] = a
	p[1] = b
	if fourColor || c0 > c1 {
		for ch := 0; ch < 3; ch++ {
			p[2][ch] = uint8((2*int(a[ch]) + int(b[ch])) / 3)
			p[3][ch] = uint8((int(a[ch]) + 2*int(b[ch])) / 3)
		}
		p[2][3], p[3][3] = 255, 255
		return p
	}
	for ch := 0; ch < 3; ch++ {
		p[2][ch] = uint8((int(a[ch]) + int(b[ch])) / 2)
	}
	p[2][3] = 255
	if oneBitAlpha {
		p[3] = rgba{0, 0, 0, 0}
	} else {
		p[3] = rgba{0, 0, 0, 255}
	}
	return p
}

// decodeColorBlock writes 16 pixels from an 8-byte color block into block.
func decodeColorBlock(src []byte, block *[16]rgba, fourColor, oneBitAlpha bool) {
	c0 := binary.LittleEndian.Uint16(src[0:])
	c1 := binary.LittleEndian.Uint16(src[2:])
	codes := binary.LittleEndian.Uint32(src[4:])
	p := colorPalette(c0, c1, fourColor, oneBitAlpha)
	for i := 0; i < 16; i++ {
		block[i] = p[codes>>(2*i)&3]
	}
}

// explicitAlpha applies a DXT3 64-bit 4-bit-per-pixel alpha stream.
func explicitAlpha(src []byte, block *[16]rgba) {
	bits := binary.LittleEndian.Uint64(src)
	for i := 0; i < 16; i++ {
		block[i][3] = uint8(bits>>(4*i)&0xf) * 17
	}
}

// alphaPalette builds the eight DXT5 alpha levels.
func alphaPalette(a0, a1 uint8) [8]uint8 {
	var p [8]uint8
	p[0], p[1] = a0, a1
	if a0 > a1 {
		for k := 2; k < 8; k++ {
			p[k] = uint8(((8-k)*int(a0) + (k-1)*int(a1)) / 7)
		}
		return p
	}
	for k := 2; k < 6; k++ {
		p[k] = uint8(((6-k)*int(a0) + (k-1)*int(a1)) / 5)
	}
	p[6] = 0
	p[7] = 255
	return p
}

// interpolatedAlpha applies a DXT5 alpha block (2 endpoints + 48 bits of 3-bit codes).
func interpolatedAlpha(src []byte, block *[16]rgba) {
	p := alphaPalette(src[0], src[1])
	var bits uint64
	for i := 0; i < 6; i++ {
		bits |= uint64(src[2+i]) << (8 * i)
	}
	for i := 0; i < 16; i++ {
		block[i][3] = p[bits>>(3*i)&7]
	}
}

// decodeBlocks walks the 4x4 blocks of a w x h image. Images smaller than one
// block are decoded as a full block and cropped.
func decodeBlocks(data []byte, w, h, blockBytes int, decode func(src []byte, block *[16]rgba)) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	bw := (w + 3) / 4
	bh := (h + 3) / 4
	if need := bw * bh * blockBytes; len(data) < need {
		return nil, fmt.Errorf("%w: need %d bytes of block data, have %d", ErrTruncatedVTFData, need, len(data))
	}

	out := make([]byte, w*h*4)
	var block [16]rgba
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			off := (by*bw + bx) * blockBytes
			decode(data[off:off+blockBytes], &block)
			for py := 0; py < 4; py++ {
				y := by*4 + py
				if y >= h {
					break
				}
				for px := 0; px < 4; px++ {
					x := bx*4 + px
					if x >= w {
						break
					}
					copy(out[(y*w+x)*4:], block[py*4+px][:])
				}
			}
		}
	}
	return out, nil
}

// DecodeDXT1 decodes DXT1 data into RGBA8 pixels. With oneBitAlpha, code 3 of a
// three-color block is fully transparent; otherwise it is opaque black.
func DecodeDXT1(data []byte, w, h int, oneBitAlpha bool) ([]byte, error) {
	return decodeBlocks(data, w, h, 8, func(src []byte, block *[16]rgba) {
		decodeColorBlock(src, block, false, oneBitAlpha)
	})
}

// DecodeDXT3 decodes DXT3 (explicit 4-bit alpha) data into RGBA8 pixels.
func DecodeDXT3(data []byte, w, h int) ([]byte, error) {
	return decodeBlocks(data, w, h, 16, func(src []byte, block *[16]rgba) {
		decodeColorBlock(src[8:], block, true, false)
		explicitAlpha(src[:8], block)
	})
}

// DecodeDXT5 decodes DXT5 (interpolated alpha) data into RGBA8 pixels.
func DecodeDXT5(data []byte, w, h int) ([]byte, error) {
	return decodeBlocks(data, w, h, 16, func(src []byte, block *[16]rgba) {
		decodeColorBlock(src[8:], block, true, false)
		interpolatedAlpha(src[:8], block)
	})
}
