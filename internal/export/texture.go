package export

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/Faultbox/srcforge/internal/assets"
	"github.com/Faultbox/srcforge/pkg/vtf"
)

// LoadTexture decodes the first frame of a texture, picking the largest mip
// that fits maxSize and downscaling when no mip does. maxSize 0 keeps full size.
func LoadTexture(fs assets.FileSystem, path string, maxSize int) (image.Image, error) {
	data, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	v, err := vtf.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	img, err := v.Image(pickMip(v, maxSize), 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return Downscale(img, maxSize), nil
}

// pickMip returns the first mip whose larger side is at most maxSize.
func pickMip(v *vtf.VTF, maxSize int) int {
	if maxSize <= 0 {
		return 0
	}
	mip := 0
	for mip+1 < v.MipCount {
		w, h, _ := v.MipSize(mip)
		if max(w, h) <= maxSize {
			break
		}
		mip++
	}
	return mip
}

// Downscale shrinks img so its larger side is maxSize, keeping the aspect ratio.
func Downscale(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return img
	}

	nw, nh := maxSize, maxSize
	if w > h {
		nh = max(1, h*maxSize/w)
	} else {
		nw = max(1, w*maxSize/h)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePNG writes img to path, creating parent directories.
func WritePNG(path string, img image.Image) error {
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
