package bsp

import (
	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/pkg/math"
)

// Plane deduplication tolerances for brush sides.
const (
	planeDotEpsilon  = 0.999
	planeDistEpsilon = 0.01
	zeroNormalLength = 1e-6
)

// BrushSide is one input side of a brush.
type BrushSide struct {
	Plane   Plane
	TexInfo int
	Bevel   bool
}

// BrushFace is a visible polygon of a resolved brush.
type BrushFace struct {
	Plane    Plane
	TexInfo  int
	Material string
	Winding  Winding
}

// BrushSolid is a brush resolved to its visible faces.
type BrushSolid struct {
	Index    int
	Contents int32
	Faces    []BrushFace
}

// filterSides drops bevels, zero-length normals and near duplicates of earlier
// kept planes.
func filterSides(sides []BrushSide) []BrushSide {
	kept := make([]BrushSide, 0, len(sides))
outer:
	for _, s := range sides {
		if s.Bevel || s.Plane.Normal.Length() < zeroNormalLength {
			continue
		}
		for _, k := range kept {
			if s.Plane.NearlyEqual(k.Plane) {
				continue outer
			}
		}
		kept = append(kept, s)
	}
	return kept
}

// ResolveBrush clips a quad seeded on every retained side against all other
// retained sides. The solid lies behind its planes, so each clip keeps the part
// behind the other plane. Fully clipped sides are dropped.
func ResolveBrush(sides []BrushSide) []BrushFace {
	kept := filterSides(sides)
	faces := make([]BrushFace, 0, len(kept))
	for i, s := range kept {
		w := BaseWinding(s.Plane)
		for j, o := range kept {
			if i == j {
				continue
			}
			w = w.Clip(o.Plane.Flip(), OnEpsilon)
			if w == nil {
				break
			}
		}
		if w == nil {
			continue
		}
		w = w.Snap().MergeClose(MinEdgeLength)
		if w == nil {
			continue
		}
		faces = append(faces, BrushFace{Plane: s.Plane, TexInfo: s.TexInfo, Winding: w})
	}
	return faces
}

// ClipToPlanes re-clips w against the given sides the way ResolveBrush does,
// skipping the side the winding was generated from.
func ClipToPlanes(w Winding, self Plane, sides []BrushSide) Winding {
	for _, o := range filterSides(sides) {
		if o.Plane.NearlyEqual(self) {
			continue
		}
		w = w.Clip(o.Plane.Flip(), OnEpsilon)
		if w == nil {
			return nil
		}
	}
	return w
}

// brushSidesOf collects the sides of brush b from the decoded lumps.
func (l *lumps) brushSidesOf(b dbrush) []BrushSide {
	start, n := int(b.FirstSide), int(b.NumSides)
	if start < 0 || n <= 0 || start+n > len(l.brushSides) {
		return nil
	}
	out := make([]BrushSide, 0, n)
	for _, bs := range l.brushSides[start : start+n] {
		if int(bs.PlaneNum) >= len(l.planes) {
			continue
		}
		p := l.planes[bs.PlaneNum]
		// v21 stores bevel and thin as separate bytes
		bevel := bs.Bevel&0xff != 0
		out = append(out, BrushSide{
			Plane:   Plane{Normal: math.V3(p.Normal), Dist: p.Dist},
			TexInfo: int(bs.TexInfo),
			Bevel:   bevel,
		})
	}
	return out
}

// decodeBrushes resolves every brush in the brushes lump.
func (d *decoder) decodeBrushes() {
	lv := d.level
	empty := 0
	for i, b := range d.brushes {
		faces := ResolveBrush(d.brushSidesOf(b))
		if len(faces) == 0 {
			empty++
			continue
		}
		for k := range faces {
			faces[k].Material = lv.materialOf(faces[k].TexInfo)
		}
		lv.Brushes = append(lv.Brushes, BrushSolid{Index: i, Contents: b.Contents, Faces: faces})
	}
	if empty > 0 {
		d.log.Debug("brushes without faces", zap.Int("count", empty))
	}
}
