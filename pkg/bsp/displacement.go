package bsp

import (
	"errors"
	"fmt"

	"github.com/Faultbox/srcforge/pkg/math"
)

// Displacement errors.
var (
	ErrDispNotQuad  = errors.New("displacement base face is not a quad")
	ErrDispVertices = errors.New("displacement vertices out of range")
	ErrDispPower    = errors.New("invalid displacement power")
)

// DispInfo describes a displacement surface.
type DispInfo struct {
	StartPosition math.Vec3
	DispVertStart int
	Power         int
	MapFace       int
	Contents      int32
}

// DispVert is one grid offset of a displacement.
type DispVert struct {
	Vec   math.Vec3
	Dist  float32
	Alpha float32
}

// Displacement is a tessellated displacement surface. Grid point (row, col)
// is stored at row*Size+col.
type Displacement struct {
	Face      int
	Power     int
	Size      int
	Positions []math.Vec3
	Normals   []math.Vec3
	UVs       []math.Vec2
	Alphas    []float32
	Indices   []uint32 // clockwise triangles, as level faces
}

// GridSize returns the number of points per side for a power.
func GridSize(power int) int {
	return 1<<uint(power) + 1
}

// lerp3 returns a*(1-t) + b*t, exact at both ends.
func lerp3(a, b math.Vec3, t float32) math.Vec3 {
	return a.Scale(1 - t).Add(b.Scale(t))
}

func lerp2(a, b math.Vec2, t float32) math.Vec2 {
	return a.Scale(1 - t).Add(b.Scale(t))
}

// Tessellate expands a four-corner base face into a displacement grid.
// corners and uvs follow the face's vertex order; normal is the face normal.
func Tessellate(corners []math.Vec3, uvs []math.Vec2, normal math.Vec3, info DispInfo, verts []DispVert) (*Displacement, error) {
	if len(corners) != 4 || len(uvs) != 4 {
		return nil, fmt.Errorf("%w: %d corners", ErrDispNotQuad, len(corners))
	}
	if info.Power < 2 || info.Power > 4 {
		return nil, fmt.Errorf("%w: %d", ErrDispPower, info.Power)
	}
	n := GridSize(info.Power)
	if info.DispVertStart < 0 || info.DispVertStart+n*n > len(verts) {
		return nil, fmt.Errorf("%w: %d+%d of %d", ErrDispVertices, info.DispVertStart, n*n, len(verts))
	}

	// Rotate so the corner nearest the start position comes first.
	first := 0
	best := corners[0].Distance(info.StartPosition)
	for i := 1; i < 4; i++ {
		if d := corners[i].Distance(info.StartPosition); d < best {
			first, best = i, d
		}
	}
	var c [4]math.Vec3
	var t [4]math.Vec2
	for i := 0; i < 4; i++ {
		c[i] = corners[(first+i)%4]
		t[i] = uvs[(first+i)%4]
	}

	d := &Displacement{
		Power:     info.Power,
		Size:      n,
		Positions: make([]math.Vec3, n*n),
		Normals:   make([]math.Vec3, n*n),
		UVs:       make([]math.Vec2, n*n),
		Alphas:    make([]float32, n*n),
	}

	step := 1 / float32(n-1)
	for i := 0; i < n; i++ {
		fi := float32(i) * step
		if i == n-1 {
			fi = 1
		}
		end0 := lerp3(c[0], c[1], fi)
		end1 := lerp3(c[3], c[2], fi)
		uv0 := lerp2(t[0], t[1], fi)
		uv1 := lerp2(t[3], t[2], fi)
		for j := 0; j < n; j++ {
			fj := float32(j) * step
			if j == n-1 {
				fj = 1
			}
			k := i*n + j
			dv := verts[info.DispVertStart+k]
			d.Positions[k] = lerp3(end0, end1, fj).Add(dv.Vec.Scale(dv.Dist))
			d.UVs[k] = lerp2(uv0, uv1, fj)
			d.Alphas[k] = dv.Alpha
		}
	}

	d.computeNormals(normal)
	d.buildIndices()
	return d, nil
}

// computeNormals accumulates area-weighted cell normals, each flipped to agree
// with the coarse face normal, and normalizes per point.
func (d *Displacement) computeNormals(coarse math.Vec3) {
	n := d.Size
	acc := make([]math.Vec3, n*n)
	for i := 0; i < n-1; i++ {
		for j := 0; j < n-1; j++ {
			a := i*n + j
			b := a + 1
			c := a + n + 1
			e := a + n
			pa := d.Positions[a]
			cell := d.Positions[b].Sub(pa).Cross(d.Positions[e].Sub(pa))
			cell = cell.Add(d.Positions[e].Sub(d.Positions[c]).Cross(d.Positions[b].Sub(d.Positions[c])))
			if cell.Dot(coarse) < 0 {
				cell = cell.Neg()
			}
			acc[a] = acc[a].Add(cell)
			acc[b] = acc[b].Add(cell)
			acc[c] = acc[c].Add(cell)
			acc[e] = acc[e].Add(cell)
		}
	}
	for k, v := range acc {
		if v.IsZero() {
			d.Normals[k] = coarse
			continue
		}
		d.Normals[k] = v.Normalize()
	}
}

// buildIndices emits two triangles per cell with the diagonal alternating
// between neighbouring cells.
func (d *Displacement) buildIndices() {
	n := d.Size
	d.Indices = make([]uint32, 0, (n-1)*(n-1)*6)
	for i := 0; i < n-1; i++ {
		for j := 0; j < n-1; j++ {
			a := uint32(i*n + j)
			b := a + 1
			e := a + uint32(n)
			c := e + 1
			if (i+j)%2 == 0 {
				d.Indices = append(d.Indices, a, c, b, a, e, c)
			} else {
				d.Indices = append(d.Indices, a, e, b, b, e, c)
			}
		}
	}
}
