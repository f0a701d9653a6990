package bsp

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/srcforge/pkg/math"
)

// Clipping and cleanup tolerances.
const (
	// OnEpsilon is the half-width of the band treated as lying on a plane.
	OnEpsilon = 0.1
	// SnapEpsilon snaps coordinates this close to an integer.
	SnapEpsilon = 0.01
	// MinEdgeLength merges consecutive points closer than this.
	MinEdgeLength = 0.1
	// MaxCoord is the half-size of the quad seeded from a plane.
	MaxCoord = 65536
)

type side int8

const (
	sideFront side = iota
	sideBack
	sideOn
)

// Winding is a convex polygon as an ordered point loop.
type Winding []math.Vec3

// BaseWinding returns a quad of half-size MaxCoord lying on p. Its points run
// clockwise when viewed from the front of the plane.
func BaseWinding(p Plane) Winding {
	n := p.Normal
	ax, ay, az := math32.Abs(n.X), math32.Abs(n.Y), math32.Abs(n.Z)

	up := math.Vec3{Z: 1}
	if az >= ax && az >= ay {
		up = math.Vec3{X: 1}
	}
	up = up.Sub(n.Scale(up.Dot(n))).Normalize()
	right := up.Cross(n)

	org := n.Scale(p.Dist)
	up = up.Scale(MaxCoord)
	right = right.Scale(MaxCoord)

	return Winding{
		org.Sub(right).Add(up),
		org.Add(right).Add(up),
		org.Add(right).Sub(up),
		org.Sub(right).Sub(up),
	}
}

// Clip keeps the part of w in front of p (front and on points). It returns w
// unchanged when nothing lies behind p and nil when nothing lies in front.
func (w Winding) Clip(p Plane, epsilon float32) Winding {
	if len(w) == 0 {
		return nil
	}
	dists := make([]float64, len(w)+1)
	sides := make([]side, len(w)+1)
	var front, back int
	for i, v := range w {
		d := float64(p.Normal.X)*float64(v.X) + float64(p.Normal.Y)*float64(v.Y) +
			float64(p.Normal.Z)*float64(v.Z) - float64(p.Dist)
		dists[i] = d
		switch {
		case d > float64(epsilon):
			sides[i] = sideFront
			front++
		case d < -float64(epsilon):
			sides[i] = sideBack
			back++
		default:
			sides[i] = sideOn
		}
	}
	dists[len(w)] = dists[0]
	sides[len(w)] = sides[0]

	if back == 0 {
		return w
	}
	if front == 0 {
		return nil
	}

	normal := [3]float64{float64(p.Normal.X), float64(p.Normal.Y), float64(p.Normal.Z)}
	out := make(Winding, 0, len(w)+4)
	for i, p1 := range w {
		switch sides[i] {
		case sideOn:
			out = append(out, p1)
			continue
		case sideFront:
			out = append(out, p1)
		}
		if sides[i+1] == sideOn || sides[i+1] == sides[i] {
			continue
		}

		p2 := w[(i+1)%len(w)]
		t := dists[i] / (dists[i] - dists[i+1])
		a := [3]float64{float64(p1.X), float64(p1.Y), float64(p1.Z)}
		b := [3]float64{float64(p2.X), float64(p2.Y), float64(p2.Z)}
		var mid [3]float32
		for j := 0; j < 3; j++ {
			// axial planes put the split point exactly on the plane
			switch normal[j] {
			case 1:
				mid[j] = p.Dist
			case -1:
				mid[j] = -p.Dist
			default:
				mid[j] = float32(a[j] + t*(b[j]-a[j]))
			}
		}
		out = append(out, math.V3(mid))
	}
	return out
}

// Snap moves coordinates within SnapEpsilon of an integer onto it.
func (w Winding) Snap() Winding {
	out := make(Winding, len(w))
	for i, v := range w {
		out[i] = math.Vec3{X: snap(v.X), Y: snap(v.Y), Z: snap(v.Z)}
	}
	return out
}

func snap(x float32) float32 {
	r := math32.Floor(x + 0.5)
	if math32.Abs(x-r) < SnapEpsilon {
		return r
	}
	return x
}

// MergeClose drops points closer than minDist to the previously kept point,
// including the wrap from last to first. Fewer than three points yield nil.
func (w Winding) MergeClose(minDist float32) Winding {
	out := make(Winding, 0, len(w))
	for _, v := range w {
		if len(out) > 0 && out[len(out)-1].Distance(v) < minDist {
			continue
		}
		out = append(out, v)
	}
	for len(out) > 1 && out[len(out)-1].Distance(out[0]) < minDist {
		out = out[:len(out)-1]
	}
	if len(out) < 3 {
		return nil
	}
	return out
}

// Normal returns the polygon normal following the point order (Newell's method).
func (w Winding) Normal() math.Vec3 {
	var n math.Vec3
	for i, a := range w {
		b := w[(i+1)%len(w)]
		n.X += (a.Y - b.Y) * (a.Z + b.Z)
		n.Y += (a.Z - b.Z) * (a.X + b.X)
		n.Z += (a.X - b.X) * (a.Y + b.Y)
	}
	return n.Normalize()
}

// Area returns the polygon area.
func (w Winding) Area() float32 {
	if len(w) < 3 {
		return 0
	}
	var total math.Vec3
	for i := 1; i+1 < len(w); i++ {
		total = total.Add(w[i].Sub(w[0]).Cross(w[i+1].Sub(w[0])))
	}
	return total.Length() * 0.5
}

// Center returns the mean of the points.
func (w Winding) Center() math.Vec3 {
	var c math.Vec3
	for _, v := range w {
		c = c.Add(v)
	}
	if len(w) == 0 {
		return c
	}
	return c.Scale(1 / float32(len(w)))
}

// IsConvex reports whether every turn of the loop bends the same way
// relative to normal, allowing collinear points.
func (w Winding) IsConvex(normal math.Vec3, epsilon float32) bool {
	if len(w) < 3 {
		return false
	}
	sign := 0
	for i := range w {
		a := w[i]
		b := w[(i+1)%len(w)]
		c := w[(i+2)%len(w)]
		turn := b.Sub(a).Cross(c.Sub(b)).Dot(normal)
		switch {
		case turn > epsilon:
			if sign < 0 {
				return false
			}
			sign = 1
		case turn < -epsilon:
			if sign > 0 {
				return false
			}
			sign = -1
		}
	}
	return sign != 0
}
