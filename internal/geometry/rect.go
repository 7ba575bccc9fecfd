// Package geometry implements the rotated-rectangle math and the spatial
// index used by the site-map store. Everything here is pure and allocation
// light; callers own synchronisation.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// Epsilon absorbs floating point noise from rotating corners.
const Epsilon = 1e-9

// Point is a canvas coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Rect is a rectangle positioned by the top-left corner of its unrotated box.
// Rotation is in degrees, clockwise on a y-down canvas, about the centre.
type Rect struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
}

// AABB is an axis-aligned envelope.
type AABB struct {
	MinX, MinY, MaxX, MaxY float64
}

// Overlaps reports whether a and b share a region of positive area.
func (a AABB) Overlaps(b AABB) bool {
	return a.MaxX > b.MinX+Epsilon && b.MaxX > a.MinX+Epsilon &&
		a.MaxY > b.MinY+Epsilon && b.MaxY > a.MinY+Epsilon
}

var ErrInvalidRect = errors.New("invalid rectangle")

// Validate rejects degenerate or non-finite rectangles.
func (r Rect) Validate() error {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height, r.Rotation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidRect)
		}
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive", ErrInvalidRect)
	}
	return nil
}

// Center returns the rotation pivot.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// axes returns the unit vectors along the rectangle's width and height.
func (r Rect) axes() (u, v Point) {
	if r.Rotation == 0 {
		return Point{X: 1}, Point{Y: 1}
	}
	rad := r.Rotation * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return Point{X: cos, Y: sin}, Point{X: -sin, Y: cos}
}

// Corners returns the rotated corners in clockwise order starting at the
// (unrotated) top-left.
func (r Rect) Corners() [4]Point {
	if r.Rotation == 0 {
		return [4]Point{
			{r.X, r.Y},
			{r.X + r.Width, r.Y},
			{r.X + r.Width, r.Y + r.Height},
			{r.X, r.Y + r.Height},
		}
	}
	c := r.Center()
	u, v := r.axes()
	hw, hh := r.Width/2, r.Height/2
	at := func(sx, sy float64) Point {
		return Point{
			X: c.X + u.X*sx*hw + v.X*sy*hh,
			Y: c.Y + u.Y*sx*hw + v.Y*sy*hh,
		}
	}
	return [4]Point{at(-1, -1), at(1, -1), at(1, 1), at(-1, 1)}
}

// Envelope returns the axis-aligned bounding box of the rotated rectangle.
func (r Rect) Envelope() AABB {
	cs := r.Corners()
	box := AABB{MinX: cs[0].X, MinY: cs[0].Y, MaxX: cs[0].X, MaxY: cs[0].Y}
	for _, p := range cs[1:] {
		box.MinX = math.Min(box.MinX, p.X)
		box.MinY = math.Min(box.MinY, p.Y)
		box.MaxX = math.Max(box.MaxX, p.X)
		box.MaxY = math.Max(box.MaxY, p.Y)
	}
	return box
}

// Area returns width*height; rotation does not change it.
func (r Rect) Area() float64 { return r.Width * r.Height }

func project(cs [4]Point, axis Point) (lo, hi float64) {
	lo = cs[0].X*axis.X + cs[0].Y*axis.Y
	hi = lo
	for _, p := range cs[1:] {
		d := p.X*axis.X + p.Y*axis.Y
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

// Intersects reports whether a and b overlap with positive area, using the
// separating axis theorem over both rectangles' edge directions. Rectangles
// that only touch along an edge or corner do not intersect.
func Intersects(a, b Rect) bool {
	if !a.Envelope().Overlaps(b.Envelope()) {
		return false
	}
	ca, cb := a.Corners(), b.Corners()
	au, av := a.axes()
	bu, bv := b.axes()
	for _, axis := range [4]Point{au, av, bu, bv} {
		aLo, aHi := project(ca, axis)
		bLo, bHi := project(cb, axis)
		if aHi <= bLo+Epsilon || bHi <= aLo+Epsilon {
			return false
		}
	}
	return true
}

// ContainsPoint reports whether p lies inside or on the edge of r.
func ContainsPoint(r Rect, p Point) bool {
	c := r.Center()
	u, v := r.axes()
	dx, dy := p.X-c.X, p.Y-c.Y
	lx := dx*u.X + dy*u.Y
	ly := dx*v.X + dy*v.Y
	return math.Abs(lx) <= r.Width/2+Epsilon && math.Abs(ly) <= r.Height/2+Epsilon
}

// Contains reports whether all four corners of inner fall inside outer.
func Contains(outer, inner Rect) bool {
	for _, p := range inner.Corners() {
		if !ContainsPoint(outer, p) {
			return false
		}
	}
	return true
}

// WithinCanvas reports whether r's envelope lies inside [0,0]-[width,height].
func WithinCanvas(r Rect, width, height float64) bool {
	box := r.Envelope()
	return box.MinX >= -Epsilon && box.MinY >= -Epsilon &&
		box.MaxX <= width+Epsilon && box.MaxY <= height+Epsilon
}

// PointWithinCanvas is the point form of WithinCanvas.
func PointWithinCanvas(p Point, width, height float64) bool {
	return p.X >= -Epsilon && p.Y >= -Epsilon && p.X <= width+Epsilon && p.Y <= height+Epsilon
}

// Segment returns the thin rectangle spanning a and b; used to index
// line-shaped annotations.
func Segment(a, b Point) Rect {
	minX, maxX := math.Min(a.X, b.X), math.Max(a.X, b.X)
	minY, maxY := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	return Rect{X: minX, Y: minY, Width: math.Max(maxX-minX, 1), Height: math.Max(maxY-minY, 1)}
}
