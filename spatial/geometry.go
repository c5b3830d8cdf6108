package spatial

import (
	"fmt"
	"math"
)

// Point is a position on the network plane.
type Point struct {
	X, Y float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// A BoundingBox is a closed axis-aligned rectangle.
type BoundingBox struct {
	Min, Max Point
}

// Box creates a bounding box from its corners.
func Box(minX, minY, maxX, maxY float64) BoundingBox {
	return BoundingBox{Min: Point{minX, minY}, Max: Point{maxX, maxY}}
}

// BoxAround returns the square of the given half size centered at p.
func BoxAround(p Point, halfSize float64) BoundingBox {
	return Box(p.X-halfSize, p.Y-halfSize, p.X+halfSize, p.Y+halfSize)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%v-%v]", b.Min, b.Max)
}

// IsEmpty tells whether the box contains no point.
func (b BoundingBox) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y
}

// Width returns the extent along X.
func (b BoundingBox) Width() float64 {
	return b.Max.X - b.Min.X
}

// Height returns the extent along Y.
func (b BoundingBox) Height() float64 {
	return b.Max.Y - b.Min.Y
}

// Area returns the area of the box.
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the middle of the box.
func (b BoundingBox) Center() Point {
	return Point{(b.Min.X + b.Max.X) / 2, (b.Min.Y + b.Max.Y) / 2}
}

// ContainsPoint tells whether p lies in the box, borders included.
func (b BoundingBox) ContainsPoint(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Intersects tells whether two boxes share at least one point.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y
}

// Extend returns the smallest box that encloses b and p.
func (b BoundingBox) Extend(p Point) BoundingBox {
	return BoundingBox{
		Min: Point{math.Min(b.Min.X, p.X), math.Min(b.Min.Y, p.Y)},
		Max: Point{math.Max(b.Max.X, p.X), math.Max(b.Max.Y, p.Y)},
	}
}

// Union returns the smallest box that encloses both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return b.Extend(o.Min).Extend(o.Max)
}

type axis int

const (
	axisX axis = iota
	axisY
)

func (a axis) of(p Point) float64 {
	if a == axisX {
		return p.X
	}

	return p.Y
}

func (b BoundingBox) longerAxis() axis {
	if b.Height() > b.Width() {
		return axisY
	}

	return axisX
}

// cut splits b at value v along a. Both halves keep the cut line.
func (b BoundingBox) cut(a axis, v float64) (BoundingBox, BoundingBox) {
	low, high := b, b

	if a == axisX {
		low.Max.X = v
		high.Min.X = v
	} else {
		low.Max.Y = v
		high.Min.Y = v
	}

	return low, high
}
