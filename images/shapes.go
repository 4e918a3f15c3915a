// Package images - Image processing utilities
package images

import (
	"image"

	"github.com/chewxy/math32"
)

// Rect is a floating-point bounding box in pixel coordinates.
type Rect struct {
	// X1,Y1 is the top-left corner, X2,Y2 the bottom-right corner.
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// Width returns X2 - X1.
func (r Rect) Width() float32 {
	return r.X2 - r.X1
}

// Height returns Y2 - Y1.
func (r Rect) Height() float32 {
	return r.Y2 - r.Y1
}

// Area returns the area of the box. Inverted boxes yield a non-positive area.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// Center returns the center point of the box.
func (r Rect) Center() (float32, float32) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// ToRectangle converts the box to an image.Rectangle, truncating fractional pixels.
func (r Rect) ToRectangle() image.Rectangle {
	return image.Rect(int(r.X1), int(r.Y1), int(r.X2), int(r.Y2)).Canon()
}

// FromRectangle converts an image.Rectangle to a Rect.
func FromRectangle(r image.Rectangle) Rect {
	return Rect{
		X1: float32(r.Min.X),
		Y1: float32(r.Min.Y),
		X2: float32(r.Max.X),
		Y2: float32(r.Max.Y),
	}
}

// Clamp restricts the box to [0, width-1] x [0, height-1] and keeps X1 <= X2, Y1 <= Y2.
//
// NaN coordinates are treated as 0.
//
// Arguments:
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//
// Returns:
//   - The clamped box.
func (r Rect) Clamp(width, height int) Rect {
	maxX := float32(width - 1)
	maxY := float32(height - 1)

	x1 := clampCoord(r.X1, maxX)
	y1 := clampCoord(r.Y1, maxY)
	x2 := clampCoord(r.X2, maxX)
	y2 := clampCoord(r.Y2, maxY)

	return Rect{
		X1: x1,
		Y1: y1,
		X2: math32.Max(x1, x2),
		Y2: math32.Max(y1, y2),
	}
}

func clampCoord(v, hi float32) float32 {
	if math32.IsNaN(v) || v < 0 {
		return 0
	}
	if hi < 0 {
		return 0
	}
	return math32.Min(v, hi)
}

// Overlap returns the length of the overlap between two 1D segments given as
// center and length. A negative value means the segments are disjoint.
//
// Arguments:
//   - c1, w1: Center and length of the first segment.
//   - c2, w2: Center and length of the second segment.
//
// Returns:
//   - min(c1+w1/2, c2+w2/2) - max(c1-w1/2, c2-w2/2).
func Overlap(c1, w1, c2, w2 float32) float32 {
	left := math32.Max(c1-w1/2, c2-w2/2)
	right := math32.Min(c1+w1/2, c2+w2/2)
	return right - left
}

// Intersection returns the intersection area of two boxes.
//
// Each axis is measured on the center/size form of the boxes. When either
// axis overlap is negative the boxes do not intersect and 0 is returned.
func Intersection(a, b Rect) float32 {
	acx, acy := a.Center()
	bcx, bcy := b.Center()

	w := Overlap(acx, a.Width(), bcx, b.Width())
	h := Overlap(acy, a.Height(), bcy, b.Height())
	if w < 0 || h < 0 {
		return 0
	}
	return w * h
}

// Union returns area(a) + area(b) - intersection(a, b).
func Union(a, b Rect) float32 {
	return a.Area() + b.Area() - Intersection(a, b)
}

// CalculateIoU (Intersection over Union) measures how much two boxes overlap.
//
//	IoU = Area of Intersection / Area of Union
//
//	- 1.0 means the boxes are identical.
//	- 0.0 means the boxes do not overlap.
//
// Degenerate inputs whose union is zero (or negative, for inverted boxes)
// have no defined IoU; they report 0 instead of dividing by zero.
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - float32: The IoU score.
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(a, b Rect) float32 {
	inter := Intersection(a, b)
	union := a.Area() + b.Area() - inter
	if union <= 0 || math32.IsNaN(union) {
		return 0
	}
	return inter / union
}
