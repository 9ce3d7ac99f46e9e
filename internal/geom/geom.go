package geom

import (
	"github.com/chewxy/math32"
)

// Point is a 2D position in frame coordinates (pixel or normalised units;
// the pipeline never converts, it only compares).
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Box is an axis-aligned bounding box with top-left origin.
type Box struct {
	X float32 `json:"x"` // Left edge
	Y float32 `json:"y"` // Top edge
	W float32 `json:"w"` // Width
	H float32 `json:"h"` // Height
}

// Line is a counting line defined by two endpoints. The endpoint order
// matters: it fixes the line's direction vector (A→B) and therefore which
// crossing direction is "positive". The positive normal is the direction
// vector rotated 90° counter-clockwise.
type Line struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

// Side identifies which half-plane of a counting line a point lies in.
type Side int8

const (
	SideUnknown Side = iota // On the line, or no observation yet
	SideBefore              // Negative half-plane (against the normal)
	SideAfter               // Positive half-plane (along the normal)
)

func (s Side) String() string {
	switch s {
	case SideBefore:
		return "before"
	case SideAfter:
		return "after"
	default:
		return "unknown"
	}
}

// Direction is the signed sense of a line crossing.
type Direction string

const (
	DirectionPositive Direction = "positive" // Motion along the line normal
	DirectionNegative Direction = "negative" // Motion against the line normal
)

// Area returns the box area; degenerate boxes have zero area.
func (b Box) Area() float32 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Centroid returns the box centre point.
func (b Box) Centroid() Point {
	return Point{X: b.X + b.W/2, Y: b.Y + b.H/2}
}

// IoU computes intersection-over-union of two boxes in [0, 1].
// Disjoint or degenerate boxes yield 0.
func IoU(a, b Box) float32 {
	left := math32.Max(a.X, b.X)
	top := math32.Max(a.Y, b.Y)
	right := math32.Min(a.X+a.W, b.X+b.W)
	bottom := math32.Min(a.Y+a.H, b.Y+b.H)

	if right <= left || bottom <= top {
		return 0
	}
	inter := (right - left) * (bottom - top)

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float32 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math32.Sqrt(dx*dx + dy*dy)
}

// cross returns the z component of (B-A) × (p-A): positive when p lies on
// the counter-clockwise (normal) side of the line, negative on the other.
func cross(l Line, p Point) float32 {
	dx := l.B.X - l.A.X
	dy := l.B.Y - l.A.Y
	return dx*(p.Y-l.A.Y) - dy*(p.X-l.A.X)
}

// SideOfLine reports which half-plane of l the point p lies in. Points
// exactly on the (infinite) line report SideUnknown.
func SideOfLine(p Point, l Line) Side {
	c := cross(l, p)
	switch {
	case c > 0:
		return SideAfter
	case c < 0:
		return SideBefore
	default:
		return SideUnknown
	}
}

// Crossed reports whether the motion segment prev→curr crosses the line
// segment l, and in which direction. It uses an exact segment-segment
// intersection test rather than a side comparison alone, so a centroid
// that jumps across the line in a single step (missed frames) is still
// detected, while motion that changes side far beyond the line segment's
// extent is not.
//
// The direction is positive when the motion has a component along the
// line's positive normal (A→B rotated 90° counter-clockwise).
func Crossed(prev, curr Point, l Line) (Direction, bool) {
	// Side of the infinite line for both endpoints of the motion segment.
	d1 := cross(l, prev)
	d2 := cross(l, curr)

	// No strict side change, no crossing. A point exactly on the line
	// belongs to neither side, so a segment that merely ends (or starts)
	// on the line reports nothing here; callers keep their last off-line
	// position and re-test from it once the point moves off the line.
	if d1*d2 >= 0 {
		return "", false
	}

	// The motion straddles the infinite line; now require the intersection
	// to fall within the counting segment itself.
	motion := Line{A: prev, B: curr}
	d3 := cross(motion, l.A)
	d4 := cross(motion, l.B)
	if d3*d4 > 0 {
		return "", false
	}

	// Direction from the motion vector projected onto the line normal.
	// Normal = direction vector rotated 90° CCW: (-dy, dx).
	nx := -(l.B.Y - l.A.Y)
	ny := l.B.X - l.A.X
	mx := curr.X - prev.X
	my := curr.Y - prev.Y
	if nx*mx+ny*my >= 0 {
		return DirectionPositive, true
	}
	return DirectionNegative, true
}
