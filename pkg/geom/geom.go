// Package geom computes chiplet footprints and PHY positions on the package
// substrate. Footprints are sdfx 2D signed distance fields so callers can
// both intersect their bounding boxes and rasterize them by evaluation.
package geom

import (
	"math"

	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/rapidchiplet/pkg/design"
)

// snapEps absorbs the rounding noise of 90-degree rotation matrices.
const snapEps = 1e-9

// Footprint is the axis-aligned rectangle occupied by a placed chiplet.
// It implements sdf.SDF2: Evaluate is negative inside, zero on the border.
type Footprint struct {
	box sdf.Box2
}

// NewFootprint returns the rectangle with lower-left corner pos and the
// given size.
func NewFootprint(pos, size v2.Vec) Footprint {
	return Footprint{box: sdf.Box2{Min: pos, Max: pos.Add(size)}}
}

// Evaluate returns the signed distance from p to the rectangle border.
func (f Footprint) Evaluate(p v2.Vec) float64 {
	half := f.box.Size().MulScalar(0.5)
	c := f.box.Min.Add(half)
	dx := math.Abs(p.X-c.X) - half.X
	dy := math.Abs(p.Y-c.Y) - half.Y
	outside := math.Hypot(math.Max(dx, 0), math.Max(dy, 0))
	inside := math.Min(math.Max(dx, dy), 0)
	return outside + inside
}

// BoundingBox returns the rectangle itself.
func (f Footprint) BoundingBox() sdf.Box2 {
	return f.box
}

// Area returns the footprint area in mm².
func (f Footprint) Area() float64 {
	s := f.box.Size()
	return s.X * s.Y
}

var _ sdf.SDF2 = Footprint{}

// quarterTurns normalizes a rotation in degrees to 0..3 quarter turns.
func quarterTurns(rotation int) int {
	return ((rotation/90)%4 + 4) % 4
}

// RotatedSize returns the chiplet dimensions after rotation. Odd quarter
// turns swap width and height.
func RotatedSize(dim design.Dimensions, rotation int) v2.Vec {
	if quarterTurns(rotation)%2 == 1 {
		return v2.Vec{X: dim.Y, Y: dim.X}
	}
	return v2.Vec{X: dim.X, Y: dim.Y}
}

// rotation returns the matrix mapping unrotated chiplet-local coordinates to
// rotated chiplet-local coordinates. The chiplet turns counter-clockwise
// about its center and its lower-left corner stays at the local origin.
func rotation(dim design.Dimensions, degrees int) sdf.M33 {
	turns := quarterTurns(degrees)
	c := v2.Vec{X: dim.X / 2, Y: dim.Y / 2}
	cn := RotatedSize(dim, degrees).MulScalar(0.5)
	return sdf.Translate2d(cn).
		Mul(sdf.Rotate2d(float64(turns) * math.Pi / 2)).
		Mul(sdf.Translate2d(v2.Vec{X: -c.X, Y: -c.Y}))
}

// Place returns the footprint of a placed chiplet instance.
func Place(ct design.ChipletType, inst design.ChipletInstance) Footprint {
	pos := v2.Vec{X: inst.Position.X, Y: inst.Position.Y}
	return NewFootprint(pos, RotatedSize(ct.Dimensions, inst.Rotation))
}

// RotatePHY returns the chiplet-local position of PHY p after rotating the
// chiplet by the given number of degrees.
func RotatePHY(ct design.ChipletType, p design.PHY, degrees int) v2.Vec {
	local := v2.Vec{X: p.X, Y: p.Y}
	if quarterTurns(degrees) == 0 {
		return local
	}
	return snap(rotation(ct.Dimensions, degrees).MulPosition(local))
}

// PHYPosition returns the absolute position of PHY index phy of a placed
// chiplet. The caller guarantees phy is in range.
func PHYPosition(ct design.ChipletType, inst design.ChipletInstance, phy int) v2.Vec {
	local := RotatePHY(ct, ct.PHYs[phy], inst.Rotation)
	return local.Add(v2.Vec{X: inst.Position.X, Y: inst.Position.Y})
}

// Distance measures the link length between two points.
func Distance(a, b v2.Vec, metric design.LinkMetric) float64 {
	d := a.Sub(b)
	if metric == design.Euclidean {
		return d.Length()
	}
	return math.Abs(d.X) + math.Abs(d.Y)
}

// Overlap reports whether two boxes share interior area. Boxes that only
// touch along an edge do not overlap.
func Overlap(a, b sdf.Box2) bool {
	return a.Min.X < b.Max.X-snapEps && b.Min.X < a.Max.X-snapEps &&
		a.Min.Y < b.Max.Y-snapEps && b.Min.Y < a.Max.Y-snapEps
}

// Bounds returns the smallest box enclosing all boxes and points. It returns
// false when both lists are empty.
func Bounds(boxes []sdf.Box2, points []v2.Vec) (sdf.Box2, bool) {
	var out sdf.Box2
	first := true
	add := func(b sdf.Box2) {
		if first {
			out, first = b, false
			return
		}
		out = out.Extend(b)
	}
	for _, b := range boxes {
		add(b)
	}
	for _, p := range points {
		add(sdf.Box2{Min: p, Max: p})
	}
	return out, !first
}

func snap(v v2.Vec) v2.Vec {
	return v2.Vec{X: snapValue(v.X), Y: snapValue(v.Y)}
}

func snapValue(x float64) float64 {
	r := math.Round(x)
	if math.Abs(x-r) < snapEps {
		return r
	}
	return x
}
