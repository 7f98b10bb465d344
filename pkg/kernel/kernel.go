// Package kernel builds a 3D model of a chiplet package: dies standing on
// an optional interposer slab. Solids are produced behind the Kernel
// interface so the meshing backend can be swapped without touching the
// model.
package kernel

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel is the abstract geometry kernel interface.
type Kernel interface {
	// Box returns a box with its minimum corner at the origin.
	Box(x, y, z float64) Solid
	Union(a, b Solid) Solid
	Translate(s Solid, x, y, z float64) Solid

	// ToMesh tessellates s into triangles.
	ToMesh(s Solid) (*Mesh, error)
}
