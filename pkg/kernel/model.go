package kernel

import (
	"fmt"

	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/geom"
)

// ModelOptions sets the vertical dimensions of the package model in mm.
type ModelOptions struct {
	ChipletHeight    float64
	InterposerHeight float64
	// IRouterSize is the edge of the square pad drawn for each interposer
	// router.
	IRouterSize float64
	// Margin is the interposer overhang around the placement.
	Margin float64
}

// DefaultModelOptions returns the dimensions used by the CLI.
func DefaultModelOptions() ModelOptions {
	return ModelOptions{ChipletHeight: 0.5, InterposerHeight: 0.2, IRouterSize: 0.5, Margin: 0.5}
}

// BuildPackage models the placement of d: one box per chiplet footprint,
// standing on an interposer slab when the package has one. Interposer
// routers are drawn as pads on the slab, half as tall as they are wide.
func BuildPackage(k Kernel, d *design.Design, opt ModelOptions) (Solid, error) {
	if len(d.Placement.Chiplets) == 0 {
		return nil, fmt.Errorf("kernel: design %q has no chiplets", d.Name)
	}
	if opt.ChipletHeight <= 0 {
		return nil, fmt.Errorf("kernel: chiplet height must be positive, got %g", opt.ChipletHeight)
	}

	boxes := make([]sdf.Box2, 0, len(d.Placement.Chiplets))
	for i, inst := range d.Placement.Chiplets {
		ct, ok := d.Catalog[inst.Name]
		if !ok {
			return nil, fmt.Errorf("kernel: chiplet %d: unknown type %q", i, inst.Name)
		}
		boxes = append(boxes, geom.Place(ct, inst).BoundingBox())
	}
	points := make([]v2.Vec, 0, len(d.Placement.IRouters))
	for _, r := range d.Placement.IRouters {
		points = append(points, v2.Vec{X: r.Position.X, Y: r.Position.Y})
	}

	var base float64
	var model Solid
	add := func(s Solid) {
		if model == nil {
			model = s
			return
		}
		model = k.Union(model, s)
	}

	if d.Packaging.HasInterposer {
		bounds, _ := geom.Bounds(boxes, points)
		size := bounds.Size()
		slab := k.Box(size.X+2*opt.Margin, size.Y+2*opt.Margin, opt.InterposerHeight)
		add(k.Translate(slab, bounds.Min.X-opt.Margin, bounds.Min.Y-opt.Margin, 0))
		base = opt.InterposerHeight
	}

	for _, b := range boxes {
		size := b.Size()
		add(k.Translate(k.Box(size.X, size.Y, opt.ChipletHeight), b.Min.X, b.Min.Y, base))
	}

	if opt.IRouterSize > 0 {
		half := opt.IRouterSize / 2
		for _, p := range points {
			pad := k.Box(opt.IRouterSize, opt.IRouterSize, half)
			add(k.Translate(pad, p.X-half, p.Y-half, base))
		}
	}
	return model, nil
}
