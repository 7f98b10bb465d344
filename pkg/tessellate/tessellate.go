// Package tessellate rasterizes a placement onto a regular grid of cells
// covering the package. Each cell accumulates the temperature increase per
// step injected by the chiplets and interposer routers above it; the grid is
// the input of the thermal relaxation.
package tessellate

import (
	"fmt"
	"math"

	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/geom"
)

// Grid is a Rows x Cols raster. Row 0 is at the bottom (lowest y) of the
// covered box and column 0 at its left edge.
type Grid struct {
	Rows, Cols int
	Origin     v2.Vec // lower-left corner of cell (0, 0)
	Cell       v2.Vec // cell width and height
	Values     [][]float64
}

// NewGrid covers bounds with cells no larger than resolution. A degenerate
// box still yields at least one cell.
func NewGrid(bounds sdf.Box2, resolution float64) (*Grid, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("tessellate: resolution must be positive, got %g", resolution)
	}
	size := bounds.Size()
	rows := max(1, int(math.Ceil(size.Y/resolution)))
	cols := max(1, int(math.Ceil(size.X/resolution)))
	cell := v2.Vec{X: size.X / float64(cols), Y: size.Y / float64(rows)}
	if cell.X == 0 {
		cell.X = resolution
	}
	if cell.Y == 0 {
		cell.Y = resolution
	}
	g := &Grid{Rows: rows, Cols: cols, Origin: bounds.Min, Cell: cell}
	g.Values = make([][]float64, rows)
	for r := range g.Values {
		g.Values[r] = make([]float64, cols)
	}
	return g, nil
}

// Center returns the center point of cell (r, c).
func (g *Grid) Center(r, c int) v2.Vec {
	return v2.Vec{
		X: g.Origin.X + (float64(c)+0.5)*g.Cell.X,
		Y: g.Origin.Y + (float64(r)+0.5)*g.Cell.Y,
	}
}

// CellOf returns the cell containing p, clamped to the grid.
func (g *Grid) CellOf(p v2.Vec) (r, c int) {
	r = int(math.Floor((p.Y - g.Origin.Y) / g.Cell.Y))
	c = int(math.Floor((p.X - g.Origin.X) / g.Cell.X))
	return clamp(r, 0, g.Rows-1), clamp(c, 0, g.Cols-1)
}

// Paint adds v to every cell whose center lies inside s and returns the
// number of cells painted. Only cells under the bounding box of s are
// evaluated.
func (g *Grid) Paint(s sdf.SDF2, v float64) int {
	bb := s.BoundingBox()
	r0, c0 := g.CellOf(bb.Min)
	r1, c1 := g.CellOf(bb.Max)
	n := 0
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			if s.Evaluate(g.Center(r, c)) < 0 {
				g.Values[r][c] += v
				n++
			}
		}
	}
	return n
}

// Add adds v to the cell containing p.
func (g *Grid) Add(p v2.Vec, v float64) {
	r, c := g.CellOf(p)
	g.Values[r][c] += v
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	out := *g
	out.Values = make([][]float64, g.Rows)
	for r := range g.Values {
		out.Values[r] = append([]float64(nil), g.Values[r]...)
	}
	return &out
}

// Tessellate rasterizes the placement of d over the given bounds. Each
// chiplet adds power/area * k_c to the cells it covers; each interposer
// router of an active interposer adds power_irouter * k_i to the cell under
// its position.
func Tessellate(d *design.Design, bounds sdf.Box2, th design.Thermal) (*Grid, error) {
	g, err := NewGrid(bounds, th.Resolution)
	if err != nil {
		return nil, err
	}
	for i, inst := range d.Placement.Chiplets {
		if err := handleChiplet(g, d, inst, th); err != nil {
			return nil, fmt.Errorf("tessellate: chiplet %d: %w", i, err)
		}
	}
	if d.Packaging.IsActive {
		for _, ir := range d.Placement.IRouters {
			handleIRouter(g, d, ir, th)
		}
	}
	return g, nil
}

// handleChiplet paints one chiplet footprint.
func handleChiplet(g *Grid, d *design.Design, inst design.ChipletInstance, th design.Thermal) error {
	ct, ok := d.Catalog[inst.Name]
	if !ok {
		return fmt.Errorf("unknown chiplet type %q", inst.Name)
	}
	area := ct.Dimensions.Area()
	if area <= 0 {
		return fmt.Errorf("chiplet type %q has no area", inst.Name)
	}
	fp := geom.Place(ct, inst)
	g.Paint(fp, ct.Power/area*th.KC)
	return nil
}

// handleIRouter adds one interposer router's heat to a single cell.
func handleIRouter(g *Grid, d *design.Design, ir design.IRouterInstance, th design.Thermal) {
	g.Add(v2.Vec{X: ir.Position.X, Y: ir.Position.Y}, d.Packaging.PowerIRouter*th.KI)
}

func clamp(x, lo, hi int) int {
	return min(max(x, lo), hi)
}
