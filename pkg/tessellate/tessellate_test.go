package tessellate_test

import (
	"math"
	"testing"

	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/design/designtest"
	"github.com/chazu/rapidchiplet/pkg/geom"
	"github.com/chazu/rapidchiplet/pkg/tessellate"
)

// makeBounds returns the box from (x0, y0) to (x1, y1).
func makeBounds(x0, y0, x1, y1 float64) sdf.Box2 {
	return sdf.Box2{Min: v2.Vec{X: x0, Y: y0}, Max: v2.Vec{X: x1, Y: y1}}
}

func sum(g *tessellate.Grid) float64 {
	s := 0.0
	for _, row := range g.Values {
		for _, v := range row {
			s += v
		}
	}
	return s
}

func TestNewGridDimensions(t *testing.T) {
	g, err := tessellate.NewGrid(makeBounds(0, 0, 5, 2.5), 1)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	if g.Rows != 3 || g.Cols != 5 {
		t.Errorf("grid = %dx%d, want 3x5", g.Rows, g.Cols)
	}
	if math.Abs(g.Cell.Y-2.5/3) > 1e-12 || g.Cell.X != 1 {
		t.Errorf("cell = %v", g.Cell)
	}
}

func TestNewGridDegenerate(t *testing.T) {
	g, err := tessellate.NewGrid(makeBounds(2, 2, 2, 2), 1)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	if g.Rows != 1 || g.Cols != 1 {
		t.Errorf("grid = %dx%d, want 1x1", g.Rows, g.Cols)
	}
	if _, err := tessellate.NewGrid(makeBounds(0, 0, 1, 1), 0); err == nil {
		t.Error("expected error for zero resolution")
	}
}

func TestCellOfClamps(t *testing.T) {
	g, _ := tessellate.NewGrid(makeBounds(0, 0, 4, 4), 1)
	tests := []struct {
		p    v2.Vec
		r, c int
	}{
		{v2.Vec{X: 0.5, Y: 0.5}, 0, 0},
		{v2.Vec{X: 3.5, Y: 1.2}, 1, 3},
		{v2.Vec{X: 4, Y: 4}, 3, 3},
		{v2.Vec{X: -1, Y: 9}, 3, 0},
	}
	for _, tt := range tests {
		r, c := g.CellOf(tt.p)
		if r != tt.r || c != tt.c {
			t.Errorf("CellOf(%v) = (%d, %d), want (%d, %d)", tt.p, r, c, tt.r, tt.c)
		}
	}
}

func TestPaintFootprint(t *testing.T) {
	g, _ := tessellate.NewGrid(makeBounds(0, 0, 4, 4), 1)
	fp := geom.NewFootprint(v2.Vec{X: 1, Y: 1}, v2.Vec{X: 2, Y: 2})
	if n := g.Paint(fp, 0.5); n != 4 {
		t.Fatalf("painted %d cells, want 4", n)
	}
	if g.Values[1][1] != 0.5 || g.Values[2][2] != 0.5 || g.Values[0][0] != 0 || g.Values[3][3] != 0 {
		t.Errorf("unexpected values %v", g.Values)
	}
}

func TestTessellateGrid(t *testing.T) {
	d := designtest.Grid(2, 2)
	th := design.DefaultThermal()
	bounds := makeBounds(0, 0, designtest.Pitch+designtest.Size, designtest.Pitch+designtest.Size)

	g, err := tessellate.Tessellate(d, bounds, th)
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	if g.Rows != 5 || g.Cols != 5 {
		t.Fatalf("grid = %dx%d", g.Rows, g.Cols)
	}
	// Each 2x2 chiplet covers 4 unit cells with power/area * k_c.
	ct := d.Catalog["relay"]
	per := ct.Power / ct.Dimensions.Area() * th.KC
	if got, want := sum(g), 4*4*per; math.Abs(got-want) > 1e-9 {
		t.Errorf("total heat = %g, want %g", got, want)
	}
	// The gap column between chiplets stays cold.
	for r := 0; r < g.Rows; r++ {
		if g.Values[r][2] != 0 {
			t.Errorf("gap cell (%d, 2) = %g", r, g.Values[r][2])
		}
	}
}

func TestTessellateIRouterHeat(t *testing.T) {
	d := designtest.IRouterStar(2)
	th := design.DefaultThermal()
	bounds := makeBounds(0, 0, 5, 6)

	active, err := tessellate.Tessellate(d, bounds, th)
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	d.Packaging.IsActive = false
	passive, err := tessellate.Tessellate(d, bounds, th)
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	diff := sum(active) - sum(passive)
	if want := d.Packaging.PowerIRouter * th.KI; math.Abs(diff-want) > 1e-12 {
		t.Errorf("router heat = %g, want %g", diff, want)
	}
}

func TestTessellateUnknownType(t *testing.T) {
	d := designtest.Line(2)
	d.Placement.Chiplets[1].Name = "ghost"
	if _, err := tessellate.Tessellate(d, makeBounds(0, 0, 5, 2), design.DefaultThermal()); err == nil {
		t.Fatal("expected error for unknown chiplet type")
	}
}

func TestClone(t *testing.T) {
	g, _ := tessellate.NewGrid(makeBounds(0, 0, 2, 2), 1)
	c := g.Clone()
	c.Values[0][0] = 7
	if g.Values[0][0] != 0 {
		t.Error("Clone shares storage")
	}
}
