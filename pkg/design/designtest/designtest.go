// Package designtest builds small reference designs for tests.
package designtest

import (
	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/traffic"
)

// Chiplet geometry shared by the fixtures: a 2x2 mm die with one PHY in the
// middle of each edge, placed on a 3 mm pitch.
const (
	Size  = 2.0
	Pitch = 3.0
)

// PHY indices of the fixture chiplet.
const (
	East = iota
	North
	West
	South
)

// Tech is the technology node name used by the fixtures.
const Tech = "7nm"

// Technology returns the fixture technology parameters.
func Technology() design.Technology {
	return design.Technology{PHYLatency: 2, WaferRadius: 150, WaferCost: 10000, DefectDensity: 0.001}
}

// ChipletType returns the fixture chiplet type.
func ChipletType(name string, relay bool) design.ChipletType {
	return design.ChipletType{
		Name:       name,
		Kind:       design.KindCompute,
		Technology: Tech,
		Dimensions: design.Dimensions{X: Size, Y: Size},
		PHYs: []design.PHY{
			{X: Size, Y: Size / 2, FractionBumpArea: 0.25},
			{X: Size / 2, Y: Size, FractionBumpArea: 0.25},
			{X: 0, Y: Size / 2, FractionBumpArea: 0.25},
			{X: Size / 2, Y: 0, FractionBumpArea: 0.25},
		},
		Relay:              relay,
		UnitCount:          1,
		InternalLatency:    3,
		Power:              4,
		FractionPowerBumps: 0.5,
	}
}

// base returns a design with the fixture technology and catalog.
func base(name string) *design.Design {
	d := design.New(name)
	d.Technologies[Tech] = Technology()
	d.Catalog["relay"] = ChipletType("relay", true)
	d.Catalog["leaf"] = ChipletType("leaf", false)
	return d
}

// ChipletLink connects PHY pa of chiplet a to PHY pb of chiplet b.
func ChipletLink(a, pa, b, pb int) design.Link {
	return design.Link{
		A: design.Endpoint{Kind: design.EndpointChiplet, Instance: a, Port: pa},
		B: design.Endpoint{Kind: design.EndpointChiplet, Instance: b, Port: pb},
	}
}

// IRouterLink connects PHY pa of chiplet a to port pr of interposer router r.
func IRouterLink(a, pa, r, pr int) design.Link {
	return design.Link{
		A: design.Endpoint{Kind: design.EndpointChiplet, Instance: a, Port: pa},
		B: design.Endpoint{Kind: design.EndpointIRouter, Instance: r, Port: pr},
	}
}

// Grid returns a rows x cols mesh of relay chiplets. Chiplet r*cols+c sits
// at (c*Pitch, r*Pitch). Horizontal links join East to West PHYs and
// vertical links join North to South PHYs.
func Grid(rows, cols int) *design.Design {
	d := base("grid")
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d.Placement.Chiplets = append(d.Placement.Chiplets, design.ChipletInstance{
				Name:     "relay",
				Position: design.Position{X: float64(c) * Pitch, Y: float64(r) * Pitch},
			})
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if c+1 < cols {
				d.Topology = append(d.Topology, ChipletLink(i, East, i+1, West))
			}
			if r+1 < rows {
				d.Topology = append(d.Topology, ChipletLink(i, North, i+cols, South))
			}
		}
	}
	return d
}

// Line returns n relay chiplets in a row joined East to West.
func Line(n int) *design.Design {
	return Grid(1, n)
}

// Star returns a hub relay chiplet 0 with non-relay leaves 1..leaves
// attached to its PHYs, East first.
func Star(leaves int) *design.Design {
	d := base("star")
	d.Placement.Chiplets = []design.ChipletInstance{{Name: "relay", Position: design.Position{X: Pitch, Y: Pitch}}}
	offsets := []design.Position{{X: 2 * Pitch, Y: Pitch}, {X: Pitch, Y: 2 * Pitch}, {X: 0, Y: Pitch}, {X: Pitch, Y: 0}}
	opposite := []int{West, South, East, North}
	for i := 0; i < leaves && i < 4; i++ {
		d.Placement.Chiplets = append(d.Placement.Chiplets, design.ChipletInstance{Name: "leaf", Position: offsets[i]})
		d.Topology = append(d.Topology, ChipletLink(0, i, i+1, opposite[i]))
	}
	return d
}

// IRouterStar returns n relay chiplets in a row, each linked by its North
// PHY to one port of a single interposer router placed above them.
func IRouterStar(n int) *design.Design {
	d := base("irouter-star")
	for i := 0; i < n; i++ {
		d.Placement.Chiplets = append(d.Placement.Chiplets, design.ChipletInstance{
			Name:     "relay",
			Position: design.Position{X: float64(i) * Pitch},
		})
		d.Topology = append(d.Topology, IRouterLink(i, North, 0, i))
	}
	d.Placement.IRouters = []design.IRouterInstance{{Position: design.Position{X: 1, Y: 2 * Pitch}, Ports: n}}
	d.Packaging.HasInterposer = true
	d.Packaging.IsActive = true
	d.Packaging.InterposerTechnology = Tech
	d.Packaging.LatencyIRouter = 1
	d.Packaging.PowerIRouter = 0.5
	return d
}

// AllToAll sets one packet per cycle between every ordered pair of distinct
// chiplets, one unit each.
func AllToAll(d *design.Design) {
	d.Traffic = make(traffic.UnitMatrix)
	n := len(d.Placement.Chiplets)
	for s := 0; s < n; s++ {
		for t := 0; t < n; t++ {
			if s != t {
				d.Traffic[traffic.Pair{Src: traffic.UnitID{Chiplet: s}, Dst: traffic.UnitID{Chiplet: t}}] = 1
			}
		}
	}
}
