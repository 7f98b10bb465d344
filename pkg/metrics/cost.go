package metrics

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/errs"
)

// DieCost is the manufacturing cost of one die design.
type DieCost struct {
	DiesPerWafer       int     `json:"dies_per_wafer"`
	ManufacturingYield float64 `json:"manufacturing_yield"`
	KnownGoodDies      float64 `json:"known_good_dies"`
	Cost               float64 `json:"cost"`
}

// Cost is the manufacturing cost of one working package.
type Cost struct {
	TotalCost      float64            `json:"total_cost"`
	PerChiplet     map[string]DieCost `json:"cost_per_chiplet"`
	Interposer     *DieCost           `json:"cost_interposer,omitempty"`
	PackagingYield float64            `json:"packaging_yield"`
}

// CostSummary prices every chiplet type in the placement and the
// interposer, when there is one, and divides the sum by the packaging
// yield.
func CostSummary(c *Context) (*Cost, error) {
	const op = "metrics.Cost"
	d := c.Design

	py := d.Packaging.PackagingYield
	if py <= 0 {
		return nil, errs.Numeric(op, "packaging yield is %g", py)
	}
	out := &Cost{PerChiplet: make(map[string]DieCost), PackagingYield: py}

	names := lo.Uniq(lo.Map(d.Placement.Chiplets, func(inst design.ChipletInstance, _ int) string {
		return inst.Name
	}))
	sort.Strings(names)
	for _, name := range names {
		ct, ok := d.Catalog[name]
		if !ok {
			return nil, errs.Config("placement", "unknown chiplet type %q", name)
		}
		tech, ok := d.Technologies[ct.Technology]
		if !ok {
			return nil, errs.Config("chiplets."+name, "unknown technology %q", ct.Technology)
		}
		dc, err := dieCost(tech, ct.Dimensions.Area())
		if err != nil {
			return nil, errs.Numeric(op, "chiplet type %q: %v", name, err)
		}
		out.PerChiplet[name] = dc
	}

	sum := 0.0
	for _, inst := range d.Placement.Chiplets {
		sum += out.PerChiplet[inst.Name].Cost
	}

	if d.Packaging.HasInterposer {
		tech, ok := d.Technologies[d.Packaging.InterposerTechnology]
		if !ok {
			return nil, errs.Config("packaging.interposer_technology", "unknown technology %q", d.Packaging.InterposerTechnology)
		}
		area, err := c.areaSummary()
		if err != nil {
			return nil, err
		}
		dc, err := dieCost(tech, area.TotalInterposerArea)
		if err != nil {
			return nil, errs.Numeric(op, "interposer: %v", err)
		}
		out.Interposer = &dc
		sum += dc.Cost
	}

	out.TotalCost = sum / py
	return out, nil
}

// dieCost applies the dies-per-wafer and yield models to a die of the
// given area.
func dieCost(tech design.Technology, area float64) (DieCost, error) {
	if area <= 0 {
		return DieCost{}, errs.Numeric("dieCost", "die area is %g", area)
	}
	r := tech.WaferRadius
	dpw := math.Floor(math.Pi*r*r/area - 2*math.Pi*r/math.Sqrt(2*area))
	yield := 1 / (1 + tech.DefectDensity*area)
	kgd := dpw * yield
	if kgd <= 0 {
		return DieCost{}, errs.Numeric("dieCost", "no known good dies per wafer (area %g mm²)", area)
	}
	return DieCost{
		DiesPerWafer:       int(dpw),
		ManufacturingYield: yield,
		KnownGoodDies:      kgd,
		Cost:               tech.WaferCost / kgd,
	}, nil
}
