package metrics

import (
	"github.com/chazu/rapidchiplet/pkg/errs"
)

// Power breaks down the package power in W.
type Power struct {
	TotalPower           float64 `json:"total_power"`
	TotalChipletPower    float64 `json:"total_chiplet_power"`
	TotalInterposerPower float64 `json:"total_interposer_power"`
	TotalLinkPower       float64 `json:"total_link_power"`
}

// PowerSummary adds up chiplet power, the power of the interposer routers
// of an active interposer, and the power of every physical link.
func PowerSummary(c *Context) (*Power, error) {
	d := c.Design
	p := &Power{}
	for i, inst := range d.Placement.Chiplets {
		ct, ok := d.Catalog[inst.Name]
		if !ok {
			return nil, errs.Config("placement", "chiplet %d has unknown type %q", i, inst.Name)
		}
		p.TotalChipletPower += ct.Power
	}
	if d.Packaging.IsActive {
		p.TotalInterposerPower = float64(len(d.Placement.IRouters)) * d.Packaging.PowerIRouter
	}

	lp := d.Packaging.LinkPower
	if err := lp.Check("packaging.link_power"); err != nil {
		return nil, err
	}
	lg, err := c.linkGeometry()
	if err != nil {
		return nil, err
	}
	for _, length := range lg.Lengths {
		p.TotalLinkPower += lp.Eval(length)
	}
	p.TotalPower = p.TotalChipletPower + p.TotalInterposerPower + p.TotalLinkPower
	return p, nil
}
