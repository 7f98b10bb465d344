package validate

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/chazu/rapidchiplet/pkg/design"
)

// ---------------------------------------------------------------------------
// Tier 1: Input parameters
// ---------------------------------------------------------------------------

// Inputs checks the technology table, the chiplet catalog, the packaging
// descriptor, the thermal configuration, and the traffic matrix.
func Inputs(d *design.Design) []Finding {
	var out []Finding
	out = append(out, validateTechnologies(d)...)
	out = append(out, validateChiplets(d)...)
	out = append(out, validatePackaging(d)...)
	out = append(out, validateThermal(d)...)
	out = append(out, validateTraffic(d)...)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func validateTechnologies(d *design.Design) []Finding {
	var out []Finding
	for _, name := range sortedKeys(d.Technologies) {
		tech := d.Technologies[name]
		subject := "technology " + name
		if !(tech.PHYLatency > 0) {
			out = append(out, finding(TierInputs, "technology-phy-latency", subject,
				"phy latency is %g, must be positive", tech.PHYLatency))
		}
		if !(tech.WaferRadius > 0) {
			out = append(out, finding(TierInputs, "technology-wafer-radius", subject,
				"wafer radius is %g, must be positive", tech.WaferRadius))
		}
		if !(tech.WaferCost >= 0) {
			out = append(out, finding(TierInputs, "technology-wafer-cost", subject,
				"wafer cost is %g, must not be negative", tech.WaferCost))
		}
		if !(tech.DefectDensity >= 0 && tech.DefectDensity <= 1) {
			out = append(out, finding(TierInputs, "technology-defect-density", subject,
				"defect density is %g, must be between 0 and 1", tech.DefectDensity))
		}
	}
	return out
}

func validateChiplets(d *design.Design) []Finding {
	var out []Finding
	for _, name := range sortedKeys(d.Catalog) {
		ct := d.Catalog[name]
		subject := "chiplet type " + name
		if !(ct.Dimensions.X > 0 && ct.Dimensions.Y > 0) {
			out = append(out, finding(TierInputs, "chiplet-dimensions", subject,
				"dimensions %gx%g must be positive", ct.Dimensions.X, ct.Dimensions.Y))
		}
		if !design.ValidChipletKinds[ct.Kind] {
			out = append(out, finding(TierInputs, "chiplet-kind", subject,
				"kind %q is not one of compute, memory, io", ct.Kind))
		}
		if _, ok := d.Technologies[ct.Technology]; !ok {
			out = append(out, finding(TierInputs, "chiplet-technology", subject,
				"technology %q is not defined", ct.Technology))
		}
		if !(ct.InternalLatency > 0) {
			out = append(out, finding(TierInputs, "chiplet-internal-latency", subject,
				"internal latency is %g, must be positive", ct.InternalLatency))
		}
		if ct.UnitCount < 1 {
			out = append(out, finding(TierInputs, "chiplet-unit-count", subject,
				"unit count is %d, must be at least 1", ct.UnitCount))
		}
		if !(ct.FractionPowerBumps >= 0 && ct.FractionPowerBumps < 1) {
			out = append(out, finding(TierInputs, "chiplet-power-bumps", subject,
				"fraction of power bumps is %g, must be in [0, 1)", ct.FractionPowerBumps))
		}
		if len(ct.PHYs) == 0 {
			out = append(out, warning(TierInputs, "chiplet-no-phys", subject, "has no PHYs and cannot be linked"))
		}
		share := 0.0
		for i, phy := range ct.PHYs {
			if phy.X < 0 || phy.X > ct.Dimensions.X || phy.Y < 0 || phy.Y > ct.Dimensions.Y {
				out = append(out, finding(TierInputs, "phy-position", subject,
					"phy %d at (%g, %g) lies outside the die", i, phy.X, phy.Y))
			}
			if !(phy.FractionBumpArea > 0 && phy.FractionBumpArea <= 1) {
				out = append(out, finding(TierInputs, "phy-bump-area", subject,
					"phy %d bump area fraction is %g, must be in (0, 1]", i, phy.FractionBumpArea))
			}
			share += phy.FractionBumpArea
		}
		if share > 1+1e-9 {
			out = append(out, warning(TierInputs, "phy-bump-area-total", subject,
				"phys claim %g of the bump area", share))
		}
	}
	return out
}

func validatePackaging(d *design.Design) []Finding {
	const subject = "packaging"
	var out []Finding
	p := d.Packaging

	if p.LinkMetric != design.Manhattan && p.LinkMetric != design.Euclidean {
		out = append(out, finding(TierInputs, "packaging-link-routing", subject,
			"link routing %q is not manhattan or euclidean", p.LinkMetric))
	}
	if err := p.LinkLatency.Check("link_latency"); err != nil {
		out = append(out, finding(TierInputs, "packaging-link-latency", subject, "%v", err))
	} else if p.LinkLatency.IsConstant() {
		v := p.LinkLatency.Value
		if v < 1 || v != math.Trunc(v) {
			out = append(out, finding(TierInputs, "packaging-link-latency", subject,
				"constant link latency %g must be an integer of at least 1", v))
		}
	}
	if err := p.LinkPower.Check("link_power"); err != nil {
		out = append(out, finding(TierInputs, "packaging-link-power", subject, "%v", err))
	}
	if !(p.PackagingYield > 0 && p.PackagingYield <= 1) {
		out = append(out, finding(TierInputs, "packaging-yield", subject,
			"packaging yield %g must be in (0, 1]", p.PackagingYield))
	}
	if !(p.BumpPitch > 0) {
		out = append(out, finding(TierInputs, "packaging-bump-pitch", subject,
			"bump pitch %g must be positive", p.BumpPitch))
	}
	if p.NonDataWires < 0 {
		out = append(out, finding(TierInputs, "packaging-non-data-wires", subject,
			"non-data wires %g must not be negative", p.NonDataWires))
	}
	if p.IsActive {
		if p.LatencyIRouter < 0 {
			out = append(out, finding(TierInputs, "packaging-irouter-latency", subject,
				"interposer router latency %g must not be negative", p.LatencyIRouter))
		}
		if p.PowerIRouter < 0 {
			out = append(out, finding(TierInputs, "packaging-irouter-power", subject,
				"interposer router power %g must not be negative", p.PowerIRouter))
		}
	}
	if p.IsActive && !p.HasInterposer {
		out = append(out, finding(TierInputs, "packaging-active-without-interposer", subject,
			"an active interposer requires has_interposer"))
	}
	if p.HasInterposer {
		if p.InterposerTechnology == "" {
			out = append(out, finding(TierInputs, "packaging-interposer-technology", subject,
				"packages with an interposer must name its technology"))
		} else if _, ok := d.Technologies[p.InterposerTechnology]; !ok {
			out = append(out, finding(TierInputs, "packaging-interposer-technology", subject,
				"interposer technology %q is not defined", p.InterposerTechnology))
		}
	}
	if len(d.Placement.IRouters) > 0 && !p.HasInterposer {
		out = append(out, warning(TierInputs, "packaging-irouters-without-interposer", subject,
			"placement has %d interposer routers but no interposer", len(d.Placement.IRouters)))
	}
	return out
}

func validateThermal(d *design.Design) []Finding {
	const subject = "thermal"
	var out []Finding
	th := d.ThermalConfig()
	if !(th.KT < 0.25) {
		out = append(out, finding(TierInputs, "thermal-k-t", subject,
			"k_t is %g, must be below 0.25 for a stable simulation", th.KT))
	}
	if !(th.Resolution > 0) {
		out = append(out, finding(TierInputs, "thermal-resolution", subject,
			"resolution %g must be positive", th.Resolution))
	}
	if th.IterationLimit < 0 {
		out = append(out, finding(TierInputs, "thermal-iteration-limit", subject,
			"iteration limit %d must not be negative", th.IterationLimit))
	}
	coefficients := []struct {
		name string
		v    float64
	}{{"k_c", th.KC}, {"k_i", th.KI}, {"k_s", th.KS}, {"k_hs", th.KHS}}
	for _, c := range coefficients {
		if c.v < 0 {
			out = append(out, finding(TierInputs, "thermal-coefficient", subject,
				"%s is %g, must not be negative", c.name, c.v))
		}
	}
	return out
}

func validateTraffic(d *design.Design) []Finding {
	var out []Finding
	n := len(d.Placement.Chiplets)
	for p, rate := range d.Traffic {
		subject := fmt.Sprintf("flow %d.%d->%d.%d", p.Src.Chiplet, p.Src.Unit, p.Dst.Chiplet, p.Dst.Unit)
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			out = append(out, finding(TierInputs, "traffic-rate", subject, "rate %g must be finite and not negative", rate))
		}
		for _, u := range []struct{ chiplet, unit int }{{p.Src.Chiplet, p.Src.Unit}, {p.Dst.Chiplet, p.Dst.Unit}} {
			if u.chiplet < 0 || u.chiplet >= n {
				out = append(out, finding(TierInputs, "traffic-chiplet", subject, "chiplet %d is not placed", u.chiplet))
				continue
			}
			ct, ok := d.ChipletType(u.chiplet)
			if ok && (u.unit < 0 || u.unit >= ct.UnitCount) {
				out = append(out, finding(TierInputs, "traffic-unit", subject,
					"chiplet %d has no unit %d", u.chiplet, u.unit))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}
