package metrics

import (
	"math"

	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/geom"
	"github.com/chazu/rapidchiplet/pkg/graph"
)

// Hop is a directed (from, to) node pair.
type Hop struct {
	From, To graph.NodeID
}

// LinkGeometry holds the physical properties of every topology link, in
// topology order, plus a directed lookup keyed by node pair.
//
// Parallel links between the same two nodes are merged in the lookup: the
// lowest latency wins and bandwidths add up.
type LinkGeometry struct {
	Links      []graph.Link
	Lengths    []float64 // mm
	Latencies  []float64 // cycles, already rounded up
	Bandwidths []float64 // bit/cycle per direction, +Inf between routers

	latency   map[Hop]float64
	bandwidth map[Hop]float64
}

// Latency returns the latency of the link between from and to.
func (lg *LinkGeometry) Latency(from, to graph.NodeID) (float64, bool) {
	v, ok := lg.latency[Hop{from, to}]
	return v, ok
}

// Bandwidth returns the per-direction bandwidth between from and to.
func (lg *LinkGeometry) Bandwidth(from, to graph.NodeID) (float64, bool) {
	v, ok := lg.bandwidth[Hop{from, to}]
	return v, ok
}

// Hops returns both directions of every adjacent node pair.
func (lg *LinkGeometry) Hops() []Hop {
	out := make([]Hop, 0, len(lg.bandwidth))
	seen := make(map[Hop]bool, len(lg.bandwidth))
	for _, l := range lg.Links {
		for _, h := range []Hop{{l.A.Node, l.B.Node}, {l.B.Node, l.A.Node}} {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out
}

func computeLinkGeometry(d *design.Design, g *graph.Graph) (*LinkGeometry, error) {
	links := g.Links()
	lg := &LinkGeometry{
		Links:      links,
		Lengths:    make([]float64, len(links)),
		Latencies:  make([]float64, len(links)),
		Bandwidths: make([]float64, len(links)),
		latency:    make(map[Hop]float64),
		bandwidth:  make(map[Hop]float64),
	}
	pkg := d.Packaging
	if err := pkg.LinkLatency.Check("packaging.link_latency"); err != nil {
		return nil, err
	}
	for i, l := range links {
		pa, err := endpointPosition(d, l.A)
		if err != nil {
			return nil, err
		}
		pb, err := endpointPosition(d, l.B)
		if err != nil {
			return nil, err
		}
		length := geom.Distance(pa, pb, pkg.LinkMetric)
		lat := math.Ceil(pkg.LinkLatency.Eval(length))
		if math.IsNaN(lat) || math.IsInf(lat, 0) {
			return nil, errs.Numeric("metrics.links", "link %d latency is not finite at length %g", i, length)
		}
		bw := math.Inf(1)
		for _, ep := range []graph.Endpoint{l.A, l.B} {
			if b, ok := endpointBandwidth(d, ep); ok {
				bw = math.Min(bw, b)
			}
		}
		bw /= 2

		lg.Lengths[i] = length
		lg.Latencies[i] = lat
		lg.Bandwidths[i] = bw
		for _, h := range []Hop{{l.A.Node, l.B.Node}, {l.B.Node, l.A.Node}} {
			if prev, ok := lg.latency[h]; !ok || lat < prev {
				lg.latency[h] = lat
			}
			lg.bandwidth[h] += bw
		}
	}
	return lg, nil
}

// endpointPosition returns the absolute position of a link endpoint: the
// rotated PHY of a chiplet or the position of an interposer router.
func endpointPosition(d *design.Design, ep graph.Endpoint) (v2.Vec, error) {
	if ep.Node.Kind == graph.NodeIRouter {
		ir := d.Placement.IRouters[ep.Node.Index-len(d.Placement.Chiplets)]
		return v2.Vec{X: ir.Position.X, Y: ir.Position.Y}, nil
	}
	inst := d.Placement.Chiplets[ep.Node.Index]
	ct, ok := d.Catalog[inst.Name]
	if !ok {
		return v2.Vec{}, errs.Config("placement", "chiplet %d has unknown type %q", ep.Node.Index, inst.Name)
	}
	return geom.PHYPosition(ct, inst, ep.Port), nil
}

// endpointBandwidth returns the raw bit/cycle capacity of a chiplet PHY. It
// reports false for interposer router ports, which impose no limit.
func endpointBandwidth(d *design.Design, ep graph.Endpoint) (float64, bool) {
	if ep.Node.Kind != graph.NodeChiplet {
		return 0, false
	}
	ct, _ := d.ChipletType(ep.Node.Index)
	phy := ct.PHYs[ep.Port]
	pkg := d.Packaging
	density := 1 / pkg.BumpPitch
	raw := ct.Dimensions.Area() * (1 - ct.FractionPowerBumps) * phy.FractionBumpArea * density * density
	return math.Floor(raw - pkg.NonDataWires), true
}

// ---------------------------------------------------------------------------
// Link summary
// ---------------------------------------------------------------------------

// Distribution summarizes one per-link quantity. The histogram buckets
// values rounded to three decimals.
type Distribution struct {
	Min       Number         `json:"min"`
	Avg       Number         `json:"avg"`
	Max       Number         `json:"max"`
	Histogram map[string]int `json:"histogram"`
	Values    []Number       `json:"values"`
}

// LinkSummary describes the length and bandwidth distribution of the
// physical links.
type LinkSummary struct {
	Lengths    Distribution `json:"lengths"`
	Bandwidths Distribution `json:"bandwidths"`
}

// Links summarizes link lengths and bandwidths.
func Links(c *Context) (*LinkSummary, error) {
	lg, err := c.linkGeometry()
	if err != nil {
		return nil, err
	}
	if len(lg.Links) == 0 {
		return nil, errs.Numeric("metrics.Links", "design has no links")
	}
	return &LinkSummary{
		Lengths:    distribution(lg.Lengths),
		Bandwidths: distribution(lg.Bandwidths),
	}, nil
}

func distribution(values []float64) Distribution {
	d := Distribution{
		Min:       Number(math.Inf(1)),
		Max:       Number(math.Inf(-1)),
		Histogram: make(map[string]int),
		Values:    make([]Number, len(values)),
	}
	sum := 0.0
	for i, v := range values {
		d.Values[i] = Number(v)
		d.Min = Number(math.Min(float64(d.Min), v))
		d.Max = Number(math.Max(float64(d.Max), v))
		sum += v
		d.Histogram[bucket(v)]++
	}
	d.Avg = Number(sum / float64(len(values)))
	return d
}

// bucket formats v rounded to three decimals.
func bucket(v float64) string {
	b, _ := Number(math.Round(v*1000) / 1000).MarshalJSON()
	if b[0] == '"' {
		return string(b[1 : len(b)-1])
	}
	return string(b)
}
