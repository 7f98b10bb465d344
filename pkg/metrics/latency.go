package metrics

import (
	"math"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
	"github.com/chazu/rapidchiplet/pkg/routing"
	"github.com/chazu/rapidchiplet/pkg/traffic"
)

// nodeLatencies holds, per graph slot, the cycles spent entering or leaving
// the network at a chiplet and the cycles spent relaying through a node.
type nodeLatencies struct {
	endpoint []float64
	relay    []float64
}

func computeNodeLatencies(d *design.Design, g *graph.Graph) (*nodeLatencies, error) {
	nl := &nodeLatencies{
		endpoint: make([]float64, g.Len()),
		relay:    make([]float64, g.Len()),
	}
	for i := 0; i < g.NumChiplets(); i++ {
		ct, ok := d.ChipletType(i)
		if !ok {
			return nil, errs.Config("placement", "chiplet %d has unknown type", i)
		}
		tech, ok := d.Technologies[ct.Technology]
		if !ok {
			return nil, errs.Config("chiplets."+ct.Name, "unknown technology %q", ct.Technology)
		}
		nl.endpoint[i] = ct.InternalLatency + tech.PHYLatency
		nl.relay[i] = tech.PHYLatency + ct.InternalLatency + tech.PHYLatency
	}
	for _, id := range g.IRouters() {
		nl.relay[id.Index] = d.Packaging.LatencyIRouter
	}
	return nl, nil
}

// PairLatency is the zero-load latency of one communicating chiplet pair.
type PairLatency struct {
	Src     int     `json:"src"`
	Dst     int     `json:"dst"`
	Rate    float64 `json:"rate"`
	Hops    int     `json:"hops"`
	Latency float64 `json:"latency"`
}

// Latency summarizes zero-load packet latency in cycles. Avg is weighted by
// the offered rate of each pair.
type Latency struct {
	Avg   float64       `json:"avg"`
	Min   float64       `json:"min"`
	Max   float64       `json:"max"`
	Pairs []PairLatency `json:"pairs"`
}

// LatencySummary routes every communicating chiplet pair through the table
// and sums the cycles spent at the endpoints, on links, and in relays. One
// cycle each is charged for entering the network, leaving it, and
// delivery.
func LatencySummary(c *Context) (*Latency, error) {
	const op = "metrics.Latency"
	if c.Table == nil {
		return nil, errs.Precondition(op, "no routing table")
	}
	total := c.Traffic.Total()
	if total <= 0 {
		return nil, errs.Numeric(op, "total traffic is %g", total)
	}
	lg, err := c.linkGeometry()
	if err != nil {
		return nil, err
	}
	nl, err := c.nodeLatencies()
	if err != nil {
		return nil, err
	}

	out := &Latency{Min: math.Inf(1), Max: math.Inf(-1)}
	weighted := 0.0
	for _, p := range c.Traffic.Pairs() {
		rate := c.Traffic[p]
		if rate <= 0 {
			continue
		}
		path, err := c.route(p)
		if err != nil {
			return nil, err
		}
		lat, err := pathLatency(path, lg, nl)
		if err != nil {
			return nil, err
		}
		out.Pairs = append(out.Pairs, PairLatency{Src: p.Src, Dst: p.Dst, Rate: rate, Hops: path.Hops(), Latency: lat})
		out.Min = math.Min(out.Min, lat)
		out.Max = math.Max(out.Max, lat)
		weighted += rate * lat
	}
	out.Avg = weighted / total
	return out, nil
}

// route returns the table path of a chiplet pair.
func (c *Context) route(p traffic.ChipletPair) (routing.Path, error) {
	n := c.Graph.NumChiplets()
	if p.Src < 0 || p.Src >= n || p.Dst < 0 || p.Dst >= n {
		return nil, errs.Config("traffic", "flow %d->%d references a missing chiplet", p.Src, p.Dst)
	}
	return c.Table.Route(graph.Chiplet(p.Src), graph.Chiplet(p.Dst))
}

func pathLatency(path routing.Path, lg *LinkGeometry, nl *nodeLatencies) (float64, error) {
	src, dst := path[0], path[len(path)-1]
	lat := 1 + nl.endpoint[src.Index]
	for i := 0; i+1 < len(path); i++ {
		cur, next := path[i], path[i+1]
		ll, ok := lg.Latency(cur, next)
		if !ok {
			return 0, errs.Structural("metrics.Latency", "route %s->%s uses missing link %s-%s", src, dst, cur, next)
		}
		lat += ll
		if next != dst {
			lat += nl.relay[next.Index]
		}
	}
	return lat + nl.endpoint[dst.Index] + 1 + 1, nil
}
