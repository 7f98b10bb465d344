package metrics

import (
	"math"

	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
)

// LinkLoad is the offered load and resulting throughput bound of one
// directed link.
type LinkLoad struct {
	From       graph.NodeID `json:"from"`
	To         graph.NodeID `json:"to"`
	Load       float64      `json:"load"`
	Bandwidth  Number       `json:"bandwidth"`
	Throughput Number       `json:"throughput"`
}

// Throughput is the saturation estimate: the most loaded link relative to
// its bandwidth bounds the fraction of the offered load the network
// sustains, scaled to the total offered load.
type Throughput struct {
	Aggregate Number     `json:"aggregate_throughput"`
	Links     []LinkLoad `json:"links"`
}

// ThroughputSummary accumulates each pair's rate on the directed links of
// its route and reports the bottleneck.
func ThroughputSummary(c *Context) (*Throughput, error) {
	const op = "metrics.Throughput"
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
	hops := lg.Hops()
	if len(hops) == 0 {
		return nil, errs.Numeric(op, "design has no links")
	}

	loads := make(map[Hop]float64, len(hops))
	for _, h := range hops {
		loads[h] = 0
	}
	for _, p := range c.Traffic.Pairs() {
		rate := c.Traffic[p]
		if rate <= 0 {
			continue
		}
		path, err := c.route(p)
		if err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(path); i++ {
			h := Hop{path[i], path[i+1]}
			if _, ok := loads[h]; !ok {
				return nil, errs.Structural(op, "route %d->%d uses missing link %s-%s", p.Src, p.Dst, h.From, h.To)
			}
			loads[h] += rate
		}
	}

	out := &Throughput{Links: make([]LinkLoad, 0, len(hops))}
	bottleneck := math.Inf(1)
	for _, h := range hops {
		bw, _ := lg.Bandwidth(h.From, h.To)
		tp := math.Inf(1)
		if loads[h] > 0 {
			tp = bw / loads[h]
		}
		bottleneck = math.Min(bottleneck, tp)
		out.Links = append(out.Links, LinkLoad{
			From: h.From, To: h.To,
			Load:       loads[h],
			Bandwidth:  Number(bw),
			Throughput: Number(tp),
		})
	}
	out.Aggregate = Number(bottleneck * total)
	return out, nil
}
