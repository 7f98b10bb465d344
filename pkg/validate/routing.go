package validate

import (
	"fmt"

	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
	"github.com/chazu/rapidchiplet/pkg/routing"
)

// ---------------------------------------------------------------------------
// Tier 4: Routing table
// ---------------------------------------------------------------------------

// Routing checks a routing table against its graph: every entry follows an
// existing edge, only relay-capable nodes forward, every node of a simple
// table has an entry for every destination chiplet, every chiplet can
// inject toward every other chiplet, and every route terminates at its
// destination without looping.
func Routing(g *graph.Graph, tbl *routing.Table) []Finding {
	var out []Finding
	out = append(out, validateEntries(g, tbl)...)
	out = append(out, validateCoverage(g, tbl)...)
	out = append(out, validateRoutes(g, tbl)...)
	return out
}

func entrySubject(e routing.Entry) string {
	if e.Incoming.IsInjected() {
		return fmt.Sprintf("entry %s->%s", e.Node, e.Dst)
	}
	return fmt.Sprintf("entry %s->%s from %s", e.Node, e.Dst, e.Incoming)
}

func validateEntries(g *graph.Graph, tbl *routing.Table) []Finding {
	var out []Finding
	for e := range tbl.Entries() {
		subject := entrySubject(e)
		if !g.Contains(e.Node) || !g.Contains(e.Dst) || !g.Contains(e.Next) {
			out = append(out, finding(TierRouting, "routing-unknown-node", subject, "references a node outside the graph"))
			continue
		}
		if !g.HasEdge(e.Node, e.Next) {
			out = append(out, finding(TierRouting, "routing-missing-edge", subject,
				"next hop %s is not adjacent", e.Next))
		}
		if !e.Incoming.IsInjected() && !g.HasEdge(e.Incoming, e.Node) {
			out = append(out, finding(TierRouting, "routing-missing-edge", subject,
				"incoming %s is not adjacent", e.Incoming))
		}
		if e.Next != e.Dst && !g.CanRelay(e.Next) {
			out = append(out, finding(TierRouting, "routing-relay", subject,
				"next hop %s cannot relay", e.Next))
		}
	}
	return out
}

// validateCoverage requires a simple table entry at every interposer
// router for every destination. Chiplet sources are covered by the
// injection check in validateRoutes. Turn-aware tables only hold entries
// along chosen routes, so they are checked through their routes alone.
func validateCoverage(g *graph.Graph, tbl *routing.Table) []Finding {
	if tbl.Kind() != routing.Simple {
		return nil
	}
	var out []Finding
	for _, n := range g.Nodes() {
		if n.Kind == graph.NodeChiplet {
			continue
		}
		for _, dst := range g.Chiplets() {
			if _, ok := tbl.NextHop(n, dst, graph.Injected); !ok {
				out = append(out, finding(TierRouting, "routing-missing-entry",
					fmt.Sprintf("entry %s->%s", n, dst), "no next hop"))
			}
		}
	}
	return out
}

func validateRoutes(g *graph.Graph, tbl *routing.Table) []Finding {
	var out []Finding
	chiplets := g.Chiplets()
	for _, src := range chiplets {
		for _, dst := range chiplets {
			if src == dst {
				continue
			}
			subject := fmt.Sprintf("route %s->%s", src, dst)
			if _, ok := tbl.NextHop(src, dst, graph.Injected); !ok {
				out = append(out, finding(TierRouting, "routing-missing-injection", subject,
					"no injection entry"))
				continue
			}
			path, err := tbl.Route(src, dst)
			switch {
			case errs.IsStructural(err):
				out = append(out, finding(TierRouting, "routing-loop", subject, "%v", err))
			case errs.IsUnreachable(err):
				out = append(out, finding(TierRouting, "routing-dead-end", subject, "%v", err))
			case err != nil:
				out = append(out, finding(TierRouting, "routing-route", subject, "%v", err))
			default:
				for i := 1; i+1 < len(path); i++ {
					if !g.CanRelay(path[i]) {
						out = append(out, finding(TierRouting, "routing-relay", subject,
							"passes through %s, which cannot relay", path[i]))
					}
				}
			}
		}
	}
	return out
}
