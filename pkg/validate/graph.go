package validate

import (
	"strings"

	"github.com/samber/lo"

	"github.com/chazu/rapidchiplet/pkg/graph"
)

// ---------------------------------------------------------------------------
// Tier 3: Graph
// ---------------------------------------------------------------------------

// Graph checks that every node is reachable from the first one, which is
// chiplet 0 unless the design places only interposer routers.
func Graph(g *graph.Graph) []Finding {
	unreached := g.Unreached()
	if len(unreached) == 0 {
		return nil
	}
	names := lo.Map(unreached, func(id graph.NodeID, _ int) string { return id.String() })
	return []Finding{finding(TierGraph, "graph-disconnected", "",
		"topology is not connected: %s unreachable from %s", strings.Join(names, ", "), g.Nodes()[0])}
}
