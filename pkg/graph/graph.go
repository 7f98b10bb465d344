package graph

import (
	"sort"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/errs"
)

// Graph is the immutable interconnect graph. Accessors return copies.
type Graph struct {
	nodes       []Node
	numChiplets int
	links       []Link
	edges       map[[2]NodeID]bool
}

// Build constructs the graph from a catalog, a placement and a topology.
// It fails with a structural error when a link references a missing node,
// an unknown chiplet type, or an out-of-range port, or when a (node, port)
// is used by more than one link.
func Build(catalog design.Catalog, placement design.Placement, topology design.Topology) (*Graph, error) {
	const op = "graph.Build"

	c, r := len(placement.Chiplets), len(placement.IRouters)
	g := &Graph{
		nodes:       make([]Node, c+r),
		numChiplets: c,
		edges:       make(map[[2]NodeID]bool),
	}
	ports := make([]int, c+r)
	for i, inst := range placement.Chiplets {
		ct, ok := catalog[inst.Name]
		if !ok {
			return nil, errs.Structural(op, "chiplet %d has unknown type %q", i, inst.Name)
		}
		g.nodes[i] = Node{ID: Chiplet(i), Relay: ct.Relay}
		ports[i] = len(ct.PHYs)
	}
	for j, ir := range placement.IRouters {
		g.nodes[c+j] = Node{ID: NodeID{Kind: NodeIRouter, Index: c + j}, Relay: true}
		ports[c+j] = ir.Ports
	}

	used := make(map[Endpoint]int)
	for li, l := range topology {
		var ends [2]Endpoint
		for k, ep := range []design.Endpoint{l.A, l.B} {
			e, err := g.resolve(ep)
			if err != nil {
				return nil, errs.Structural(op, "link %d: %v", li, err)
			}
			if e.Port < 0 || e.Port >= ports[e.Node.Index] {
				return nil, errs.Structural(op, "link %d: %s has no port %d", li, e.Node, e.Port)
			}
			if prev, dup := used[e]; dup {
				return nil, errs.Structural(op, "link %d: port %s already used by link %d", li, e, prev)
			}
			used[e] = li
			ends[k] = e
		}
		a, b := ends[0].Node, ends[1].Node
		if a == b {
			return nil, errs.Structural(op, "link %d connects %s to itself", li, a)
		}
		g.links = append(g.links, Link{A: ends[0], B: ends[1]})
		if !g.edges[[2]NodeID{a, b}] {
			g.edges[[2]NodeID{a, b}] = true
			g.edges[[2]NodeID{b, a}] = true
			g.nodes[a.Index].Neighbors = append(g.nodes[a.Index].Neighbors, b)
			g.nodes[b.Index].Neighbors = append(g.nodes[b.Index].Neighbors, a)
		}
	}

	for i := range g.nodes {
		nb := g.nodes[i].Neighbors
		sort.Slice(nb, func(x, y int) bool { return nb[x].Less(nb[y]) })
	}
	return g, nil
}

// resolve maps a topology endpoint to a graph endpoint.
func (g *Graph) resolve(ep design.Endpoint) (Endpoint, error) {
	switch ep.Kind {
	case design.EndpointChiplet:
		if ep.Instance < 0 || ep.Instance >= g.numChiplets {
			return Endpoint{}, errs.Structural("resolve", "chiplet %d out of range", ep.Instance)
		}
		return Endpoint{Node: Chiplet(ep.Instance), Port: ep.Port}, nil
	case design.EndpointIRouter:
		if ep.Instance < 0 || ep.Instance >= len(g.nodes)-g.numChiplets {
			return Endpoint{}, errs.Structural("resolve", "interposer router %d out of range", ep.Instance)
		}
		return Endpoint{Node: g.IRouter(ep.Instance), Port: ep.Port}, nil
	}
	return Endpoint{}, errs.Structural("resolve", "unknown endpoint type %q", ep.Kind)
}

// IRouter returns the ID of the j-th interposer router of the placement.
func (g *Graph) IRouter(j int) NodeID {
	return NodeID{Kind: NodeIRouter, Index: g.numChiplets + j}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// NumChiplets returns the number of chiplet nodes.
func (g *Graph) NumChiplets() int {
	return g.numChiplets
}

// Chiplets returns the chiplet IDs in index order.
func (g *Graph) Chiplets() []NodeID {
	out := make([]NodeID, g.numChiplets)
	for i := range out {
		out[i] = Chiplet(i)
	}
	return out
}

// IRouters returns the interposer router IDs in index order.
func (g *Graph) IRouters() []NodeID {
	out := make([]NodeID, 0, len(g.nodes)-g.numChiplets)
	for _, n := range g.nodes[g.numChiplets:] {
		out = append(out, n.ID)
	}
	return out
}

// Nodes returns all node IDs, chiplets first.
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.ID
	}
	return out
}

// Contains reports whether id names a node of g.
func (g *Graph) Contains(id NodeID) bool {
	if id.Index < 0 || id.Index >= len(g.nodes) {
		return false
	}
	return g.nodes[id.Index].ID == id
}

// Node returns a copy of the node with the given ID.
func (g *Graph) Node(id NodeID) (Node, bool) {
	if !g.Contains(id) {
		return Node{}, false
	}
	n := g.nodes[id.Index]
	n.Neighbors = append([]NodeID(nil), n.Neighbors...)
	return n, true
}

// Neighbors returns the sorted neighbor list of id.
func (g *Graph) Neighbors(id NodeID) []NodeID {
	if !g.Contains(id) {
		return nil
	}
	return append([]NodeID(nil), g.nodes[id.Index].Neighbors...)
}

// Degree returns the number of distinct neighbors of id.
func (g *Graph) Degree(id NodeID) int {
	if !g.Contains(id) {
		return 0
	}
	return len(g.nodes[id.Index].Neighbors)
}

// CanRelay reports whether id may forward traffic between other nodes.
func (g *Graph) CanRelay(id NodeID) bool {
	return g.Contains(id) && g.nodes[id.Index].Relay
}

// HasEdge reports whether a link connects a and b.
func (g *Graph) HasEdge(a, b NodeID) bool {
	return g.edges[[2]NodeID{a, b}]
}

// Links returns the physical links in topology order.
func (g *Graph) Links() []Link {
	return append([]Link(nil), g.links...)
}

// Connected reports whether every node is reachable from node 0.
func (g *Graph) Connected() bool {
	return len(g.Unreached()) == 0
}

// Unreached returns the nodes a breadth-first search from the first node
// does not reach, in index order.
func (g *Graph) Unreached() []NodeID {
	if len(g.nodes) == 0 {
		return nil
	}
	seen := make([]bool, len(g.nodes))
	seen[0] = true
	queue := []int{0}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.nodes[cur].Neighbors {
			if !seen[nb.Index] {
				seen[nb.Index] = true
				queue = append(queue, nb.Index)
			}
		}
	}
	var out []NodeID
	for i, ok := range seen {
		if !ok {
			out = append(out, g.nodes[i].ID)
		}
	}
	return out
}
