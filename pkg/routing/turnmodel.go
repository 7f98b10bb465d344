package routing

import (
	"math/bits"
	"math/rand"

	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
)

// ---------------------------------------------------------------------------
// Elimination arena
// ---------------------------------------------------------------------------

// bitmap is a fixed-size set of slot indices.
type bitmap []uint64

func newBitmap(n int) bitmap { return make(bitmap, (n+63)/64) }

func (b bitmap) has(i int) bool { return b[i/64]&(1<<(uint(i)%64)) != 0 }
func (b bitmap) set(i int)      { b[i/64] |= 1 << (uint(i) % 64) }
func (b bitmap) clear(i int)    { b[i/64] &^= 1 << (uint(i) % 64) }

func (b bitmap) count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// arena holds the relay subgraph as fixed slots with static adjacency.
// Removing a vertex only clears its liveness bit, so adjacency lists are
// never rewritten while the elimination recurses.
type arena struct {
	adj   [][]int
	alive bitmap
}

// turn is a pair of consecutive hops a -> b -> c, in graph slot indices.
type turn [3]int

func newArena(g *graph.Graph) *arena {
	n := g.Len()
	a := &arena{adj: make([][]int, n), alive: newBitmap(n)}
	for _, id := range g.Nodes() {
		if !g.CanRelay(id) {
			continue
		}
		a.alive.set(id.Index)
		for _, nb := range g.Neighbors(id) {
			if g.CanRelay(nb) {
				a.adj[id.Index] = append(a.adj[id.Index], nb.Index)
			}
		}
	}
	return a
}

func (a *arena) neighbors(v int) []int {
	var out []int
	for _, u := range a.adj[v] {
		if a.alive.has(u) {
			out = append(out, u)
		}
	}
	return out
}

func (a *arena) degree(v int) int {
	d := 0
	for _, u := range a.adj[v] {
		if a.alive.has(u) {
			d++
		}
	}
	return d
}

// articulation marks the cut vertices of the live subgraph using Tarjan's
// lowlink depth-first search.
func (a *arena) articulation() []bool {
	n := len(a.adj)
	cut := make([]bool, n)
	disc := make([]int, n)
	low := make([]int, n)
	timer := 0

	var dfs func(v, parent int)
	dfs = func(v, parent int) {
		timer++
		disc[v], low[v] = timer, timer
		children := 0
		for _, u := range a.adj[v] {
			if !a.alive.has(u) {
				continue
			}
			if disc[u] == 0 {
				children++
				dfs(u, v)
				low[v] = min(low[v], low[u])
				if parent >= 0 && low[u] >= disc[v] {
					cut[v] = true
				}
			} else if u != parent {
				low[v] = min(low[v], disc[u])
			}
		}
		if parent < 0 && children > 1 {
			cut[v] = true
		}
	}
	for v := 0; v < n; v++ {
		if a.alive.has(v) && disc[v] == 0 {
			dfs(v, -1)
		}
	}
	return cut
}

// eliminate removes one vertex per step until two remain and collects the
// turns through each removed vertex. The removed vertex is the first, in
// slot order, among non-cut vertices of minimum degree that satisfies
// deg(v) <= sum over neighbors u of (deg(u) - 1).
func (a *arena) eliminate() (map[turn]bool, error) {
	forbidden := make(map[turn]bool)
	for a.alive.count() > 2 {
		cut := a.articulation()
		minDeg := -1
		for v := range a.adj {
			if a.alive.has(v) && !cut[v] {
				if d := a.degree(v); minDeg < 0 || d < minDeg {
					minDeg = d
				}
			}
		}
		chosen := -1
		for v := range a.adj {
			if !a.alive.has(v) || cut[v] || a.degree(v) != minDeg {
				continue
			}
			budget := 0
			for _, u := range a.neighbors(v) {
				budget += a.degree(u) - 1
			}
			if minDeg <= budget {
				chosen = v
				break
			}
		}
		if chosen < 0 {
			return nil, errs.Precondition("routing.turnModel", "no vertex eligible for elimination among %d remaining", a.alive.count())
		}
		nb := a.neighbors(chosen)
		for i := 0; i < len(nb); i++ {
			for j := i + 1; j < len(nb); j++ {
				forbidden[turn{nb[i], chosen, nb[j]}] = true
				forbidden[turn{nb[j], chosen, nb[i]}] = true
			}
		}
		a.alive.clear(chosen)
	}
	return forbidden, nil
}

// ---------------------------------------------------------------------------
// Turn graph
// ---------------------------------------------------------------------------

// turnGraph has one vertex per directed edge of the interconnect graph plus
// a virtual injection edge (source, c) and ejection edge (c, sink) for every
// chiplet c. Its edges are the permitted turns.
type turnGraph struct {
	source, sink int
	edges        [][2]int       // vertex -> (from, to) slots
	index        map[[2]int]int // (from, to) -> vertex
	out          [][]int
	in           [][]int
}

func (tg *turnGraph) vertex(from, to int) int {
	if v, ok := tg.index[[2]int{from, to}]; ok {
		return v
	}
	v := len(tg.edges)
	tg.edges = append(tg.edges, [2]int{from, to})
	tg.index[[2]int{from, to}] = v
	return v
}

func newTurnGraph(g *graph.Graph, forbidden map[turn]bool) *turnGraph {
	n := g.Len()
	tg := &turnGraph{source: n, sink: n + 1, index: make(map[[2]int]int)}

	for _, c := range g.Chiplets() {
		tg.vertex(tg.source, c.Index)
		tg.vertex(c.Index, tg.sink)
	}
	for _, id := range g.Nodes() {
		for _, nb := range g.Neighbors(id) {
			tg.vertex(id.Index, nb.Index)
		}
	}

	// Outgoing directed edges per slot, in vertex creation order.
	from := make([][]int, n+2)
	for v, e := range tg.edges {
		from[e[0]] = append(from[e[0]], v)
	}

	relay := make([]bool, n+2)
	for _, id := range g.Nodes() {
		relay[id.Index] = g.CanRelay(id)
	}

	tg.out = make([][]int, len(tg.edges))
	tg.in = make([][]int, len(tg.edges))
	for v1, e1 := range tg.edges {
		a, b := e1[0], e1[1]
		if b == tg.sink {
			continue
		}
		for _, v2 := range from[b] {
			c := tg.edges[v2][1]
			if a == c || forbidden[turn{a, b, c}] {
				continue
			}
			if !relay[b] && a != tg.source && c != tg.sink {
				continue
			}
			tg.out[v1] = append(tg.out[v1], v2)
			tg.in[v2] = append(tg.in[v2], v1)
		}
	}
	return tg
}

// predecessors runs a breadth-first search from vertex start and returns,
// for every reached vertex, all predecessors on some shortest path.
// Unreached vertices map to nil; start maps to an empty non-nil slice.
func (tg *turnGraph) predecessors(start int) [][]int {
	dist := make([]int, len(tg.edges))
	for i := range dist {
		dist[i] = -1
	}
	pred := make([][]int, len(tg.edges))
	dist[start] = 0
	pred[start] = []int{}
	queue := []int{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range tg.out[v] {
			switch {
			case dist[w] < 0:
				dist[w] = dist[v] + 1
				pred[w] = []int{v}
				queue = append(queue, w)
			case dist[w] == dist[v]+1:
				pred[w] = append(pred[w], v)
			}
		}
	}
	return pred
}

// ---------------------------------------------------------------------------
// Synthesis
// ---------------------------------------------------------------------------

// turnModel builds a TurnAware table. For each destination chiplet u the
// shortest turn-graph paths from u's injection edge are searched; for each
// other chiplet v one of them is drawn at random, walking backward from v's
// ejection edge, and the reversed path becomes the route from v to u. The
// walk stops at the first key already recorded so routes that share a
// suffix agree on it. A pair with no permitted path aborts synthesis.
func turnModel(g *graph.Graph, rng *rand.Rand) (*Table, error) {
	forbidden, err := newArena(g).eliminate()
	if err != nil {
		return nil, err
	}
	tg := newTurnGraph(g, forbidden)
	ids := g.Nodes()
	id := func(slot int) graph.NodeID { return ids[slot] }

	t := newTurnAware()
	chiplets := g.Chiplets()
	for _, u := range chiplets {
		pred := tg.predecessors(tg.index[[2]int{tg.source, u.Index}])
		for _, v := range chiplets {
			if u == v {
				continue
			}
			cur := tg.index[[2]int{v.Index, tg.sink}]
			if pred[cur] == nil {
				return nil, errs.Unreachable("routing.turnModel", v, u)
			}
			for tg.edges[cur][0] != u.Index {
				choices := pred[cur]
				next := choices[rng.Intn(len(choices))]
				first, second, third := tg.edges[cur][1], tg.edges[cur][0], tg.edges[next][0]
				if first == tg.sink {
					t.setTurn(id(second), u, graph.Injected, id(third))
				} else {
					if _, done := t.lookupTurn(id(second), u, id(first)); done {
						break
					}
					t.setTurn(id(second), u, id(first), id(third))
				}
				cur = next
			}
		}
	}
	return t, nil
}
