package routing

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/design/designtest"
	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
)

func build(t *testing.T, d *design.Design) *graph.Graph {
	t.Helper()
	g, err := graph.Build(d.Catalog, d.Placement, d.Topology)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func synth(t *testing.T, g *graph.Graph, alg Algorithm, opts ...Option) *Table {
	t.Helper()
	tbl, err := Synthesize(g, alg, opts...)
	if err != nil {
		t.Fatalf("Synthesize(%s): %v", alg, err)
	}
	return tbl
}

// checkRoutes walks every (source, destination chiplet) pair and verifies
// each route follows existing edges, ends at the destination and only
// passes through relay-capable nodes. It returns the routes by pair.
func checkRoutes(t *testing.T, g *graph.Graph, tbl *Table, sources []graph.NodeID) map[[2]graph.NodeID]Path {
	t.Helper()
	out := make(map[[2]graph.NodeID]Path)
	for _, src := range sources {
		for _, dst := range g.Chiplets() {
			if src == dst {
				continue
			}
			p, err := tbl.Route(src, dst)
			if err != nil {
				t.Fatalf("Route(%s, %s): %v", src, dst, err)
			}
			if p[0] != src || p[len(p)-1] != dst {
				t.Fatalf("Route(%s, %s) = %v", src, dst, p)
			}
			for i := 1; i < len(p); i++ {
				if !g.HasEdge(p[i-1], p[i]) {
					t.Errorf("Route(%s, %s) uses missing edge %s-%s", src, dst, p[i-1], p[i])
				}
				if i < len(p)-1 && !g.CanRelay(p[i]) {
					t.Errorf("Route(%s, %s) relays through non-relay %s", src, dst, p[i])
				}
			}
			out[[2]graph.NodeID{src, dst}] = p
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Algorithm selection
// ---------------------------------------------------------------------------

func TestParseAlgorithm(t *testing.T) {
	tests := map[string]Algorithm{
		"simple-deterministic": SimpleDeterministic,
		"splif":                SimpleDeterministic,
		"turn-model-random":    TurnModelRandom,
		"sptmr":                TurnModelRandom,
	}
	for name, want := range tests {
		got, err := ParseAlgorithm(name)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = %q, %v", name, got, err)
		}
	}
	if _, err := ParseAlgorithm("xy"); !errs.IsConfig(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestSynthesizeUnknownAlgorithm(t *testing.T) {
	g := build(t, designtest.Line(2))
	if _, err := Synthesize(g, "odd-even"); !errs.IsConfig(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Simple deterministic
// ---------------------------------------------------------------------------

func TestSimpleGrid2x2(t *testing.T) {
	g := build(t, designtest.Grid(2, 2))
	tbl := synth(t, g, SimpleDeterministic)
	if tbl.Kind() != Simple {
		t.Fatalf("Kind = %v", tbl.Kind())
	}
	for _, n := range g.Nodes() {
		if got := len(tbl.Destinations(n)); got != 3 {
			t.Errorf("%s has %d destinations, want 3", n, got)
		}
	}
	maxHops := 0
	for _, p := range checkRoutes(t, g, tbl, g.Nodes()) {
		maxHops = max(maxHops, p.Hops())
	}
	if maxHops != 2 {
		t.Errorf("max hops = %d, want 2", maxHops)
	}
	// 0 reaches 3 through 1 or 2 at equal length; the lower index wins.
	if next, _ := tbl.NextHop(graph.Chiplet(0), graph.Chiplet(3), graph.Injected); next != graph.Chiplet(1) {
		t.Errorf("NextHop(0, 3) = %s, want chiplet:1", next)
	}
	if next, _ := tbl.NextHop(graph.Chiplet(3), graph.Chiplet(0), graph.Injected); next != graph.Chiplet(1) {
		t.Errorf("NextHop(3, 0) = %s, want chiplet:1", next)
	}
}

func TestSimplePrefersInterposerRouter(t *testing.T) {
	d := designtest.IRouterStar(3)
	d.Topology = append(d.Topology,
		designtest.ChipletLink(0, designtest.East, 1, designtest.West),
		designtest.ChipletLink(1, designtest.East, 2, designtest.West),
	)
	g := build(t, d)
	tbl := synth(t, g, SimpleDeterministic)
	next, ok := tbl.NextHop(graph.Chiplet(0), graph.Chiplet(2), graph.Injected)
	if !ok || next != g.IRouter(0) {
		t.Errorf("NextHop(0, 2) = %s, want %s", next, g.IRouter(0))
	}
	// Direct neighbors still go direct.
	if next, _ := tbl.NextHop(graph.Chiplet(0), graph.Chiplet(1), graph.Injected); next != graph.Chiplet(1) {
		t.Errorf("NextHop(0, 1) = %s, want chiplet:1", next)
	}
}

func TestSimpleDistanceDecreases(t *testing.T) {
	g := build(t, designtest.Grid(3, 4))
	tbl := synth(t, g, SimpleDeterministic)
	routes := checkRoutes(t, g, tbl, g.Nodes())
	for e := range tbl.Entries() {
		if e.Next == e.Dst {
			continue
		}
		here := routes[[2]graph.NodeID{e.Node, e.Dst}].Hops()
		there := routes[[2]graph.NodeID{e.Next, e.Dst}].Hops()
		if there != here-1 {
			t.Errorf("%s -> %s via %s: distance %d then %d", e.Node, e.Dst, e.Next, here, there)
		}
	}
}

func TestSimpleCompleteness(t *testing.T) {
	g := build(t, designtest.IRouterStar(4))
	tbl := synth(t, g, SimpleDeterministic)
	for _, n := range g.Nodes() {
		for _, d := range g.Chiplets() {
			if n == d {
				continue
			}
			if _, ok := tbl.NextHop(n, d, graph.Injected); !ok {
				t.Errorf("missing entry (%s, %s)", n, d)
			}
		}
	}
	// Interposer routers are never destinations.
	for _, n := range g.Nodes() {
		for _, d := range tbl.Destinations(n) {
			if d.Kind != graph.NodeChiplet {
				t.Errorf("%s has router destination %s", n, d)
			}
		}
	}
}

func TestSimpleNonRelayLeafNeverForwards(t *testing.T) {
	g := build(t, designtest.Star(3))
	tbl := synth(t, g, SimpleDeterministic)
	routes := checkRoutes(t, g, tbl, g.Nodes())
	for pair, p := range routes {
		for _, hop := range p[1 : len(p)-1] {
			if hop != graph.Chiplet(0) {
				t.Errorf("route %v passes through %s", pair, hop)
			}
		}
	}
}

func TestSimpleUnreachableThroughNonRelay(t *testing.T) {
	d := designtest.Line(3)
	d.Placement.Chiplets[1].Name = "leaf"
	g := build(t, d)
	_, err := Synthesize(g, SimpleDeterministic)
	if !errs.IsUnreachable(err) {
		t.Fatalf("expected reachability error, got %v", err)
	}
}

func TestSimpleIdempotentAndParallel(t *testing.T) {
	g := build(t, designtest.Grid(3, 3))
	a := synth(t, g, SimpleDeterministic)
	b := synth(t, g, SimpleDeterministic)
	c := synth(t, g, SimpleDeterministic, WithWorkers(4))
	if !a.Equal(b) {
		t.Error("repeated synthesis differs")
	}
	if !a.Equal(c) {
		t.Error("parallel synthesis differs from sequential")
	}
}

// ---------------------------------------------------------------------------
// Turn model random
// ---------------------------------------------------------------------------

func TestTurnModelGrid(t *testing.T) {
	g := build(t, designtest.Grid(3, 3))
	tbl := synth(t, g, TurnModelRandom, WithSeed(42))
	if tbl.Kind() != TurnAware {
		t.Fatalf("Kind = %v", tbl.Kind())
	}
	checkRoutes(t, g, tbl, g.Chiplets())
	for _, src := range g.Chiplets() {
		for _, dst := range g.Chiplets() {
			if src == dst {
				continue
			}
			if _, ok := tbl.NextHop(src, dst, graph.Injected); !ok {
				t.Errorf("no injection entry at %s for %s", src, dst)
			}
		}
	}
}

func TestTurnModelSuffixConsistency(t *testing.T) {
	g := build(t, designtest.Grid(3, 4))
	tbl := synth(t, g, TurnModelRandom, WithSeed(7))
	routes := checkRoutes(t, g, tbl, g.Chiplets())

	type key struct{ node, dst, incoming graph.NodeID }
	suffix := make(map[key]string)
	for pair, p := range routes {
		for i := 1; i < len(p)-1; i++ {
			k := key{p[i], pair[1], p[i-1]}
			rest := Path(p[i:])
			data, _ := json.Marshal(rest)
			if prev, ok := suffix[k]; ok && prev != string(data) {
				t.Errorf("key %+v continues as %s and %s", k, prev, data)
			}
			suffix[k] = string(data)
		}
	}
}

// TestTurnModelDeadlockFree checks that the channel dependency graph induced
// by all routes is acyclic.
func TestTurnModelDeadlockFree(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 4, 5} {
		g := build(t, designtest.Grid(3, 3))
		tbl := synth(t, g, TurnModelRandom, WithSeed(seed))
		routes := checkRoutes(t, g, tbl, g.Chiplets())

		type channel [2]graph.NodeID
		deps := make(map[channel][]channel)
		for _, p := range routes {
			for i := 2; i < len(p); i++ {
				a, b := channel{p[i-2], p[i-1]}, channel{p[i-1], p[i]}
				deps[a] = append(deps[a], b)
			}
		}
		const (
			white = iota
			grey
			black
		)
		color := make(map[channel]int)
		var visit func(c channel) bool
		visit = func(c channel) bool {
			color[c] = grey
			for _, n := range deps[c] {
				switch color[n] {
				case grey:
					return false
				case white:
					if !visit(n) {
						return false
					}
				}
			}
			color[c] = black
			return true
		}
		for c := range deps {
			if color[c] == white && !visit(c) {
				t.Fatalf("seed %d: channel dependency cycle through %v", seed, c)
			}
		}
	}
}

func TestTurnModelNonRelayLeaf(t *testing.T) {
	g := build(t, designtest.Star(3))
	tbl := synth(t, g, TurnModelRandom, WithSeed(3))
	for pair, p := range checkRoutes(t, g, tbl, g.Chiplets()) {
		for _, hop := range p[1 : len(p)-1] {
			if hop != graph.Chiplet(0) {
				t.Errorf("route %v passes through %s", pair, hop)
			}
		}
	}
}

func TestTurnModelWithInterposerRouter(t *testing.T) {
	g := build(t, designtest.IRouterStar(4))
	tbl := synth(t, g, TurnModelRandom, WithRand(rand.New(rand.NewSource(9))))
	checkRoutes(t, g, tbl, g.Chiplets())
}

func TestTurnModelSeedReproducible(t *testing.T) {
	g := build(t, designtest.Grid(3, 3))
	a := synth(t, g, TurnModelRandom, WithSeed(11))
	b := synth(t, g, TurnModelRandom, WithSeed(11))
	if !a.Equal(b) {
		t.Error("same seed produced different tables")
	}
}

func TestTurnModelPrecondition(t *testing.T) {
	// Two disconnected relay pairs: no vertex satisfies the elimination
	// inequality.
	d := designtest.Grid(2, 2)
	d.Topology = design.Topology{d.Topology[0], d.Topology[3]}
	g := build(t, d)
	_, err := Synthesize(g, TurnModelRandom, WithSeed(1))
	if !errs.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestArticulation(t *testing.T) {
	// Line 0-1-2-3: the inner vertices are cut vertices.
	g := build(t, designtest.Line(4))
	cut := newArena(g).articulation()
	want := []bool{false, true, true, false}
	for i := range want {
		if cut[i] != want[i] {
			t.Errorf("cut[%d] = %v, want %v", i, cut[i], want[i])
		}
	}
	// A ring has none.
	cut = newArena(build(t, designtest.Grid(2, 2))).articulation()
	for i, c := range cut {
		if c {
			t.Errorf("ring vertex %d reported as cut", i)
		}
	}
}

func TestEliminateForbidsBothDirections(t *testing.T) {
	g := build(t, designtest.Grid(2, 2))
	forbidden, err := newArena(g).eliminate()
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	if len(forbidden) == 0 {
		t.Fatal("ring must forbid at least one turn")
	}
	for tr := range forbidden {
		if !forbidden[turn{tr[2], tr[1], tr[0]}] {
			t.Errorf("turn %v forbidden without its reverse", tr)
		}
	}
}

// ---------------------------------------------------------------------------
// Table operations and interchange
// ---------------------------------------------------------------------------

func TestJSONRoundTrip(t *testing.T) {
	g := build(t, designtest.IRouterStar(3))
	for _, alg := range []Algorithm{SimpleDeterministic, TurnModelRandom} {
		t.Run(string(alg), func(t *testing.T) {
			tbl := synth(t, g, alg, WithSeed(5))
			data, err := json.Marshal(tbl)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var back Table
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !tbl.Equal(&back) {
				t.Errorf("round trip changed the table:\n%s", data)
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	g := build(t, designtest.Line(2))
	tbl := synth(t, g, SimpleDeterministic)
	data, err := json.Marshal(tbl)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"type":"default","table":{"chiplet:0":{"chiplet:1":"chiplet:1"},"chiplet:1":{"chiplet:0":"chiplet:0"}}}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	var tbl Table
	err := json.Unmarshal([]byte(`{"type":"adaptive","table":{}}`), &tbl)
	if !errs.IsConfig(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRouteErrors(t *testing.T) {
	var missing Table
	if err := json.Unmarshal([]byte(`{"type":"default","table":{"chiplet:0":{}}}`), &missing); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, err := missing.Route(graph.Chiplet(0), graph.Chiplet(1)); !errs.IsUnreachable(err) {
		t.Errorf("expected reachability error, got %v", err)
	}

	var loop Table
	doc := `{"type":"default","table":{
		"chiplet:0":{"chiplet:2":"chiplet:1"},
		"chiplet:1":{"chiplet:2":"chiplet:0"}}}`
	if err := json.Unmarshal([]byte(doc), &loop); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, err := loop.Route(graph.Chiplet(0), graph.Chiplet(2)); !errs.IsStructural(err) {
		t.Errorf("expected structural error, got %v", err)
	}
}

func TestRouteToSelf(t *testing.T) {
	tbl := newSimple()
	p, err := tbl.Route(graph.Chiplet(4), graph.Chiplet(4))
	if err != nil || len(p) != 1 || p.Hops() != 0 {
		t.Errorf("Route(self) = %v, %v", p, err)
	}
}

func TestEntriesOrderAndLen(t *testing.T) {
	g := build(t, designtest.Line(3))
	tbl := synth(t, g, SimpleDeterministic)
	var got []Entry
	for e := range tbl.Entries() {
		got = append(got, e)
	}
	if len(got) != tbl.Len() || tbl.Len() != 6 {
		t.Fatalf("entries = %d, Len = %d", len(got), tbl.Len())
	}
	for i := 1; i < len(got); i++ {
		a, b := got[i-1], got[i]
		if b.Node.Less(a.Node) || (a.Node == b.Node && b.Dst.Less(a.Dst)) {
			t.Errorf("entries out of order at %d: %+v then %+v", i, a, b)
		}
	}
}

func TestEqual(t *testing.T) {
	g := build(t, designtest.Grid(2, 2))
	a := synth(t, g, SimpleDeterministic)
	b := synth(t, g, TurnModelRandom, WithSeed(1))
	if a.Equal(b) {
		t.Error("tables of different kinds compare equal")
	}
	var nilTable *Table
	if a.Equal(nilTable) || !nilTable.Equal(nil) {
		t.Error("nil handling")
	}
}

func TestTurnModelUnreachableThroughNonRelay(t *testing.T) {
	d := designtest.Line(3)
	d.Placement.Chiplets[1].Name = "leaf"
	g := build(t, d)
	tbl, err := Synthesize(g, TurnModelRandom, WithSeed(1))
	if !errs.IsUnreachable(err) {
		t.Fatalf("expected reachability error, got %v", err)
	}
	if tbl != nil {
		t.Errorf("expected no partial table, got %d entries", tbl.Len())
	}
}

// turnDistances returns the breadth-first distance of every turn-graph
// vertex from start, -1 when unreached.
func turnDistances(tg *turnGraph, start int) []int {
	dist := make([]int, len(tg.edges))
	for i := range dist {
		dist[i] = -1
	}
	dist[start] = 0
	queue := []int{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range tg.out[v] {
			if dist[w] < 0 {
				dist[w] = dist[v] + 1
				queue = append(queue, w)
			}
		}
	}
	return dist
}

func TestTurnModelRoutesAreShortest(t *testing.T) {
	g := build(t, designtest.Grid(3, 4))
	forbidden, err := newArena(g).eliminate()
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	tg := newTurnGraph(g, forbidden)
	dists := make(map[graph.NodeID][]int)
	for _, dst := range g.Chiplets() {
		dists[dst] = turnDistances(tg, tg.index[[2]int{tg.source, dst.Index}])
	}

	for _, seed := range []int64{1, 2, 3, 4, 5, 6} {
		tbl := synth(t, g, TurnModelRandom, WithSeed(seed))
		for pair, p := range checkRoutes(t, g, tbl, g.Chiplets()) {
			src, dst := pair[0], pair[1]
			// The turn-graph path runs from dst's injection edge to src's
			// ejection edge and has one more vertex than the route has hops.
			want := dists[dst][tg.index[[2]int{src.Index, tg.sink}]] - 1
			if p.Hops() != want {
				t.Errorf("seed %d: route %s->%s has %d hops, shortest permitted is %d", seed, src, dst, p.Hops(), want)
			}
		}
	}
}
