package routing

import (
	"encoding/json"
	"iter"
	"sort"

	"github.com/pkg/errors"

	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
)

// Kind distinguishes the two table layouts.
type Kind int

const (
	// Simple tables map (node, destination) to a next hop.
	Simple Kind = iota
	// TurnAware tables map (node, destination, incoming neighbor) to a next
	// hop. The incoming key is graph.Injected at the packet's source.
	TurnAware
)

func (k Kind) String() string {
	switch k {
	case Simple:
		return "default"
	case TurnAware:
		return "extended"
	default:
		return "unknown"
	}
}

// hops maps a key node (destination or incoming neighbor) to a next hop.
type hops map[graph.NodeID]graph.NodeID

// Table is an immutable routing table.
type Table struct {
	kind   Kind
	simple map[graph.NodeID]hops                  // node -> dst -> next
	turn   map[graph.NodeID]map[graph.NodeID]hops // node -> dst -> incoming -> next
}

// Entry is one routing decision. Incoming is graph.Injected for Simple
// tables and for injection entries of TurnAware tables.
type Entry struct {
	Node     graph.NodeID
	Dst      graph.NodeID
	Incoming graph.NodeID
	Next     graph.NodeID
}

// Path is the node sequence of a route, source first.
type Path []graph.NodeID

// Hops returns the number of links traversed.
func (p Path) Hops() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

func newSimple() *Table {
	return &Table{kind: Simple, simple: make(map[graph.NodeID]hops)}
}

func newTurnAware() *Table {
	return &Table{kind: TurnAware, turn: make(map[graph.NodeID]map[graph.NodeID]hops)}
}

func (t *Table) setSimple(node, dst, next graph.NodeID) {
	m := t.simple[node]
	if m == nil {
		m = make(hops)
		t.simple[node] = m
	}
	m[dst] = next
}

// lookupTurn returns the next hop for a TurnAware key.
func (t *Table) lookupTurn(node, dst, incoming graph.NodeID) (graph.NodeID, bool) {
	next, ok := t.turn[node][dst][incoming]
	return next, ok
}

func (t *Table) setTurn(node, dst, incoming, next graph.NodeID) {
	byDst := t.turn[node]
	if byDst == nil {
		byDst = make(map[graph.NodeID]hops)
		t.turn[node] = byDst
	}
	byPort := byDst[dst]
	if byPort == nil {
		byPort = make(hops)
		byDst[dst] = byPort
	}
	byPort[incoming] = next
}

// Kind returns the table layout.
func (t *Table) Kind() Kind {
	return t.kind
}

// NextHop returns the next hop at node toward dst for a packet that arrived
// from incoming. Simple tables ignore incoming.
func (t *Table) NextHop(node, dst, incoming graph.NodeID) (graph.NodeID, bool) {
	if t.kind == Simple {
		next, ok := t.simple[node][dst]
		return next, ok
	}
	return t.lookupTurn(node, dst, incoming)
}

// Route walks the table from src to dst. It fails with a reachability error
// when an entry is missing and with a structural error when the walk
// revisits a (node, incoming) state.
func (t *Table) Route(src, dst graph.NodeID) (Path, error) {
	const op = "routing.Route"
	path := Path{src}
	if src == dst {
		return path, nil
	}
	type state struct{ node, incoming graph.NodeID }
	seen := make(map[state]bool)
	cur, prev := src, graph.Injected
	for cur != dst {
		key := state{cur, prev}
		if t.kind == Simple {
			key.incoming = graph.Injected
		}
		if seen[key] {
			return nil, errs.Structural(op, "routing loop from %s to %s at %s", src, dst, cur)
		}
		seen[key] = true
		next, ok := t.NextHop(cur, dst, prev)
		if !ok {
			return nil, errs.Unreachable(op, cur, dst)
		}
		path = append(path, next)
		cur, prev = next, cur
	}
	return path, nil
}

// Nodes returns every node with at least one entry, sorted.
func (t *Table) Nodes() []graph.NodeID {
	var out []graph.NodeID
	if t.kind == Simple {
		for n := range t.simple {
			out = append(out, n)
		}
	} else {
		for n := range t.turn {
			out = append(out, n)
		}
	}
	sortIDs(out)
	return out
}

// Destinations returns the destinations node has entries for, sorted.
func (t *Table) Destinations(node graph.NodeID) []graph.NodeID {
	var out []graph.NodeID
	if t.kind == Simple {
		for d := range t.simple[node] {
			out = append(out, d)
		}
	} else {
		for d := range t.turn[node] {
			out = append(out, d)
		}
	}
	sortIDs(out)
	return out
}

// Incoming returns the incoming keys of a TurnAware (node, dst) sub-table,
// sorted with graph.Injected first. Simple tables return nil.
func (t *Table) Incoming(node, dst graph.NodeID) []graph.NodeID {
	if t.kind == Simple {
		return nil
	}
	var out []graph.NodeID
	for in := range t.turn[node][dst] {
		out = append(out, in)
	}
	sortIDs(out)
	return out
}

// Entries yields every entry ordered by node, destination and incoming key.
func (t *Table) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, n := range t.Nodes() {
			for _, d := range t.Destinations(n) {
				if t.kind == Simple {
					if !yield(Entry{Node: n, Dst: d, Incoming: graph.Injected, Next: t.simple[n][d]}) {
						return
					}
					continue
				}
				for _, in := range t.Incoming(n, d) {
					if !yield(Entry{Node: n, Dst: d, Incoming: in, Next: t.turn[n][d][in]}) {
						return
					}
				}
			}
		}
	}
}

// Len returns the number of entries.
func (t *Table) Len() int {
	n := 0
	if t.kind == Simple {
		for _, m := range t.simple {
			n += len(m)
		}
		return n
	}
	for _, byDst := range t.turn {
		for _, byPort := range byDst {
			n += len(byPort)
		}
	}
	return n
}

// Equal reports whether two tables have the same kind and entries.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.kind != other.kind || t.Len() != other.Len() {
		return false
	}
	for e := range t.Entries() {
		next, ok := other.NextHop(e.Node, e.Dst, e.Incoming)
		if !ok || next != e.Next {
			return false
		}
	}
	return true
}

func sortIDs(ids []graph.NodeID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].IsInjected() != ids[j].IsInjected() {
			return ids[i].IsInjected()
		}
		return ids[i].Less(ids[j])
	})
}

// ---------------------------------------------------------------------------
// Interchange
// ---------------------------------------------------------------------------

type tableJSON struct {
	Type  string          `json:"type"`
	Table json.RawMessage `json:"table"`
}

// MarshalJSON encodes the table as {"type": "default"|"extended",
// "table": {...}} with NodeIDs in their canonical text form.
func (t *Table) MarshalJSON() ([]byte, error) {
	var body interface{}
	if t.kind == Simple {
		body = t.simple
	} else {
		body = t.turn
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "routing: encode table")
	}
	return json.Marshal(tableJSON{Type: t.kind.String(), Table: raw})
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (t *Table) UnmarshalJSON(data []byte) error {
	var doc tableJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "routing: decode table")
	}
	switch doc.Type {
	case "default":
		out := newSimple()
		if err := json.Unmarshal(doc.Table, &out.simple); err != nil {
			return errors.Wrap(err, "routing: decode default table")
		}
		if out.simple == nil {
			out.simple = make(map[graph.NodeID]hops)
		}
		*t = *out
	case "extended":
		out := newTurnAware()
		if err := json.Unmarshal(doc.Table, &out.turn); err != nil {
			return errors.Wrap(err, "routing: decode extended table")
		}
		if out.turn == nil {
			out.turn = make(map[graph.NodeID]map[graph.NodeID]hops)
		}
		*t = *out
	default:
		return errs.Config("routing table", "unknown type %q", doc.Type)
	}
	return nil
}
