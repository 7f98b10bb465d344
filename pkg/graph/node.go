package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/rapidchiplet/pkg/errs"
)

// NodeKind enumerates the types of nodes in the interconnect graph.
type NodeKind int

const (
	NodeChiplet NodeKind = iota // placed chiplet
	NodeIRouter                 // interposer router
)

func (k NodeKind) String() string {
	switch k {
	case NodeChiplet:
		return "chiplet"
	case NodeIRouter:
		return "irouter"
	default:
		return "unknown"
	}
}

// NodeID identifies a node. Index is the node's slot in the graph: chiplets
// occupy 0..C-1 in placement order and interposer routers C..C+R-1.
type NodeID struct {
	Kind  NodeKind
	Index int
}

// Injected is the incoming-port sentinel for packets that enter the network
// at their source node.
var Injected = NodeID{Kind: -1, Index: -1}

// Chiplet returns the ID of chiplet i.
func Chiplet(i int) NodeID {
	return NodeID{Kind: NodeChiplet, Index: i}
}

// IsInjected reports whether id is the injection sentinel.
func (id NodeID) IsInjected() bool {
	return id == Injected
}

// String returns the canonical text form, e.g. "chiplet:3".
func (id NodeID) String() string {
	if id.IsInjected() {
		return "injected"
	}
	return id.Kind.String() + ":" + strconv.Itoa(id.Index)
}

// Less orders IDs by kind, chiplets first, then by index.
func (id NodeID) Less(other NodeID) bool {
	if id.Kind != other.Kind {
		return id.Kind < other.Kind
	}
	return id.Index < other.Index
}

// MarshalText implements encoding.TextMarshaler so NodeIDs can key JSON
// objects.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical text form.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseNodeID parses "chiplet:N", "irouter:N", or "injected".
func ParseNodeID(s string) (NodeID, error) {
	if s == "injected" {
		return Injected, nil
	}
	kind, num, ok := strings.Cut(s, ":")
	if !ok {
		return NodeID{}, errs.Config("node id", "malformed %q", s)
	}
	idx, err := strconv.Atoi(num)
	if err != nil || idx < 0 {
		return NodeID{}, errs.Config("node id", "bad index in %q", s)
	}
	switch kind {
	case "chiplet":
		return NodeID{Kind: NodeChiplet, Index: idx}, nil
	case "irouter":
		return NodeID{Kind: NodeIRouter, Index: idx}, nil
	}
	return NodeID{}, errs.Config("node id", "unknown kind in %q", s)
}

// Node is one vertex of the interconnect graph.
type Node struct {
	ID        NodeID
	Relay     bool     // may forward traffic between other nodes
	Neighbors []NodeID // sorted by (kind, index)
}

// Endpoint is one side of a link.
type Endpoint struct {
	Node NodeID
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%d", e.Node, e.Port)
}

// Link is a physical, undirected connection between two endpoints.
type Link struct {
	A, B Endpoint
}

// Other returns the node at the far end of the link from n.
func (l Link) Other(n NodeID) NodeID {
	if l.A.Node == n {
		return l.B.Node
	}
	return l.A.Node
}
