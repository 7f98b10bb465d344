// Package graph defines the interconnect graph for a chiplet design.
// Nodes are placed chiplets and interposer routers; edges are the physical
// links of the topology. The graph is immutable once built.
package graph
