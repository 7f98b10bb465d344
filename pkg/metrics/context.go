// Package metrics computes analytical proxies for a routed chiplet design:
// area, power, link statistics, manufacturing cost, latency, throughput,
// and temperature.
//
// Every metric is a pure function of a Context. The Context memoizes the
// intermediates several metrics share (link geometry, area, per-node
// latencies) so each is computed at most once per design.
package metrics

import (
	"runtime"
	"sync"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/graph"
	"github.com/chazu/rapidchiplet/pkg/routing"
	"github.com/chazu/rapidchiplet/pkg/traffic"
)

// Context carries the inputs of a metrics run and its memoized
// intermediates. It is safe for concurrent use once constructed.
type Context struct {
	Design  *design.Design
	Graph   *graph.Graph
	Table   *routing.Table // may be nil when only geometric metrics are needed
	Traffic traffic.ChipletMatrix

	// Workers bounds the goroutines used by the thermal relaxation.
	Workers int

	mu    sync.Mutex
	links *LinkGeometry
	area  *Area
	nodes *nodeLatencies
}

// NewContext returns a context over d, g and t. Chiplet-level traffic is
// aggregated from d.Traffic.
func NewContext(d *design.Design, g *graph.Graph, t *routing.Table) *Context {
	return &Context{
		Design:  d,
		Graph:   g,
		Table:   t,
		Traffic: d.Traffic.ByChiplet(),
		Workers: runtime.GOMAXPROCS(0),
	}
}

// linkGeometry returns the memoized link geometry.
func (c *Context) linkGeometry() (*LinkGeometry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.links == nil {
		lg, err := computeLinkGeometry(c.Design, c.Graph)
		if err != nil {
			return nil, err
		}
		c.links = lg
	}
	return c.links, nil
}

// areaSummary returns the memoized area summary.
func (c *Context) areaSummary() (*Area, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.area == nil {
		a, err := computeArea(c.Design)
		if err != nil {
			return nil, err
		}
		c.area = a
	}
	return c.area, nil
}

// nodeLatencies returns the memoized per-node latencies.
func (c *Context) nodeLatencies() (*nodeLatencies, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes == nil {
		nl, err := computeNodeLatencies(c.Design, c.Graph)
		if err != nil {
			return nil, err
		}
		c.nodes = nl
	}
	return c.nodes, nil
}
