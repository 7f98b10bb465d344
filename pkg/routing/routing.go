// Package routing synthesizes deadlock-free routing tables over an
// interconnect graph.
//
// Two algorithms are provided. The simple deterministic algorithm runs a
// unit-weight shortest-path search per destination chiplet and breaks ties
// by a fixed total order, yielding one next hop per (node, destination):
// an interposer router beats a chiplet, and between nodes of the same kind
// the lower index wins.
// The turn-model random algorithm forbids a cycle-breaking set of turns,
// searches the resulting turn graph, and picks among equal-length paths at
// random, yielding next hops keyed additionally by the incoming neighbor.
package routing

import (
	"math/rand"
	"time"

	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
)

// Algorithm names a routing algorithm.
type Algorithm string

const (
	SimpleDeterministic Algorithm = "simple-deterministic"
	TurnModelRandom     Algorithm = "turn-model-random"
)

// aliases accepts the short names used by existing design files.
var aliases = map[string]Algorithm{
	string(SimpleDeterministic): SimpleDeterministic,
	"splif":                     SimpleDeterministic,
	string(TurnModelRandom):     TurnModelRandom,
	"sptmr":                     TurnModelRandom,
}

// ParseAlgorithm resolves an algorithm name or alias.
func ParseAlgorithm(name string) (Algorithm, error) {
	a, ok := aliases[name]
	if !ok {
		return "", errs.Config("routing", "unknown algorithm %q", name)
	}
	return a, nil
}

type options struct {
	rng     *rand.Rand
	workers int
}

// Option configures Synthesize.
type Option func(*options)

// WithRand sets the random source used by the turn-model algorithm.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithSeed seeds the turn-model random source.
func WithSeed(seed int64) Option {
	return func(o *options) { o.rng = rand.New(rand.NewSource(seed)) }
}

// WithWorkers bounds the number of concurrent per-destination searches of
// the simple algorithm. Values below 2 run sequentially.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Synthesize builds a routing table for g with the named algorithm. On
// failure no partial table is returned.
func Synthesize(g *graph.Graph, alg Algorithm, opts ...Option) (*Table, error) {
	o := options{workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	switch alg {
	case SimpleDeterministic:
		return simple(g, o.workers)
	case TurnModelRandom:
		if o.rng == nil {
			o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		return turnModel(g, o.rng)
	}
	return nil, errs.Config("routing", "unknown algorithm %q", alg)
}
