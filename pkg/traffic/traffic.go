// Package traffic models offered load between processing units and between
// chiplets, and generates the synthetic patterns used for design-space
// sweeps.
package traffic

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/chazu/rapidchiplet/pkg/errs"
)

// UnitID names a processing unit inside a placed chiplet.
type UnitID struct {
	Chiplet int `json:"chiplet"`
	Unit    int `json:"unit"`
}

// Pair is a directed (source, destination) unit pair.
type Pair struct {
	Src UnitID
	Dst UnitID
}

// UnitMatrix maps unit pairs to an injection rate in packets per cycle.
type UnitMatrix map[Pair]float64

// ChipletPair is a directed (source, destination) chiplet pair.
type ChipletPair struct {
	Src int
	Dst int
}

// ChipletMatrix maps chiplet pairs to an aggregate injection rate.
type ChipletMatrix map[ChipletPair]float64

// Chiplet describes one placed chiplet to the pattern generators.
type Chiplet struct {
	Kind  string
	Units int
}

// ByChiplet sums unit-level rates per chiplet pair. Flows that stay inside a
// single chiplet never touch the interconnect and are dropped.
func (m UnitMatrix) ByChiplet() ChipletMatrix {
	out := make(ChipletMatrix)
	for p, rate := range m {
		if p.Src.Chiplet == p.Dst.Chiplet {
			continue
		}
		out[ChipletPair{Src: p.Src.Chiplet, Dst: p.Dst.Chiplet}] += rate
	}
	return out
}

// Total returns the summed rate of all flows.
func (m ChipletMatrix) Total() float64 {
	return lo.Sum(lo.Values(m))
}

// Pairs returns the matrix keys in (Src, Dst) order.
func (m ChipletMatrix) Pairs() []ChipletPair {
	keys := lo.Keys(m)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Src != keys[j].Src {
			return keys[i].Src < keys[j].Src
		}
		return keys[i].Dst < keys[j].Dst
	})
	return keys
}

// ---------------------------------------------------------------------------
// JSON interchange
// ---------------------------------------------------------------------------

type flowJSON struct {
	Src  UnitID  `json:"src"`
	Dst  UnitID  `json:"dst"`
	Rate float64 `json:"rate"`
}

// MarshalJSON encodes the matrix as a list of flows sorted by source and
// destination so output is stable.
func (m UnitMatrix) MarshalJSON() ([]byte, error) {
	flows := make([]flowJSON, 0, len(m))
	for p, rate := range m {
		flows = append(flows, flowJSON{Src: p.Src, Dst: p.Dst, Rate: rate})
	}
	sort.Slice(flows, func(i, j int) bool {
		a, b := flows[i], flows[j]
		if a.Src != b.Src {
			return lessUnit(a.Src, b.Src)
		}
		return lessUnit(a.Dst, b.Dst)
	})
	return json.Marshal(flows)
}

// UnmarshalJSON decodes a flow list. Repeated pairs accumulate.
func (m *UnitMatrix) UnmarshalJSON(data []byte) error {
	var flows []flowJSON
	if err := json.Unmarshal(data, &flows); err != nil {
		return errors.Wrap(err, "traffic: decode flows")
	}
	out := make(UnitMatrix, len(flows))
	for _, f := range flows {
		out[Pair{Src: f.Src, Dst: f.Dst}] += f.Rate
	}
	*m = out
	return nil
}

func lessUnit(a, b UnitID) bool {
	if a.Chiplet != b.Chiplet {
		return a.Chiplet < b.Chiplet
	}
	return a.Unit < b.Unit
}

// ---------------------------------------------------------------------------
// Synthetic patterns
// ---------------------------------------------------------------------------

// RandomUniform makes every unit of a chiplet whose kind is in sendKinds
// spread one packet per cycle evenly over all units of other chiplets whose
// kind is in recvKinds.
func RandomUniform(chiplets []Chiplet, sendKinds, recvKinds []string) UnitMatrix {
	senders := indicesOfKinds(chiplets, sendKinds)
	receivers := indicesOfKinds(chiplets, recvKinds)
	out := make(UnitMatrix)
	for _, src := range senders {
		dsts := lo.Without(receivers, src)
		spreadFromChiplet(out, chiplets, src, dsts, 1.0)
	}
	return out
}

// Transpose sends from the chiplet at grid (row, col) to the chiplet at
// (col, row). The placement must hold a square number of chiplets laid out
// row-major. Diagonal chiplets stay silent.
func Transpose(chiplets []Chiplet) (UnitMatrix, error) {
	n := int(math.Round(math.Sqrt(float64(len(chiplets)))))
	if n*n != len(chiplets) {
		return nil, errs.Config("traffic", "transpose needs a square number of chiplets, got %d", len(chiplets))
	}
	out := make(UnitMatrix)
	for src := range chiplets {
		row, col := src/n, src%n
		dst := col*n + row
		if dst == src {
			continue
		}
		spreadFromChiplet(out, chiplets, src, []int{dst}, 1.0)
	}
	return out, nil
}

// Permutation picks a random derangement of the chiplets and sends from each
// chiplet to its image.
func Permutation(chiplets []Chiplet, rng *rand.Rand) (UnitMatrix, error) {
	if len(chiplets) < 2 {
		return nil, errs.Config("traffic", "permutation needs at least two chiplets")
	}
	perm := derangement(len(chiplets), rng)
	out := make(UnitMatrix)
	for src, dst := range perm {
		spreadFromChiplet(out, chiplets, src, []int{dst}, 1.0)
	}
	return out, nil
}

// Hotspot picks n random hotspot chiplets. Each unit sends a share p of its
// load to the hotspots and 1-p to the rest. When a unit has no eligible
// destination in a group, that group's share carries over to the next.
func Hotspot(chiplets []Chiplet, rng *rand.Rand, n int, p float64) (UnitMatrix, error) {
	if n < 0 || n > len(chiplets) {
		return nil, errs.Config("traffic", "hotspot count %d out of range [0, %d]", n, len(chiplets))
	}
	if p < 0 || p > 1 {
		return nil, errs.Config("traffic", "hotspot share %g out of range [0, 1]", p)
	}
	all := lo.Range(len(chiplets))
	hot := source(rng).Perm(len(chiplets))[:n]
	cold := lo.Without(all, hot...)

	out := make(UnitMatrix)
	for src := range chiplets {
		groups := []struct {
			dsts  []int
			share float64
		}{
			{lo.Without(hot, src), p},
			{lo.Without(cold, src), 1 - p},
		}
		carry := 0.0
		for _, g := range groups {
			share := g.share + carry
			if len(g.dsts) == 0 {
				carry = share
				continue
			}
			carry = 0
			spreadFromChiplet(out, chiplets, src, g.dsts, share)
		}
	}
	return out, nil
}

// spreadFromChiplet makes every unit of chiplet src send load split evenly
// across all units of the chiplets in dsts.
func spreadFromChiplet(out UnitMatrix, chiplets []Chiplet, src int, dsts []int, load float64) {
	total := lo.SumBy(dsts, func(c int) int { return chiplets[c].Units })
	if total == 0 {
		return
	}
	rate := load / float64(total)
	for su := 0; su < chiplets[src].Units; su++ {
		for _, dc := range dsts {
			for du := 0; du < chiplets[dc].Units; du++ {
				out[Pair{Src: UnitID{src, su}, Dst: UnitID{dc, du}}] = rate
			}
		}
	}
}

func indicesOfKinds(chiplets []Chiplet, kinds []string) []int {
	var out []int
	for i, c := range chiplets {
		if lo.Contains(kinds, c.Kind) {
			out = append(out, i)
		}
	}
	return out
}

// derangement returns a permutation of 0..n-1 without fixed points. It uses
// Sattolo's algorithm, which yields a single n-cycle.
func derangement(n int, rng *rand.Rand) []int {
	rng = source(rng)
	perm := lo.Range(n)
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// source returns rng, or a clock-seeded generator when rng is nil.
func source(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// ---------------------------------------------------------------------------
// Traces
// ---------------------------------------------------------------------------

// Packet is one entry of a packet trace.
type Packet struct {
	SourceChiplet      int `json:"source_chiplet"`
	SourceUnit         int `json:"source_unit"`
	DestinationChiplet int `json:"destination_chiplet"`
	DestinationUnit    int `json:"destination_unit"`
	SizeInFlits        int `json:"size_in_flits"`
	InjectionCycle     int `json:"injection_cycle"`
}

// FromTrace converts a packet trace into a rate matrix: flits per pair
// divided by the span between the earliest and latest injection cycle.
func FromTrace(trace []Packet) (UnitMatrix, error) {
	if len(trace) == 0 {
		return nil, errs.Numeric("trace", "empty trace")
	}
	first := lo.MinBy(trace, func(a, b Packet) bool { return a.InjectionCycle < b.InjectionCycle })
	last := lo.MaxBy(trace, func(a, b Packet) bool { return a.InjectionCycle > b.InjectionCycle })
	span := last.InjectionCycle - first.InjectionCycle
	if span <= 0 {
		return nil, errs.Numeric("trace", "all packets injected in cycle %d", first.InjectionCycle)
	}

	out := make(UnitMatrix)
	for _, p := range trace {
		key := Pair{
			Src: UnitID{p.SourceChiplet, p.SourceUnit},
			Dst: UnitID{p.DestinationChiplet, p.DestinationUnit},
		}
		out[key] += float64(p.SizeInFlits)
	}
	for k := range out {
		out[k] /= float64(span)
	}
	return out, nil
}
