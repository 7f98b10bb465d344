package metrics

import (
	"math"
	"sync"

	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/tessellate"
)

// Thermal is the steady-state temperature estimate in °C.
type Thermal struct {
	Avg        float64     `json:"avg"`
	Min        float64     `json:"min"`
	Max        float64     `json:"max"`
	Grid       [][]float64 `json:"grid"`
	Iterations int         `json:"iterations_simulated"`
}

// ThermalSummary rasterizes the placement and relaxes the temperature grid,
// starting from ambient, until the mean per-cell change drops to the
// threshold or the iteration limit is hit.
func ThermalSummary(c *Context) (*Thermal, error) {
	th := c.Design.ThermalConfig()
	if th.KT >= 0.25 {
		return nil, errs.Config("thermal.k_t", "must be below 0.25, got %g", th.KT)
	}
	area, err := c.areaSummary()
	if err != nil {
		return nil, err
	}
	heat, err := tessellate.Tessellate(c.Design, area.Bounds, th)
	if err != nil {
		return nil, errs.Config("thermal", "%v", err)
	}

	cur := heat.Clone()
	for r := range cur.Values {
		for col := range cur.Values[r] {
			cur.Values[r][col] = th.Ambient
		}
	}
	s := &stencil{
		in:      heat.Values,
		rows:    heat.Rows,
		cols:    heat.Cols,
		kt:      th.KT,
		ks:      th.KS,
		khs:     th.KHS,
		amb:     th.Ambient,
		workers: max(1, min(c.Workers, heat.Rows)),
	}

	iter := 0
	diff := math.Inf(1)
	for iter < th.IterationLimit && diff > th.Threshold {
		iter++
		next := heat.Clone()
		diff = s.step(cur.Values, next.Values)
		cur = next
	}
	return summarizeGrid(cur.Values, iter), nil
}

// stencil is one relaxation step over a fixed heat input.
type stencil struct {
	in          [][]float64
	rows, cols  int
	kt, ks, khs float64
	amb         float64
	workers     int
}

// step writes the next temperature grid into next and returns the mean
// absolute change. Rows are split into contiguous bands, one per worker.
func (s *stencil) step(cur, next [][]float64) float64 {
	partial := make([]float64, s.workers)
	band := (s.rows + s.workers - 1) / s.workers
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		lo, hi := w*band, min((w+1)*band, s.rows)
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for r := lo; r < hi; r++ {
				partial[w] += s.row(cur, next, r)
			}
		}(w, lo, hi)
	}
	wg.Wait()
	sum := 0.0
	for _, p := range partial {
		sum += p
	}
	return sum / float64(s.rows*s.cols)
}

// row updates one grid row and returns its summed absolute change.
func (s *stencil) row(cur, next [][]float64, r int) float64 {
	sum := 0.0
	for c := 0; c < s.cols; c++ {
		t := cur[r][c]
		flow := 0.0
		if c > 0 {
			flow += cur[r][c-1] - t
		}
		if c < s.cols-1 {
			flow += cur[r][c+1] - t
		}
		if r > 0 {
			flow += cur[r-1][c] - t
		}
		if r < s.rows-1 {
			flow += cur[r+1][c] - t
		}
		loss := math.Abs(t - s.amb)
		// Each outer side of a border cell dissipates separately, so
		// corners lose twice and a single cell four times.
		sides := 0
		for _, edge := range []bool{c == 0, c == s.cols-1, r == 0, r == s.rows-1} {
			if edge {
				sides++
			}
		}
		v := t + s.in[r][c] + s.kt*flow - s.khs*loss - float64(sides)*s.ks*loss
		next[r][c] = v
		sum += math.Abs(v - t)
	}
	return sum
}

func summarizeGrid(grid [][]float64, iter int) *Thermal {
	out := &Thermal{Min: math.Inf(1), Max: math.Inf(-1), Grid: grid, Iterations: iter}
	n := 0
	for _, row := range grid {
		for _, v := range row {
			out.Avg += v
			out.Min = math.Min(out.Min, v)
			out.Max = math.Max(out.Max, v)
			n++
		}
	}
	out.Avg /= float64(n)
	return out
}
