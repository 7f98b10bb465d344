package metrics_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/design/designtest"
	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
	"github.com/chazu/rapidchiplet/pkg/metrics"
	"github.com/chazu/rapidchiplet/pkg/routing"
	"github.com/chazu/rapidchiplet/pkg/traffic"
)

const eps = 1e-9

// setup builds the graph and a simple deterministic table for d.
func setup(t *testing.T, d *design.Design) *metrics.Context {
	t.Helper()
	g, err := graph.Build(d.Catalog, d.Placement, d.Topology)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tbl, err := routing.Synthesize(g, routing.SimpleDeterministic)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	return metrics.NewContext(d, g, tbl)
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= eps*math.Max(1, math.Abs(b))
}

func flow(d *design.Design, src, dst int, rate float64) {
	d.Traffic[traffic.Pair{Src: traffic.UnitID{Chiplet: src}, Dst: traffic.UnitID{Chiplet: dst}}] = rate
}

// ---------------------------------------------------------------------------
// Links
// ---------------------------------------------------------------------------

func TestLinkGeometry(t *testing.T) {
	c := setup(t, designtest.Line(2))
	s, err := metrics.Links(c)
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	// East PHY (2,1) to West PHY (3,1).
	if got := float64(s.Lengths.Min); got != 1 {
		t.Errorf("length = %g, want 1", got)
	}
	// 4 mm² * (1-0.5) * 0.25 * (1/0.1)² = 50 bits, halved per direction.
	if got := float64(s.Bandwidths.Max); got != 25 {
		t.Errorf("bandwidth = %g, want 25", got)
	}
	if s.Lengths.Histogram["1"] != 1 {
		t.Errorf("histogram = %v", s.Lengths.Histogram)
	}
}

func TestLinkLatencyRoundsUp(t *testing.T) {
	d := designtest.Line(2)
	flow(d, 0, 1, 1)
	d.Packaging.LinkLatency = design.Linear(0.2, 1.5) // 1.7 cycles at 1 mm
	c := setup(t, d)
	lat, err := metrics.LatencySummary(c)
	if err != nil {
		t.Fatalf("Latency: %v", err)
	}
	// 1 + 5 + 2 + 5 + 1 + 1
	if lat.Max != 15 {
		t.Errorf("latency = %g, want 15", lat.Max)
	}
}

func TestEuclideanLength(t *testing.T) {
	d := designtest.Line(2)
	d.Placement.Chiplets[1].Position.Y = 3 // West PHY moves to (3,4)
	d.Packaging.LinkMetric = design.Euclidean
	s, err := metrics.Links(setup(t, d))
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if got, want := float64(s.Lengths.Min), math.Sqrt(1+9); !near(got, want) {
		t.Errorf("length = %g, want %g", got, want)
	}
}

func TestRouterOnlyLinkHasInfiniteBandwidth(t *testing.T) {
	d := designtest.IRouterStar(1)
	d.Placement.IRouters[0].Ports = 2
	d.Placement.IRouters = append(d.Placement.IRouters, design.IRouterInstance{Position: design.Position{X: 5, Y: 6}, Ports: 1})
	d.Topology = append(d.Topology, design.Link{
		A: design.Endpoint{Kind: design.EndpointIRouter, Instance: 0, Port: 1},
		B: design.Endpoint{Kind: design.EndpointIRouter, Instance: 1, Port: 0},
	})
	s, err := metrics.Links(setup(t, d))
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if !math.IsInf(float64(s.Bandwidths.Max), 1) || float64(s.Bandwidths.Min) != 25 {
		t.Errorf("bandwidths = %v", s.Bandwidths.Values)
	}
	b, err := json.Marshal(s.Bandwidths.Max)
	if err != nil || string(b) != `"+Inf"` {
		t.Errorf("marshal = %s, %v", b, err)
	}
}

func TestNumberJSON(t *testing.T) {
	for _, v := range []float64{1.5, math.Inf(1), math.Inf(-1)} {
		b, err := json.Marshal(metrics.Number(v))
		if err != nil {
			t.Fatalf("Marshal(%g): %v", v, err)
		}
		var back metrics.Number
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if float64(back) != v {
			t.Errorf("round trip %g -> %s -> %g", v, b, float64(back))
		}
	}
	var n metrics.Number
	if err := json.Unmarshal([]byte(`"lots"`), &n); err == nil {
		t.Error("expected error for bad string")
	}
}

// ---------------------------------------------------------------------------
// Area and power
// ---------------------------------------------------------------------------

func TestAreaSummary(t *testing.T) {
	tests := []struct {
		name          string
		d             *design.Design
		width, height float64
		chiplets      float64
	}{
		{"line", designtest.Line(2), 5, 2, 8},
		{"grid", designtest.Grid(2, 2), 5, 5, 16},
		{"irouter", designtest.IRouterStar(2), 5, 6, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := metrics.AreaSummary(setup(t, tt.d))
			if err != nil {
				t.Fatalf("Area: %v", err)
			}
			if a.ChipWidth != tt.width || a.ChipHeight != tt.height {
				t.Errorf("size = %gx%g, want %gx%g", a.ChipWidth, a.ChipHeight, tt.width, tt.height)
			}
			if a.TotalChipletArea != tt.chiplets {
				t.Errorf("chiplet area = %g, want %g", a.TotalChipletArea, tt.chiplets)
			}
			if a.TotalInterposerArea != tt.width*tt.height {
				t.Errorf("interposer area = %g", a.TotalInterposerArea)
			}
		})
	}
}

func TestAreaIsRotationAware(t *testing.T) {
	d := designtest.Line(1)
	ct := d.Catalog["relay"]
	ct.Dimensions = design.Dimensions{X: 4, Y: 2}
	d.Catalog["relay"] = ct
	d.Placement.Chiplets[0].Rotation = 90
	a, err := metrics.AreaSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Area: %v", err)
	}
	if a.ChipWidth != 2 || a.ChipHeight != 4 {
		t.Errorf("size = %gx%g, want 2x4", a.ChipWidth, a.ChipHeight)
	}
}

func TestPowerSummary(t *testing.T) {
	d := designtest.Line(2)
	d.Packaging.LinkPower = design.Linear(0.5, 2)
	p, err := metrics.PowerSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Power: %v", err)
	}
	if p.TotalChipletPower != 8 || p.TotalLinkPower != 2.5 || p.TotalInterposerPower != 0 {
		t.Errorf("power = %+v", p)
	}
	if p.TotalPower != 10.5 {
		t.Errorf("total = %g, want 10.5", p.TotalPower)
	}

	d = designtest.IRouterStar(2)
	p, err = metrics.PowerSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Power: %v", err)
	}
	if p.TotalInterposerPower != 0.5 {
		t.Errorf("interposer power = %g, want 0.5", p.TotalInterposerPower)
	}
	d.Packaging.IsActive = false
	p, _ = metrics.PowerSummary(setup(t, d))
	if p.TotalInterposerPower != 0 {
		t.Errorf("passive interposer power = %g", p.TotalInterposerPower)
	}
}

// ---------------------------------------------------------------------------
// Cost
// ---------------------------------------------------------------------------

func TestCostWithoutDefects(t *testing.T) {
	d := designtest.Line(2)
	tech := d.Technologies[designtest.Tech]
	tech.DefectDensity = 0
	d.Technologies[designtest.Tech] = tech

	cost, err := metrics.CostSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	dc := cost.PerChiplet["relay"]
	// π·150²/4 − 2π·150/√8 = 17338.24
	if dc.DiesPerWafer != 17338 {
		t.Errorf("dies per wafer = %d, want 17338", dc.DiesPerWafer)
	}
	if dc.ManufacturingYield != 1 {
		t.Errorf("yield = %g, want 1", dc.ManufacturingYield)
	}
	if want := 2 * 10000.0 / 17338; !near(cost.TotalCost, want) {
		t.Errorf("total = %g, want %g", cost.TotalCost, want)
	}
	if cost.Interposer != nil {
		t.Error("unexpected interposer cost")
	}
}

func TestCostWithInterposer(t *testing.T) {
	d := designtest.IRouterStar(2)
	d.Packaging.PackagingYield = 0.5
	cost, err := metrics.CostSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost.Interposer == nil {
		t.Fatal("missing interposer cost")
	}
	want := (2*cost.PerChiplet["relay"].Cost + cost.Interposer.Cost) / 0.5
	if !near(cost.TotalCost, want) {
		t.Errorf("total = %g, want %g", cost.TotalCost, want)
	}
	// 5x6 mm interposer with defect density 0.001.
	if !near(cost.Interposer.ManufacturingYield, 1/(1+0.001*30)) {
		t.Errorf("interposer yield = %g", cost.Interposer.ManufacturingYield)
	}
}

func TestCostNumericErrors(t *testing.T) {
	d := designtest.Line(2)
	d.Packaging.PackagingYield = 0
	if _, err := metrics.CostSummary(setup(t, d)); !errs.IsNumeric(err) {
		t.Errorf("zero packaging yield: err = %v", err)
	}

	d = designtest.Line(1)
	ct := d.Catalog["relay"]
	ct.Dimensions = design.Dimensions{X: 300, Y: 300}
	d.Catalog["relay"] = ct
	if _, err := metrics.CostSummary(setup(t, d)); !errs.IsNumeric(err) {
		t.Errorf("die larger than wafer: err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Latency and throughput
// ---------------------------------------------------------------------------

func TestLatencyLine(t *testing.T) {
	d := designtest.Line(3)
	designtest.AllToAll(d)
	lat, err := metrics.LatencySummary(setup(t, d))
	if err != nil {
		t.Fatalf("Latency: %v", err)
	}
	// Adjacent: 1 + (3+2) + 1 + (3+2) + 1 + 1 = 14.
	// Two hops add a link and a relay (2+3+2): 22.
	if lat.Min != 14 || lat.Max != 22 {
		t.Errorf("min/max = %g/%g, want 14/22", lat.Min, lat.Max)
	}
	if want := (4*14.0 + 2*22) / 6; !near(lat.Avg, want) {
		t.Errorf("avg = %g, want %g", lat.Avg, want)
	}
	if len(lat.Pairs) != 6 {
		t.Errorf("pairs = %d, want 6", len(lat.Pairs))
	}
}

func TestLatencyRingNeighbors(t *testing.T) {
	d := designtest.Grid(2, 2) // ring 0-1-3-2-0
	for _, e := range [][2]int{{0, 1}, {1, 3}, {3, 2}, {2, 0}} {
		flow(d, e[0], e[1], 1)
		flow(d, e[1], e[0], 1)
	}
	lat, err := metrics.LatencySummary(setup(t, d))
	if err != nil {
		t.Fatalf("Latency: %v", err)
	}
	if lat.Min != lat.Max || lat.Avg != lat.Max {
		t.Errorf("min/avg/max = %g/%g/%g, want all equal", lat.Min, lat.Avg, lat.Max)
	}
}

func TestLatencyThroughIRouter(t *testing.T) {
	d := designtest.IRouterStar(2)
	flow(d, 0, 1, 1)
	lat, err := metrics.LatencySummary(setup(t, d))
	if err != nil {
		t.Fatalf("Latency: %v", err)
	}
	// 1 + 5 + 1 + router 1 + 1 + 5 + 1 + 1
	if lat.Max != 16 {
		t.Errorf("latency = %g, want 16", lat.Max)
	}
}

func TestLatencyErrors(t *testing.T) {
	d := designtest.Line(2)
	c := setup(t, d)
	if _, err := metrics.LatencySummary(c); !errs.IsNumeric(err) {
		t.Errorf("no traffic: err = %v", err)
	}
	flow(d, 0, 1, 1)
	c = setup(t, d)
	c.Table = nil
	if _, err := metrics.LatencySummary(c); !errs.IsPrecondition(err) {
		t.Errorf("no table: err = %v", err)
	}
}

func TestThroughputLine(t *testing.T) {
	d := designtest.Line(3)
	designtest.AllToAll(d)
	tp, err := metrics.ThroughputSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Throughput: %v", err)
	}
	// Every directed link carries two flows over 25 bit/cycle.
	if got := float64(tp.Aggregate); !near(got, 12.5*6) {
		t.Errorf("aggregate = %g, want 75", got)
	}
	if len(tp.Links) != 4 {
		t.Fatalf("links = %d, want 4", len(tp.Links))
	}
	for _, l := range tp.Links {
		if l.Load != 2 {
			t.Errorf("%s->%s load = %g, want 2", l.From, l.To, l.Load)
		}
	}
}

func TestThroughputUnloadedLinkIsInfinite(t *testing.T) {
	d := designtest.Line(3)
	flow(d, 0, 1, 2)
	tp, err := metrics.ThroughputSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Throughput: %v", err)
	}
	unloaded := 0
	for _, l := range tp.Links {
		if l.Load == 0 {
			unloaded++
			if !math.IsInf(float64(l.Throughput), 1) {
				t.Errorf("%s->%s throughput = %g", l.From, l.To, float64(l.Throughput))
			}
		}
	}
	if unloaded != 3 {
		t.Errorf("unloaded = %d, want 3", unloaded)
	}
	if got := float64(tp.Aggregate); !near(got, 25.0/2*2) {
		t.Errorf("aggregate = %g, want 25", got)
	}
}

// ---------------------------------------------------------------------------
// Thermal
// ---------------------------------------------------------------------------

// single returns one powerless chiplet covered by a single thermal cell.
func single(limit int) *design.Design {
	d := designtest.Line(1)
	ct := d.Catalog["relay"]
	ct.Power = 0
	d.Catalog["relay"] = ct
	th := design.DefaultThermal()
	th.Resolution = designtest.Size
	th.IterationLimit = limit
	d.Thermal = &th
	return d
}

func TestThermalZeroIterations(t *testing.T) {
	d := single(0)
	th, err := metrics.ThermalSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Thermal: %v", err)
	}
	amb := d.Thermal.Ambient
	if th.Iterations != 0 || th.Avg != amb || th.Min != amb || th.Max != amb {
		t.Errorf("thermal = %+v, want ambient %g", th, amb)
	}
	if len(th.Grid) != 1 || len(th.Grid[0]) != 1 {
		t.Errorf("grid = %v, want 1x1", th.Grid)
	}
}

func TestThermalSingleStep(t *testing.T) {
	d := single(1)
	ct := d.Catalog["relay"]
	ct.Power = 4
	d.Catalog["relay"] = ct
	th, err := metrics.ThermalSummary(setup(t, d))
	if err != nil {
		t.Fatalf("Thermal: %v", err)
	}
	// From ambient there is no loss yet: the cell gains power/area * k_c.
	if want := d.Thermal.Ambient + 1*d.Thermal.KC; !near(th.Max, want) || th.Iterations != 1 {
		t.Errorf("thermal = %+v, want %g after one step", th, want)
	}
}

func TestThermalConvergesAndIsWorkerIndependent(t *testing.T) {
	d := designtest.Grid(2, 2)
	one := setup(t, d)
	one.Workers = 1
	a, err := metrics.ThermalSummary(one)
	if err != nil {
		t.Fatalf("Thermal: %v", err)
	}
	if a.Iterations >= design.DefaultThermal().IterationLimit {
		t.Errorf("did not converge in %d iterations", a.Iterations)
	}
	if a.Min < design.DefaultThermal().Ambient || a.Max <= a.Min {
		t.Errorf("min/max = %g/%g", a.Min, a.Max)
	}

	many := setup(t, d)
	many.Workers = 4
	b, err := metrics.ThermalSummary(many)
	if err != nil {
		t.Fatalf("Thermal: %v", err)
	}
	if !near(a.Avg, b.Avg) || !near(a.Max, b.Max) {
		t.Errorf("workers changed result: %g/%g vs %g/%g", a.Avg, a.Max, b.Avg, b.Max)
	}
}

func TestThermalRejectsUnstableConduction(t *testing.T) {
	d := single(1)
	d.Thermal.KT = 0.25
	if _, err := metrics.ThermalSummary(setup(t, d)); !errs.IsConfig(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

// ---------------------------------------------------------------------------
// Evaluate
// ---------------------------------------------------------------------------

func TestEvaluateAll(t *testing.T) {
	d := designtest.Line(3)
	designtest.AllToAll(d)
	res, err := metrics.Evaluate(setup(t, d), metrics.SelectAll())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Area == nil || res.Power == nil || res.Links == nil || res.Cost == nil ||
		res.Latency == nil || res.Throughput == nil || res.Thermal == nil {
		t.Fatalf("missing results: %+v", res)
	}
	if len(res.Timings) != len(metrics.AllMetrics) {
		t.Errorf("timings = %v", res.Timings)
	}
	if _, err := json.Marshal(res); err != nil {
		t.Errorf("Marshal: %v", err)
	}
}

func TestEvaluateSelection(t *testing.T) {
	sel, err := metrics.ParseSelection("area, cost")
	if err != nil {
		t.Fatalf("ParseSelection: %v", err)
	}
	if sel.NeedsRouting() {
		t.Error("area and cost need no routing")
	}
	res, err := metrics.Evaluate(setup(t, designtest.Line(2)), sel)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Area == nil || res.Cost == nil || res.Latency != nil || res.Thermal != nil {
		t.Errorf("unexpected selection result: %+v", res)
	}
	if _, err := metrics.ParseSelection("area,speed"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestEvaluateNamesFailingMetric(t *testing.T) {
	_, err := metrics.Evaluate(setup(t, designtest.Line(2)), metrics.Selection{metrics.MetricLatency: true})
	if err == nil || !strings.Contains(err.Error(), "latency") || !errs.IsNumeric(err) {
		t.Errorf("err = %v", err)
	}
}
