package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Metric names one selectable metric.
type Metric string

const (
	MetricArea       Metric = "area"
	MetricPower      Metric = "power"
	MetricLinks      Metric = "links"
	MetricCost       Metric = "cost"
	MetricLatency    Metric = "latency"
	MetricThroughput Metric = "throughput"
	MetricThermal    Metric = "thermal"
)

// AllMetrics lists every metric in evaluation order.
var AllMetrics = []Metric{MetricArea, MetricPower, MetricLinks, MetricCost, MetricLatency, MetricThroughput, MetricThermal}

// Selection is the set of metrics to compute.
type Selection map[Metric]bool

// SelectAll returns a selection of every metric.
func SelectAll() Selection {
	s := make(Selection)
	for _, m := range AllMetrics {
		s[m] = true
	}
	return s
}

// ParseSelection parses a comma separated metric list. "all" selects
// everything.
func ParseSelection(list string) (Selection, error) {
	s := make(Selection)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if name == "all" {
			return SelectAll(), nil
		}
		m := Metric(name)
		if !isMetric(m) {
			return nil, fmt.Errorf("metrics: unknown metric %q", name)
		}
		s[m] = true
	}
	return s, nil
}

// NeedsRouting reports whether any selected metric walks the routing table.
func (s Selection) NeedsRouting() bool {
	return s[MetricLatency] || s[MetricThroughput]
}

func isMetric(m Metric) bool {
	return lo.Contains(AllMetrics, m)
}

// Results collects the selected metrics. Unselected metrics stay nil.
type Results struct {
	Area       *Area              `json:"area_summary,omitempty"`
	Power      *Power             `json:"power_summary,omitempty"`
	Links      *LinkSummary       `json:"link_summary,omitempty"`
	Cost       *Cost              `json:"cost,omitempty"`
	Latency    *Latency           `json:"latency,omitempty"`
	Throughput *Throughput        `json:"throughput,omitempty"`
	Thermal    *Thermal           `json:"thermal_analysis,omitempty"`
	Timings    map[Metric]float64 `json:"timings"` // seconds
}

// Evaluate computes the selected metrics in a fixed order. The first
// failing metric aborts the run and is named in the error.
func Evaluate(c *Context, sel Selection) (*Results, error) {
	res := &Results{Timings: make(map[Metric]float64)}
	run := func(m Metric, f func() error) error {
		if !sel[m] {
			return nil
		}
		start := time.Now()
		if err := f(); err != nil {
			return fmt.Errorf("metrics: %s: %w", m, err)
		}
		res.Timings[m] = time.Since(start).Seconds()
		return nil
	}

	steps := []struct {
		m Metric
		f func() error
	}{
		{MetricArea, func() (err error) { res.Area, err = AreaSummary(c); return }},
		{MetricPower, func() (err error) { res.Power, err = PowerSummary(c); return }},
		{MetricLinks, func() (err error) { res.Links, err = Links(c); return }},
		{MetricCost, func() (err error) { res.Cost, err = CostSummary(c); return }},
		{MetricLatency, func() (err error) { res.Latency, err = LatencySummary(c); return }},
		{MetricThroughput, func() (err error) { res.Throughput, err = ThroughputSummary(c); return }},
		{MetricThermal, func() (err error) { res.Thermal, err = ThermalSummary(c); return }},
	}
	for _, s := range steps {
		if err := run(s.m, s.f); err != nil {
			return nil, err
		}
	}
	return res, nil
}
