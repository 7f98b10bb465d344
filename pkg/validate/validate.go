// Package validate checks a design, its interconnect graph, and its routing
// table for problems before metrics are computed.
//
// Checks are grouped in tiers. Each tier is a pure function returning
// findings; none of them abort on the first problem and none mutate their
// inputs. Later tiers need the products of earlier ones (a graph, a table)
// and are skipped when those are unavailable.
package validate

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/graph"
	"github.com/chazu/rapidchiplet/pkg/routing"
)

// Severity indicates whether a finding blocks evaluation or is merely
// informational.
type Severity int

const (
	SeverityError   Severity = iota // blocks evaluation
	SeverityWarning                 // informational
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tier identifies the group of checks that produced a finding.
type Tier int

const (
	TierInputs    Tier = iota + 1 // parameters of technologies, chiplets, packaging, thermal
	TierPlacement                 // footprints and link endpoints
	TierGraph                     // connectivity
	TierRouting                   // routing table consistency
)

// Finding describes a single validation result.
type Finding struct {
	Tier     Tier     `json:"tier"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`    // stable machine-readable identifier
	Subject  string   `json:"subject"` // what the finding is about, e.g. "chiplet:3"
	Message  string   `json:"message"`
}

func (f Finding) Error() string {
	if f.Subject == "" {
		return fmt.Sprintf("[%s] %s", f.Severity, f.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", f.Severity, f.Subject, f.Message)
}

// Result bundles the findings of every tier that ran.
type Result struct {
	Findings []Finding `json:"findings"`
}

// Errors returns the blocking findings.
func (r Result) Errors() []Finding {
	return lo.Filter(r.Findings, func(f Finding, _ int) bool { return f.Severity == SeverityError })
}

// Warnings returns the advisory findings.
func (r Result) Warnings() []Finding {
	return lo.Filter(r.Findings, func(f Finding, _ int) bool { return f.Severity == SeverityWarning })
}

// OK reports whether there are no blocking findings.
func (r Result) OK() bool {
	return len(r.Errors()) == 0
}

// Has reports whether a finding with the given code is present.
func (r Result) Has(code string) bool {
	return lo.ContainsBy(r.Findings, func(f Finding) bool { return f.Code == code })
}

// Summary joins the blocking findings into one line per finding.
func (r Result) Summary() string {
	return strings.Join(lo.Map(r.Errors(), func(f Finding, _ int) string { return f.Error() }), "\n")
}

// Design runs the input and placement tiers on d, and the graph tier when
// the topology is well formed enough to build a graph. It returns the graph
// it built, or nil.
func Design(d *design.Design) (Result, *graph.Graph) {
	var r Result
	r.Findings = append(r.Findings, Inputs(d)...)
	placement := Placement(d)
	r.Findings = append(r.Findings, placement...)

	if lo.ContainsBy(placement, func(f Finding) bool { return f.Severity == SeverityError }) {
		return r, nil
	}
	g, err := graph.Build(d.Catalog, d.Placement, d.Topology)
	if err != nil {
		r.Findings = append(r.Findings, Finding{
			Tier: TierGraph, Severity: SeverityError, Code: "graph-build",
			Message: err.Error(),
		})
		return r, nil
	}
	r.Findings = append(r.Findings, Graph(g)...)
	return r, g
}

// All runs every tier. The routing tier is skipped when tbl is nil.
func All(d *design.Design, tbl *routing.Table) Result {
	r, g := Design(d)
	if g != nil && tbl != nil {
		r.Findings = append(r.Findings, Routing(g, tbl)...)
	}
	return r
}

// finding is shorthand for an error-severity finding.
func finding(tier Tier, code, subject, format string, args ...interface{}) Finding {
	return Finding{Tier: tier, Severity: SeverityError, Code: code, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// warning is shorthand for a warning-severity finding.
func warning(tier Tier, code, subject, format string, args ...interface{}) Finding {
	return Finding{Tier: tier, Severity: SeverityWarning, Code: code, Subject: subject, Message: fmt.Sprintf(format, args...)}
}
