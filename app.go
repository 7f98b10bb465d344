package main

import (
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chazu/rapidchiplet/pkg/design"
	"github.com/chazu/rapidchiplet/pkg/engine"
	"github.com/chazu/rapidchiplet/pkg/metrics"
	"github.com/chazu/rapidchiplet/pkg/routing"
	"github.com/chazu/rapidchiplet/pkg/validate"
)

// Source formats accepted by App.Evaluate.
const (
	FormatDSL  = "dsl"
	FormatJSON = "json"
)

// App chains the pipeline stages: design source → design → validation →
// routing synthesis → metrics. It is shared by the CLI and the HTTP server.
type App struct {
	// evalMu serializes DSL evaluation. zygomys keeps global state that is
	// not safe for concurrent sandbox creation, and the engine discards
	// results superseded by a newer call.
	evalMu sync.Mutex
	engine *engine.Engine
}

// Request is one evaluation request.
type Request struct {
	Source       string         `json:"source"`
	Format       string         `json:"format,omitempty"`  // dsl or json; guessed from Source when empty
	Routing      string         `json:"routing,omitempty"` // algorithm name, default simple-deterministic
	Seed         *int64         `json:"seed,omitempty"`    // turn-model seed; clock-seeded when nil
	Metrics      string         `json:"metrics,omitempty"` // comma-separated list or "all"
	Workers      int            `json:"workers,omitempty"`
	Table        *routing.Table `json:"routing_table,omitempty"` // use instead of synthesizing
	ValidateOnly bool           `json:"validate_only,omitempty"`
}

// EvalErrorData is a JSON-serializable pipeline error.
type EvalErrorData struct {
	Stage   string `json:"stage"`
	Line    int    `json:"line,omitempty"`
	Col     int    `json:"col,omitempty"`
	Message string `json:"message"`
}

// EvalResult is the full result of one request.
type EvalResult struct {
	RunID    string             `json:"run_id"`
	Design   string             `json:"design_name"`
	Seed     *int64             `json:"seed,omitempty"`
	Errors   []EvalErrorData    `json:"errors"`
	Findings []validate.Finding `json:"findings"`
	Routing  *routing.Table     `json:"routing,omitempty"`
	Metrics  *metrics.Results   `json:"metrics,omitempty"`

	design *design.Design
}

// OK reports whether the run finished without errors or blocking findings.
func (r *EvalResult) OK() bool {
	if len(r.Errors) > 0 {
		return false
	}
	return validate.Result{Findings: r.Findings}.OK()
}

func (r *EvalResult) fail(stage string, err error) *EvalResult {
	r.Errors = append(r.Errors, EvalErrorData{Stage: stage, Message: err.Error()})
	return r
}

// NewApp creates a new App with a fresh engine.
func NewApp() *App {
	return &App{engine: engine.NewEngine()}
}

// Evaluate runs the pipeline for req. Every failure is reported in the
// result; later stages are skipped once one fails.
func (a *App) Evaluate(req Request) *EvalResult {
	result := &EvalResult{
		RunID:    uuid.NewString(),
		Errors:   []EvalErrorData{},
		Findings: []validate.Finding{},
	}
	start := time.Now()
	defer func() {
		log.Printf("run %s: design %q: %d errors, %d findings in %s",
			result.RunID, result.Design, len(result.Errors), len(result.Findings), time.Since(start))
	}()

	// Step 1: Parse options before doing any work.
	sel, err := metrics.ParseSelection(orDefault(req.Metrics, "all"))
	if err != nil {
		return result.fail("request", err)
	}
	alg, err := routing.ParseAlgorithm(orDefault(req.Routing, string(routing.SimpleDeterministic)))
	if err != nil {
		return result.fail("request", err)
	}

	// Step 2: Produce the design from its source.
	d, ok := a.load(req, result)
	if !ok {
		return result
	}
	result.Design = d.Name
	result.design = d

	// Step 3: Validate the inputs and build the graph.
	vr, g := validate.Design(d)
	result.Findings = append(result.Findings, vr.Findings...)
	if !vr.OK() || g == nil {
		return result
	}

	// Step 4: Synthesize or adopt the routing table.
	tbl := req.Table
	if tbl == nil {
		opts := []routing.Option{routing.WithWorkers(workers(req.Workers))}
		if alg == routing.TurnModelRandom {
			seed := time.Now().UnixNano()
			if req.Seed != nil {
				seed = *req.Seed
			}
			result.Seed = &seed
			opts = append(opts, routing.WithSeed(seed))
		}
		tbl, err = routing.Synthesize(g, alg, opts...)
		if err != nil {
			return result.fail("routing", err)
		}
	}
	result.Routing = tbl
	routingFindings := validate.Routing(g, tbl)
	result.Findings = append(result.Findings, routingFindings...)
	if !(validate.Result{Findings: routingFindings}).OK() || req.ValidateOnly {
		return result
	}

	// Step 5: Compute the selected metrics.
	mc := metrics.NewContext(d, g, tbl)
	mc.Workers = workers(req.Workers)
	res, err := metrics.Evaluate(mc, sel)
	if err != nil {
		return result.fail("metrics", err)
	}
	result.Metrics = res
	return result
}

// load evaluates DSL source or decodes a JSON design document.
func (a *App) load(req Request, result *EvalResult) (*design.Design, bool) {
	format := req.Format
	if format == "" {
		format = guessFormat(req.Source)
	}
	switch format {
	case FormatJSON:
		d, err := design.Load(strings.NewReader(req.Source))
		if err != nil {
			result.fail("design", err)
			return nil, false
		}
		return d, true
	case FormatDSL:
		a.evalMu.Lock()
		d, evalErrs, err := a.engine.Evaluate(req.Source)
		a.evalMu.Unlock()
		if err != nil {
			// Fatal error (panic, timeout, etc.)
			log.Printf("run %s: evaluate fatal error: %v", result.RunID, err)
			result.fail("engine", err)
			return nil, false
		}
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{
				Stage:   "engine",
				Line:    e.Line,
				Col:     e.Col,
				Message: e.Message,
			})
		}
		return d, len(evalErrs) == 0
	}
	result.fail("request", errors.Errorf("unknown source format %q", format))
	return nil, false
}

// guessFormat treats sources that open with a JSON object as JSON designs.
func guessFormat(source string) string {
	if strings.HasPrefix(strings.TrimSpace(source), "{") {
		return FormatJSON
	}
	return FormatDSL
}

func workers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
