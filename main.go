// Command rapidchiplet evaluates chiplet interconnect designs: it validates a
// design, synthesizes a routing table, and computes area, power, link, cost,
// latency, throughput, and thermal metrics.
//
// Usage:
//
//	rapidchiplet [flags] design.rcd|design.json
//	rapidchiplet -serve :8080
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/tebeka/atexit"

	"github.com/chazu/rapidchiplet/pkg/kernel/sdfx"
	"github.com/chazu/rapidchiplet/pkg/routing"
)

type options struct {
	routing      string
	seed         int64
	metrics      string
	workers      int
	table        string
	encoding     string
	out          string
	routingOut   string
	validateOnly bool
	model        string
	modelCells   int
	serve        string
	color        string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.routing, "routing", string(routing.SimpleDeterministic), "routing algorithm: simple-deterministic or turn-model-random")
	flag.Int64Var(&o.seed, "seed", -1, "turn-model seed; negative seeds from the clock")
	flag.StringVar(&o.metrics, "metrics", "all", "comma-separated metrics: area,power,links,cost,latency,throughput,thermal or all")
	flag.IntVar(&o.workers, "workers", 0, "worker goroutines; 0 uses GOMAXPROCS")
	flag.StringVar(&o.table, "table", "", "routing table JSON to use instead of synthesizing one")
	flag.StringVar(&o.encoding, "format", EncodingJSON, "result encoding: json, msgpack, or cbor")
	flag.StringVar(&o.out, "out", "", "write results here instead of stdout")
	flag.StringVar(&o.routingOut, "routing-out", "", "also write the routing table JSON here")
	flag.StringVar(&o.model, "model", "", "write a 3D package model here: ASCII STL, or a JSON mesh for .json paths")
	flag.IntVar(&o.modelCells, "model-cells", sdfx.DefaultMeshCells, "marching cubes resolution of the package model")
	flag.BoolVar(&o.validateOnly, "validate-only", false, "stop after validation and routing")
	flag.StringVar(&o.serve, "serve", "", "serve the HTTP API on this address instead of evaluating a file")
	flag.StringVar(&o.color, "color", ColorAuto, "color findings: auto, always, or never")
	flag.Parse()
	return o
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	o := parseFlags()
	app := NewApp()

	if o.serve != "" {
		atexit.Exit(serve(app, o.serve))
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: rapidchiplet [flags] design.rcd|design.json")
		flag.PrintDefaults()
		atexit.Exit(2)
	}
	atexit.Exit(run(app, o, flag.Arg(0)))
}

// run evaluates one design file and returns the process exit code.
func run(app *App, o options, path string) int {
	rep := newReporter(os.Stderr, o.color)

	source, err := os.ReadFile(path)
	if err != nil {
		log.Printf("read design: %v", err)
		return 1
	}
	req := Request{
		Source:       string(source),
		Routing:      o.routing,
		Metrics:      o.metrics,
		Workers:      o.workers,
		ValidateOnly: o.validateOnly,
	}
	if filepath.Ext(path) == ".json" {
		req.Format = FormatJSON
	}
	if o.seed >= 0 {
		req.Seed = &o.seed
	}
	if o.table != "" {
		tbl, err := loadTable(o.table)
		if err != nil {
			log.Printf("read routing table: %v", err)
			return 1
		}
		req.Table = tbl
	}

	res := app.Evaluate(req)
	rep.findings(res.Findings)
	rep.errors(res.Errors)

	if o.routingOut != "" && res.Routing != nil {
		if err := writeFile(o.routingOut, EncodingJSON, res.Routing); err != nil {
			log.Printf("write routing table: %v", err)
			return 1
		}
	}
	if o.model != "" && res.design != nil {
		if err := writeModel(o.model, res.design, o.modelCells); err != nil {
			log.Printf("write model: %v", err)
			return 1
		}
	}
	if o.out != "" {
		err = writeFile(o.out, o.encoding, res)
	} else {
		err = encodeResult(os.Stdout, o.encoding, res)
	}
	if err != nil {
		log.Printf("write results: %v", err)
		return 1
	}

	rep.summary(res)
	if !res.OK() {
		return 1
	}
	return 0
}

func loadTable(path string) (*routing.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tbl routing.Table
	if err := json.NewDecoder(f).Decode(&tbl); err != nil {
		return nil, err
	}
	return &tbl, nil
}

func writeFile(path, encoding string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encodeResult(f, encoding, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// serve runs the HTTP API until interrupted and returns the exit code.
func serve(app *App, addr string) int {
	e := newServer(app)
	atexit.Register(func() { _ = e.Close() })

	errc := make(chan error, 1)
	go func() {
		log.Printf("serving on %s", addr)
		errc <- e.Start(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("serve: %v", err)
			return 1
		}
		return 0
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
		return 1
	}
	return 0
}
