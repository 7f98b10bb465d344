package engine

import (
	"fmt"
	"strings"
	"sync/atomic"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/rapidchiplet/pkg/design"
)

// builtinFunc is the signature zygomys expects for Go builtins.
type builtinFunc = func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error)

// Progress describes how much of a design one evaluation had built.
type Progress struct {
	Builtin  string // last builtin entered, in DSL spelling
	Calls    int    // builtin calls so far
	Chiplets int
	IRouters int
	Links    int
	Flows    int
}

func (p Progress) String() string {
	if p.Calls == 0 {
		return "no builtin called yet"
	}
	return fmt.Sprintf("in (%s) after %d builtin calls: %d chiplets, %d interposer routers, %d links, %d flows",
		p.Builtin, p.Calls, p.Chiplets, p.IRouters, p.Links, p.Flows)
}

// tracker owns the design of one evaluation. The evaluating goroutine is
// the only writer of the design; the counters are published atomically so
// the waiting side can read them after a timeout without touching the
// design.
type tracker struct {
	design *design.Design

	builtin  atomic.Value // string
	calls    atomic.Int64
	chiplets atomic.Int64
	irouters atomic.Int64
	links    atomic.Int64
	flows    atomic.Int64
}

func newTracker(d *design.Design) *tracker {
	tr := &tracker{design: d}
	tr.builtin.Store("")
	return tr
}

// add registers fn under name and records every call to it.
func (tr *tracker) add(env *zygo.Zlisp, name string, fn builtinFunc) {
	dslName := strings.ReplaceAll(name, "_", "-")
	env.AddFunction(name, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		tr.builtin.Store(dslName)
		tr.calls.Add(1)
		res, err := fn(env, name, args)
		tr.publish()
		return res, err
	})
}

func (tr *tracker) publish() {
	d := tr.design
	tr.chiplets.Store(int64(len(d.Placement.Chiplets)))
	tr.irouters.Store(int64(len(d.Placement.IRouters)))
	tr.links.Store(int64(len(d.Topology)))
	tr.flows.Store(int64(len(d.Traffic)))
}

func (tr *tracker) snapshot() Progress {
	return Progress{
		Builtin:  tr.builtin.Load().(string),
		Calls:    int(tr.calls.Load()),
		Chiplets: int(tr.chiplets.Load()),
		IRouters: int(tr.irouters.Load()),
		Links:    int(tr.links.Load()),
		Flows:    int(tr.flows.Load()),
	}
}
