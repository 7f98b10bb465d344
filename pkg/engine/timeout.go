package engine

import (
	"fmt"
	"time"

	"github.com/chazu/rapidchiplet/pkg/design"
)

// EvalTimeout is the default limit for a single evaluation.
const EvalTimeout = 5 * time.Second

// FatalReason says why an evaluation produced no result.
type FatalReason int

const (
	TimedOut FatalReason = iota
	Superseded
	Panicked
)

// FatalError is returned when evaluation is abandoned rather than failing
// in user code. Progress tells how far the design had been built.
type FatalError struct {
	Reason   FatalReason
	After    time.Duration // TimedOut only
	Panic    interface{}   // Panicked only
	Progress Progress
}

func (e *FatalError) Error() string {
	var what string
	switch e.Reason {
	case TimedOut:
		what = fmt.Sprintf("evaluation timed out after %s", e.After)
	case Superseded:
		what = "evaluation superseded by a newer request"
	default:
		what = fmt.Sprintf("panic during evaluation: %v", e.Panic)
	}
	return fmt.Sprintf("engine: %s; design stopped %s", what, e.Progress)
}

type evalResult struct {
	design *design.Design
	errors []EvalError
	err    error
}

// wait returns the result of evaluation gen, or a FatalError when it runs
// past the engine's timeout or a newer evaluation has started meanwhile.
// A timed-out goroutine keeps running; its result is dropped.
func (e *Engine) wait(ch <-chan evalResult, gen uint64, tr *tracker) (*design.Design, []EvalError, error) {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if gen != e.currentGeneration() {
			return nil, nil, &FatalError{Reason: Superseded, Progress: tr.snapshot()}
		}
		return res.design, res.errors, res.err
	case <-timer.C:
		return nil, nil, &FatalError{Reason: TimedOut, After: e.timeout, Progress: tr.snapshot()}
	}
}
