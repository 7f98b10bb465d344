// Package engine evaluates design DSL sources. Each evaluation runs in a
// fresh zygomys sandbox whose builtins (see builtins.go) fill in a
// design.Design.
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/rapidchiplet/pkg/design"
)

// EvalError is an error in user code: a parse error, an unknown symbol, or
// a builtin rejecting its arguments.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Engine evaluates design sources. Overlapping calls are allowed, but only
// the most recent one returns a design; older ones report Superseded.
type Engine struct {
	mu         sync.Mutex
	generation uint64
	timeout    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds a single evaluation. Non-positive values keep
// EvalTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEngine creates a new Engine instance.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{timeout: EvalTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) currentGeneration() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Evaluate builds a design from source.
//
//   - success: design, nil, nil
//   - error in user code: nil, eval errors, nil
//   - timeout, panic or superseded: nil, nil, *FatalError
func (e *Engine) Evaluate(source string) (*design.Design, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	tr := newTracker(design.New(""))
	ch := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: &FatalError{Reason: Panicked, Panic: r, Progress: tr.snapshot()}}
			}
		}()
		d, evalErrs := evaluate(source, tr)
		ch <- evalResult{design: d, errors: evalErrs}
	}()

	return e.wait(ch, gen, tr)
}

// evaluate runs source in a fresh sandbox. An empty source yields tr's
// empty design.
func evaluate(source string, tr *tracker) (*design.Design, []EvalError) {
	if strings.TrimSpace(source) == "" {
		return tr.design, nil
	}

	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, tr)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err)
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err)
	}
	return tr.design, nil
}

// zygomys reports positions as "Error on line N: ..." or "line N: ...".
var (
	linePattern      = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)
	linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)
)

// parseZygomysError converts a zygomys error into EvalErrors, extracting
// the line number when the message carries one.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
