// Package engine evaluates lispcad scripts. It wraps zygomys in a sandboxed
// environment, exposes the CAD builtins, and returns the previewed models
// as STL meshes.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"
	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/logging"
	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/kernel"
	"github.com/chazu/lispcad/pkg/stl"
)

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error or a runtime error in user code.
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

// ModelID identifies a model created during evaluation. Ids are unique for
// the lifetime of an Engine.
type ModelID uint64

// Result is the output of a successful evaluation.
type Result struct {
	// Value is the printed form of the last expression.
	Value string
	// Previews lists the previewed models in first-preview order, without
	// duplicates.
	Previews []ModelID
	// Meshes holds one mesh per previewed model and nothing else.
	Meshes map[ModelID]stl.Mesh
}

// Mesh returns the mesh of a previewed model.
func (r *Result) Mesh(id ModelID) (stl.Mesh, bool) {
	if r == nil {
		return stl.Mesh{}, false
	}
	m, ok := r.Meshes[id]
	return m, ok
}

// Engine wraps the zygomys interpreter for lispcad evaluation.
// It is safe for concurrent use; each call to Evaluate creates a fresh
// sandboxed environment.
type Engine struct {
	k        kernel.Kernel
	timeout  time.Duration
	fileLoad bool
	logger   *zap.Logger
	metrics  *metrics.Metrics

	nextID atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the hard limit for a single evaluation.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithFileLoad enables or disables the load-stl builtin.
func WithFileLoad(allow bool) Option {
	return func(e *Engine) { e.fileLoad = allow }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records evaluation durations and STL decodes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine that builds geometry with k.
func NewEngine(k kernel.Kernel, opts ...Option) *Engine {
	e := &Engine{k: k, timeout: EvalTimeout, fileLoad: true}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// Evaluate runs Lisp source in a fresh sandbox.
//
// Return semantics:
//   - On success: returns result + nil errors + nil error
//   - On parse/eval failure: returns nil result + eval errors + nil error
//   - On fatal failure (timeout, cancellation, panic): returns nil + nil + error
func (e *Engine) Evaluate(ctx context.Context, source string) (*Result, []EvalError, error) {
	start := time.Now()
	ch := make(chan evalResult, 1)

	st := newEvalState(e)
	env := zygo.NewZlispSandbox()
	stop := sync.OnceFunc(func() { env.Stop() })

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()
		defer stop()

		res, evalErrs, err := e.evaluate(env, st, source)
		ch <- evalResult{result: res, errors: evalErrs, err: err}
	}()

	res, evalErrs, err := waitWithTimeout(ctx, ch, e.timeout)
	if err != nil {
		// The interpreter may still be running. Builtins refuse to run once
		// halted, so a loop that builds geometry unwinds at its next call.
		st.halted.Store(true)
		stop()
	}

	outcome := metrics.ResultOK
	if err != nil || len(evalErrs) > 0 {
		outcome = metrics.ResultError
	}
	e.metrics.Eval(time.Since(start), outcome)
	switch {
	case err != nil:
		e.logger.Error("evaluation failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	case len(evalErrs) > 0:
		e.logger.Debug("evaluation errors", zap.Int("count", len(evalErrs)), zap.String("first", evalErrs[0].Error()))
	default:
		e.logger.Debug("evaluated",
			zap.Int("previews", len(res.Previews)), zap.Duration("elapsed", time.Since(start)))
	}
	return res, evalErrs, err
}

// evaluate performs the actual zygomys evaluation in env, a fresh sandbox.
func (e *Engine) evaluate(env *zygo.Zlisp, st *evalState, source string) (*Result, []EvalError, error) {
	// Empty source is a valid program that previews nothing.
	if strings.TrimSpace(source) == "" {
		return &Result{Value: "nil", Meshes: map[ModelID]stl.Mesh{}}, nil, nil
	}

	registerBuiltins(env, st)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}

	last, err := env.Run()
	if err != nil {
		return nil, parseZygomysError(err), nil
	}

	value := "nil"
	if last != nil {
		value = last.SexpString(nil)
	}

	meshes, err := st.previewMeshes()
	if err != nil {
		return nil, []EvalError{{Message: err.Error()}}, nil
	}
	return &Result{
		Value:    value,
		Previews: append([]ModelID(nil), st.previews...),
		Meshes:   meshes,
	}, nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into one or more EvalError values.
// It attempts to extract line number information from the error message.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	// zygomys formats parse errors as "Error on line N: <details>\n"
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}

	return []EvalError{{Message: strings.TrimSpace(msg)}}
}

// FormatErrors joins evaluation errors into a single console message.
func FormatErrors(errs []EvalError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "\n")
}
