// Package host answers UI requests on the native side: it loads script
// files, evaluates them, and saves previewed meshes as STL files.
package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/config"
	"github.com/chazu/lispcad/internal/logging"
	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/bridge"
	"github.com/chazu/lispcad/pkg/engine"
	"github.com/chazu/lispcad/pkg/kernel/sdfx"
	"github.com/chazu/lispcad/pkg/msg"
	"github.com/chazu/lispcad/pkg/stl"
)

// Evaluator runs a script. *engine.Engine implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, source string) (*engine.Result, []engine.EvalError, error)
}

var _ Evaluator = (*engine.Engine)(nil)

// Host holds the current script and the meshes of the latest successful
// evaluation. Requests are expected one at a time (bridge.Server
// guarantees this), but Host also locks so direct callers are safe.
type Host struct {
	eval    Evaluator
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	code     string
	codePath string
	polys    map[msg.MeshID][]byte
	meshes   map[msg.MeshID]stl.Mesh
}

var _ bridge.Handler = (*Host)(nil)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithMetrics counts STL encodes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// New returns a Host that evaluates scripts with eval.
func New(eval Evaluator, opts ...Option) *Host {
	h := &Host{eval: eval}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrNop(h.logger)
	return h
}

// Handle implements bridge.Handler.
func (h *Host) Handle(ctx context.Context, req msg.Request, reply func(msg.Response)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch r := req.(type) {
	case msg.RequestCode:
		reply(h.loadCode(r.Path))
	case msg.RequestEval:
		reply(h.evaluate(ctx))
	case msg.SaveStlFile:
		reply(h.save(r.MeshID, r.Path))
	default:
		h.logger.Warn("unhandled request", zap.String("type", fmt.Sprintf("%T", req)))
	}
}

// Code returns the current script and the path it was read from.
func (h *Host) Code() (text, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.codePath
}

func (h *Host) loadCode(path string) msg.Response {
	data, err := os.ReadFile(path)
	if err != nil {
		h.logger.Warn("failed to read code", zap.String("path", path), zap.Error(err))
		return msg.EvalError{Message: fmt.Sprintf("failed to read %s: %v", path, err)}
	}
	h.code = string(data)
	h.codePath = path
	h.logger.Info("loaded code", zap.String("path", path), zap.Int("bytes", len(data)))
	return msg.Code{Text: h.code}
}

func (h *Host) evaluate(ctx context.Context) msg.Response {
	// Meshes of earlier runs are gone once a new run starts, whatever its outcome.
	h.polys, h.meshes = nil, nil

	res, evalErrs, err := h.eval.Evaluate(ctx, h.code)
	if err != nil {
		return msg.EvalError{Message: err.Error()}
	}
	if len(evalErrs) > 0 {
		return msg.EvalError{Message: engine.FormatErrors(evalErrs)}
	}

	polys := make(map[msg.MeshID][]byte, len(res.Meshes))
	meshes := make(map[msg.MeshID]stl.Mesh, len(res.Meshes))
	previews := make([]msg.MeshID, 0, len(res.Previews))
	for _, id := range res.Previews {
		mesh, ok := res.Mesh(id)
		if !ok {
			// Result guarantees a mesh per preview; a gap is an engine bug.
			h.logger.Error("preview without mesh", zap.Uint64("id", uint64(id)))
			return msg.EvalError{Message: fmt.Sprintf("internal error: model %d has no mesh", id)}
		}
		mid := msg.MeshID(id)
		polys[mid] = stl.Encode(mesh)
		meshes[mid] = mesh
		previews = append(previews, mid)
		h.metrics.Mesh("encode", metrics.ResultOK)
	}

	h.polys = polys
	h.meshes = meshes
	return msg.EvalOk{Previews: previews, Polys: polys, Value: res.Value}
}

func (h *Host) save(id msg.MeshID, path string) msg.Response {
	raw, ok := h.polys[id]
	if !ok {
		return msg.SaveStlFileError{Message: fmt.Sprintf("Model ID %d not found", id)}
	}
	if err := writeAtomic(path, raw); err != nil {
		h.logger.Warn("failed to save stl", zap.Uint64("id", uint64(id)), zap.String("path", path), zap.Error(err))
		return msg.SaveStlFileError{Message: fmt.Sprintf("Error saving file: %v", err)}
	}

	fields := []zap.Field{zap.Uint64("id", uint64(id)), zap.String("path", path)}
	if min, max, ok := h.meshes[id].Bounds(); ok {
		fields = append(fields, zap.Any("min", min), zap.Any("max", max))
	}
	h.logger.Info("saved stl", fields...)
	return msg.SaveStlFileOk{Message: fmt.Sprintf("Successfully saved to %s", path)}
}

// writeAtomic writes raw to a temporary file next to dest, then renames it
// into place so a failed save never leaves a partial file.
func writeAtomic(dest string, raw []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".lispcad-*.stl")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := stl.WriteRaw(tmp, raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// NewFromConfig wires a Host to an sdfx-backed engine configured by cfg.
func NewFromConfig(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) *Host {
	k := sdfx.New(sdfx.WithCells(cfg.MeshCells))
	eng := engine.NewEngine(k,
		engine.WithTimeout(cfg.EvalTimeout),
		engine.WithFileLoad(cfg.AllowFileLoad),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
	)
	return New(eng, WithLogger(logger), WithMetrics(m))
}
