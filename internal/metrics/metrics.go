// Package metrics defines the Prometheus collectors for the bridge, the
// evaluator and the STL codec.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Directions and results used as label values.
const (
	DirInbound  = "inbound"
	DirOutbound = "outbound"

	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Frames         *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec
	EvalDuration   *prometheus.HistogramVec
	Meshes         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lispcad_bridge_frames_total",
				Help: "Frames carried by the bridge",
			},
			[]string{"side", "direction", "tag", "result"},
		),
		DecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lispcad_bridge_decode_failures_total",
				Help: "Frames rejected by the message decoder",
			},
			[]string{"side", "kind"},
		),
		EvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lispcad_eval_duration_seconds",
				Help:    "Script evaluation time",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"result"},
		),
		Meshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lispcad_stl_meshes_total",
				Help: "Meshes passed through the STL codec",
			},
			[]string{"op", "result"},
		),
	}
	for _, c := range []prometheus.Collector{m.Frames, m.DecodeFailures, m.EvalDuration, m.Meshes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Frame counts one frame.
func (m *Metrics) Frame(side, direction, tag, result string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(side, direction, tag, result).Inc()
}

// DecodeFailure counts one rejected frame.
func (m *Metrics) DecodeFailure(side, kind string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(side, kind).Inc()
}

// Eval observes the duration of one evaluation.
func (m *Metrics) Eval(d time.Duration, result string) {
	if m == nil {
		return
	}
	m.EvalDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Mesh counts one encode or decode.
func (m *Metrics) Mesh(op, result string) {
	if m == nil {
		return
	}
	m.Meshes.WithLabelValues(op, result).Inc()
}
