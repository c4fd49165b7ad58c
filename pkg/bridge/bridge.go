// Package bridge moves msg frames across the UI/host boundary.
//
// The bridge is deliberately thin. Requests are fire and forget; inbound
// frames are decoded and queued in arrival order; nothing is retried or
// reordered. A Transport is whatever duplex channel the host provides
// (Wails runtime events, a WebSocket, an in-memory pipe). It pushes frames
// it receives into a Receiver by calling Deliver, one frame at a time.
package bridge

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/logging"
	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/msg"
)

// ErrClosed is returned when delivering to a closed Client or Server.
var ErrClosed = errors.New("bridge: closed")

// DefaultQueueSize is the queue depth used when no option overrides it.
const DefaultQueueSize = 64

// Transport sends one encoded frame to the other side.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
}

// Receiver accepts frames arriving from the other side. Transports must
// call Deliver sequentially; the call order defines delivery order.
type Receiver interface {
	Deliver(ctx context.Context, frame []byte) error
}

// Option configures a Client or Server.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	queueSize int
	newID     func() string
}

func buildOptions(opts []Option) options {
	o := options{queueSize: DefaultQueueSize, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNop(o.logger)
	if o.queueSize <= 0 {
		o.queueSize = DefaultQueueSize
	}
	return o
}

// WithLogger sets the logger. Decode failures are logged at warn level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records frame and decode counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithQueueSize sets the inbound queue depth. A full queue blocks Deliver.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithIDGenerator replaces the correlation id generator (uuid by default).
func WithIDGenerator(f func() string) Option {
	return func(o *options) {
		if f != nil {
			o.newID = f
		}
	}
}

// failureKind maps a decode error to a metrics label.
func failureKind(err error) string {
	switch {
	case errors.Is(err, msg.ErrDanglingMeshReference):
		return "dangling_mesh_reference"
	case errors.Is(err, msg.ErrDuplicateMeshID):
		return "duplicate_mesh_id"
	case errors.Is(err, msg.ErrSchemaMismatch):
		return "schema_mismatch"
	}
	return "other"
}
