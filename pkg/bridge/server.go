package bridge

import (
	"bytes"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/msg"
)

// Handler performs one request on the host. It may call reply any number
// of times, but only before Handle returns.
type Handler interface {
	Handle(ctx context.Context, req msg.Request, reply func(msg.Response))
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req msg.Request, reply func(msg.Response))

func (f HandlerFunc) Handle(ctx context.Context, req msg.Request, reply func(msg.Response)) {
	f(ctx, req, reply)
}

// Server is the host end of the bridge. Frames are queued by Deliver and
// handled one at a time, in arrival order, by Serve.
type Server struct {
	t     Transport
	h     Handler
	opts  options
	queue chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ Receiver = (*Server)(nil)

// NewServer returns a server that answers requests with h and sends the
// responses over t.
func NewServer(t Transport, h Handler, opts ...Option) *Server {
	o := buildOptions(opts)
	return &Server{
		t:     t,
		h:     h,
		opts:  o,
		queue: make(chan []byte, o.queueSize),
		done:  make(chan struct{}),
	}
}

// Deliver queues a UI frame. It blocks while the queue is full.
func (s *Server) Deliver(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.queue <- bytes.Clone(frame):
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve handles queued frames until ctx is cancelled or Close is called.
// A second request arriving while one is being handled waits its turn.
func (s *Server) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case frame := <-s.queue:
			s.process(ctx, frame)
		}
	}
}

// Close stops Serve and rejects further frames.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) process(ctx context.Context, frame []byte) {
	req, corr, err := msg.DecodeRequest(frame)
	if err != nil {
		s.opts.logger.Warn("malformed ui frame", zap.Error(err), zap.Int("bytes", len(frame)))
		s.opts.metrics.DecodeFailure("host", failureKind(err))
		s.opts.metrics.Frame("host", metrics.DirInbound, "", metrics.ResultError)
		s.send(ctx, msg.EvalError{Message: "invalid request: " + err.Error()}, corr)
		return
	}
	tag := string(req.RequestTag())
	s.opts.metrics.Frame("host", metrics.DirInbound, tag, metrics.ResultOK)
	s.opts.logger.Debug("request", zap.String("tag", tag), zap.String("correlation", corr))

	s.h.Handle(ctx, req, func(resp msg.Response) {
		s.send(ctx, resp, corr)
	})
}

func (s *Server) send(ctx context.Context, resp msg.Response, corr string) {
	tag := string(resp.ResponseTag())
	if err := s.t.Send(ctx, msg.EncodeResponse(resp, corr)); err != nil {
		s.opts.logger.Error("failed to send response",
			zap.String("tag", tag), zap.String("correlation", corr), zap.Error(err))
		s.opts.metrics.Frame("host", metrics.DirOutbound, tag, metrics.ResultError)
		return
	}
	s.opts.metrics.Frame("host", metrics.DirOutbound, tag, metrics.ResultOK)
}
