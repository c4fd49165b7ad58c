package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/msg"
)

// Event is one inbound delivery on the UI side: either a decoded response
// or the error that prevented decoding it.
type Event struct {
	Response      msg.Response
	CorrelationID string // echoed id of the request that caused it, if any
	Err           error
}

// Client is the UI end of the bridge.
type Client struct {
	t      Transport
	opts   options
	events chan Event

	closeOnce sync.Once
	done      chan struct{}
}

var _ Receiver = (*Client)(nil)

// NewClient returns a client sending requests over t. The caller must
// arrange for the transport to Deliver inbound frames to the client.
func NewClient(t Transport, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		t:      t,
		opts:   o,
		events: make(chan Event, o.queueSize),
		done:   make(chan struct{}),
	}
}

// Send encodes req with a fresh correlation id and hands it to the
// transport. It returns the id stamped on the frame. Nothing is retried.
func (c *Client) Send(ctx context.Context, req msg.Request) (string, error) {
	select {
	case <-c.done:
		return "", ErrClosed
	default:
	}
	id := c.opts.newID()
	tag := string(req.RequestTag())
	if err := c.t.Send(ctx, msg.EncodeRequest(req, id)); err != nil {
		c.opts.metrics.Frame("ui", metrics.DirOutbound, tag, metrics.ResultError)
		return id, fmt.Errorf("bridge: send %s: %w", tag, err)
	}
	c.opts.metrics.Frame("ui", metrics.DirOutbound, tag, metrics.ResultOK)
	return id, nil
}

// Deliver decodes a host frame and queues the resulting Event. A frame that
// fails to decode is queued as an error event in its place.
func (c *Client) Deliver(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	resp, corr, err := msg.DecodeResponse(frame)
	ev := Event{Response: resp, CorrelationID: corr}
	if err != nil {
		ev.Err = err
		c.opts.logger.Warn("malformed host frame",
			zap.Error(err), zap.Int("bytes", len(frame)))
		c.opts.metrics.DecodeFailure("ui", failureKind(err))
		c.opts.metrics.Frame("ui", metrics.DirInbound, "", metrics.ResultError)
	} else {
		c.opts.metrics.Frame("ui", metrics.DirInbound, string(resp.ResponseTag()), metrics.ResultOK)
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the ordered inbound queue. It is never closed; select on
// Done to notice shutdown.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops delivery. Queued events remain readable.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
