package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// ErrNotAttached is returned by a pipe endpoint whose peer has no receiver.
var ErrNotAttached = errors.New("bridge: pipe peer not attached")

// Endpoint is one end of an in-memory pipe. Sending on one end delivers
// a copy of the frame to the receiver attached to the other end.
type Endpoint struct {
	peer *Endpoint

	mu   sync.RWMutex
	recv Receiver
}

var _ Transport = (*Endpoint)(nil)

// NewPipe returns two connected endpoints.
func NewPipe() (*Endpoint, *Endpoint) {
	a, b := &Endpoint{}, &Endpoint{}
	a.peer, b.peer = b, a
	return a, b
}

// Attach sets the receiver for frames arriving at this end.
func (e *Endpoint) Attach(r Receiver) {
	e.mu.Lock()
	e.recv = r
	e.mu.Unlock()
}

// Send delivers frame to the peer's receiver synchronously.
func (e *Endpoint) Send(ctx context.Context, frame []byte) error {
	e.peer.mu.RLock()
	r := e.peer.recv
	e.peer.mu.RUnlock()
	if r == nil {
		return ErrNotAttached
	}
	return r.Deliver(ctx, bytes.Clone(frame))
}
