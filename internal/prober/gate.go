package prober

import (
	"context"
	"sync"
)

// Gate admits a single worker into its send section. The scheduler owns the
// gate: while it is closed, the worker blocks in Enter. Closing the gate
// waits for the worker to Leave its send section.
//
// A Gate is a one-token channel: whoever holds the token excludes the other
// side. A new Gate is closed.
type Gate struct {
	token chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{
		token:  make(chan struct{}, 1),
		closed: true,
	}
}

// Open admits the worker. Opening an open gate does nothing.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		return
	}
	g.closed = false
	g.token <- struct{}{}
}

// Close blocks until the worker is outside its send section, then keeps it
// out until the next Open. Closing a closed gate does nothing.
func (g *Gate) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	select {
	case <-g.token:
		g.closed = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enter blocks until the gate is open and the worker may send.
func (g *Gate) Enter(ctx context.Context) error {
	select {
	case <-g.token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave ends the send section started by Enter.
func (g *Gate) Leave() {
	g.token <- struct{}{}
}
