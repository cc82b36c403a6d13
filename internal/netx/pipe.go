package netx

import (
	"context"
	"sync"
	"time"
)

// PipeAddr is the address of one end of a Pipe.
type PipeAddr string

// Network returns "pipe".
func (PipeAddr) Network() string { return "pipe" }

func (a PipeAddr) String() string { return string(a) }

// Pipe is one end of an in-memory Transport connecting two nodes over the
// same number of interfaces.
type Pipe struct {
	addr   PipeAddr
	peer   *Pipe
	frames chan *Frame
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex
	// Frames sent by this end for which drop returns true are lost.
	drop   func(b []byte) bool
	signal Static
}

// NewPipe returns both ends of a connected in-memory transport.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{addr: "a", frames: make(chan *Frame, 64), done: make(chan struct{})}
	b := &Pipe{addr: "b", frames: make(chan *Frame, 64), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// SetDrop installs a filter for frames sent by this end.
func (p *Pipe) SetDrop(drop func(b []byte) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop = drop
}

// SetSignal sets the metrics attached to frames received by this end.
func (p *Pipe) SetSignal(s Static) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signal = s
}

func (p *Pipe) deliver(iface int, b []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	p.mu.Lock()
	drop := p.drop
	p.mu.Unlock()
	if drop != nil && drop(b) {
		return nil
	}
	peer := p.peer
	peer.mu.Lock()
	signal := peer.signal
	peer.mu.Unlock()
	f := &Frame{
		Iface:    iface,
		Src:      p.addr,
		Data:     append([]byte(nil), b...),
		RSSI:     signal.RSSI,
		LQI:      signal.LQI,
		RecvTime: time.Now(),
	}
	select {
	case peer.frames <- f:
	case <-peer.done:
	default:
		// Full queue: the frame is lost, as on a real link.
	}
	return nil
}

// Send delivers b to the other end.
func (p *Pipe) Send(iface int, b []byte) error {
	return p.deliver(iface, b)
}

// Reply delivers b to the other end, on the interface f was received on.
func (p *Pipe) Reply(f *Frame, b []byte) error {
	return p.deliver(f.Iface, b)
}

// Receive returns the next frame sent by the other end.
func (p *Pipe) Receive(ctx context.Context) (*Frame, error) {
	select {
	case f := <-p.frames:
		return f, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes this end.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

var _ Transport = &Pipe{}
