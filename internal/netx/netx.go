// Package netx provides the datagram transport used by rangetest nodes and
// the mapping between logical interface indexes and OS interfaces.
package netx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrClosed is returned by a Transport that has been closed.
var ErrClosed = errors.New("transport closed")

// Frame is a received datagram.
type Frame struct {
	// Iface is the logical index of the receiving interface.
	Iface int
	// Src is the sender's address.
	Src net.Addr
	// Data is the datagram payload. It is owned by the receiver.
	Data []byte
	// RSSI and LQI are the signal metrics of the receiving interface at the
	// time the frame was read.
	RSSI int8
	LQI  uint8
	// RecvTime is the time the frame was read from the socket.
	RecvTime time.Time
}

// Transport sends and receives datagrams over a fixed set of interfaces,
// identified by logical index.
type Transport interface {
	// Send sends b to every node reachable over iface.
	Send(iface int, b []byte) error
	// Reply sends b back to the sender of f, over the interface f was
	// received on.
	Reply(f *Frame, b []byte) error
	// Receive blocks until a frame is received or ctx is done.
	Receive(ctx context.Context) (*Frame, error)
	Close() error
}

// ResolveInterfaces maps interface names to OS interfaces. The position of a
// name in names is its logical index for the rest of the run.
func ResolveInterfaces(names []string) ([]*net.Interface, error) {
	if len(names) == 0 {
		return nil, errors.New("no interfaces specified")
	}
	seen := make(map[string]bool)
	ifaces := make([]*net.Interface, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("duplicate interface %q", name)
		}
		seen[name] = true
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve interface %q: %w", name, err)
		}
		ifaces = append(ifaces, ifi)
	}
	return ifaces, nil
}

// Names returns the names of ifaces, in order.
func Names(ifaces []*net.Interface) []string {
	names := make([]string, len(ifaces))
	for i, ifi := range ifaces {
		names[i] = ifi.Name
	}
	return names
}
