package netx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/ipv6"
)

// readTimeout bounds each blocking read so that Receive can observe context
// cancellation.
const readTimeout = 250 * time.Millisecond

// maxFrameSize is larger than any 802.15.4 frame.
const maxFrameSize = 2048

// UDPTransport is a Transport over UDP/IPv6. Send uses the link-local
// all-nodes multicast group, which every node joins on every interface.
type UDPTransport struct {
	conn   *net.UDPConn
	pc     *ipv6.PacketConn
	port   int
	ifaces []*net.Interface
	// logical maps OS interface indexes to logical indexes.
	logical map[int]int
	signal  SignalSource
	buf     []byte
}

// ListenUDP opens the UDP socket on port and joins the all-nodes group on
// every interface in ifaces.
func ListenUDP(ifaces []*net.Interface, port int, signal SignalSource) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified, Port: port})
	if err != nil {
		return nil, err
	}
	pc := ipv6.NewPacketConn(conn)
	t := &UDPTransport{
		conn:    conn,
		pc:      pc,
		port:    port,
		ifaces:  ifaces,
		logical: make(map[int]int, len(ifaces)),
		signal:  signal,
		buf:     make([]byte, maxFrameSize),
	}
	group := &net.UDPAddr{IP: net.IPv6linklocalallnodes}
	for i, ifi := range ifaces {
		if err := pc.JoinGroup(ifi, group); err != nil {
			conn.Close()
			return nil, fmt.Errorf("cannot join %s on %s: %w", group.IP, ifi.Name, err)
		}
		t.logical[ifi.Index] = i
	}
	err = pc.SetControlMessage(ipv6.FlagInterface|ipv6.FlagSrc|ipv6.FlagDst, true)
	if err != nil {
		conn.Close()
		return nil, err
	}
	// Our own multicast frames must not look like replies.
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

// Send sends b to the all-nodes group over the given interface.
func (t *UDPTransport) Send(iface int, b []byte) error {
	if iface < 0 || iface >= len(t.ifaces) {
		return fmt.Errorf("invalid interface index %d", iface)
	}
	ifi := t.ifaces[iface]
	dst := &net.UDPAddr{IP: net.IPv6linklocalallnodes, Port: t.port, Zone: ifi.Name}
	_, err := t.pc.WriteTo(b, &ipv6.ControlMessage{IfIndex: ifi.Index}, dst)
	return err
}

// Reply sends b to the sender of f.
func (t *UDPTransport) Reply(f *Frame, b []byte) error {
	if f.Iface < 0 || f.Iface >= len(t.ifaces) {
		return fmt.Errorf("invalid interface index %d", f.Iface)
	}
	_, err := t.pc.WriteTo(b, &ipv6.ControlMessage{IfIndex: t.ifaces[f.Iface].Index}, f.Src)
	return err
}

// Receive returns the next frame received on one of the managed interfaces.
// Frames from any other interface are discarded.
func (t *UDPTransport) Receive(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, err
		}
		n, cm, src, err := t.pc.ReadFrom(t.buf)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		if err != nil {
			return nil, err
		}
		recvTime := time.Now()
		if cm == nil {
			log.Debug("discarding frame without control message", "src", src)
			continue
		}
		iface, ok := t.logical[cm.IfIndex]
		if !ok {
			log.Debug("discarding frame from unmanaged interface",
				"src", src, "ifindex", cm.IfIndex)
			continue
		}
		f := &Frame{
			Iface:    iface,
			Src:      src,
			Data:     append([]byte(nil), t.buf[:n]...),
			RecvTime: recvTime,
		}
		if t.signal != nil {
			rssi, lqi, err := t.signal.Signal(t.ifaces[iface].Name)
			if err != nil {
				log.Debug("no signal metrics", "iface", t.ifaces[iface].Name, "error", err)
			}
			f.RSSI, f.LQI = rssi, lqi
		}
		return f, nil
	}
}

// Close closes the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

var _ Transport = &UDPTransport{}
