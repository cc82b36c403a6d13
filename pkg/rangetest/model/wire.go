package model

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind is the first byte of every rangetest frame.
type Kind uint8

const (
	KindHello Kind = iota
	KindHelloAck
	KindPing
	KindPong
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindHelloAck:
		return "HELLO_ACK"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

const (
	// HelloSize is the encoded size of a HELLO or HELLO_ACK frame.
	HelloSize = 5
	// PingHeaderSize is the encoded size of a PING or PONG frame without
	// padding.
	PingHeaderSize = 10
)

var (
	// ErrShortFrame is returned when a frame is shorter than its kind
	// requires.
	ErrShortFrame = errors.New("short frame")
	// ErrUnknownKind is returned for frames with an unknown kind byte.
	ErrUnknownKind = errors.New("unknown frame kind")
)

// Hello is the clock synchronization message. The same layout is used for
// HELLO and HELLO_ACK.
type Hello struct {
	Kind Kind
	// ReferenceTime is the sender's counter value, in counter ticks.
	ReferenceTime uint32
}

// Marshal encodes h using network byte order.
func (h *Hello) Marshal() []byte {
	b := make([]byte, HelloSize)
	b[0] = byte(h.Kind)
	binary.BigEndian.PutUint32(b[1:], h.ReferenceTime)
	return b
}

// PingPong is the round-trip probe. A PONG echoes the PING it answers, with
// RSSI and LQI overwritten by the responder's view of the incoming frame.
type PingPong struct {
	Kind Kind
	// RSSI and LQI are the remote signal metrics. Zero in a PING.
	RSSI int8
	LQI  uint8
	// Timestamp is the initiator's local microsecond clock at send time.
	Timestamp uint32
	// Sequence is a per-interface progressive sequence number.
	Sequence uint16
	// Size is the total encoded size. The bytes past the header are
	// padding used to reach the payload size under test.
	Size int
}

// Marshal encodes p, padded with zeroes to p.Size bytes.
func (p *PingPong) Marshal() []byte {
	size := p.Size
	if size < PingHeaderSize {
		size = PingHeaderSize
	}
	b := make([]byte, size)
	b[0] = byte(p.Kind)
	b[1] = byte(p.RSSI)
	b[2] = p.LQI
	// b[3] is reserved.
	binary.BigEndian.PutUint32(b[4:], p.Timestamp)
	binary.BigEndian.PutUint16(b[8:], p.Sequence)
	return b
}

// PeekKind returns the kind of an encoded frame.
func PeekKind(b []byte) (Kind, error) {
	if len(b) == 0 {
		return 0, ErrShortFrame
	}
	k := Kind(b[0])
	if k > KindPong {
		return k, ErrUnknownKind
	}
	return k, nil
}

// ParseHello decodes a HELLO or HELLO_ACK frame.
func ParseHello(b []byte) (*Hello, error) {
	k, err := PeekKind(b)
	if err != nil {
		return nil, err
	}
	if k != KindHello && k != KindHelloAck {
		return nil, fmt.Errorf("%w: %s is not a hello", ErrUnknownKind, k)
	}
	if len(b) < HelloSize {
		return nil, ErrShortFrame
	}
	return &Hello{
		Kind:          k,
		ReferenceTime: binary.BigEndian.Uint32(b[1:]),
	}, nil
}

// ParsePingPong decodes a PING or PONG frame.
func ParsePingPong(b []byte) (*PingPong, error) {
	k, err := PeekKind(b)
	if err != nil {
		return nil, err
	}
	if k != KindPing && k != KindPong {
		return nil, fmt.Errorf("%w: %s is not a ping", ErrUnknownKind, k)
	}
	if len(b) < PingHeaderSize {
		return nil, ErrShortFrame
	}
	return &PingPong{
		Kind:      k,
		RSSI:      int8(b[1]),
		LQI:       b[2],
		Timestamp: binary.BigEndian.Uint32(b[4:]),
		Sequence:  binary.BigEndian.Uint16(b[8:]),
		Size:      len(b),
	}, nil
}
