package model

import (
	"time"
)

// Record is the finalized result of one cell: a (configuration, payload
// size, interface) triple.
type Record struct {
	// ConfigurationIndex is the position of the configuration in the sweep.
	ConfigurationIndex int
	// Configuration is the human-readable configuration label.
	Configuration string
	// Interface is the logical interface index.
	Interface int
	// PayloadSize is the probe frame size in bytes.
	PayloadSize int

	// Invalid is true if the radio rejected this configuration on this
	// interface. No other field but the identifiers is meaningful.
	Invalid bool
	// NoData is true if no PONG was received. Averages are zero.
	NoData bool

	// PacketsSent is the number of PINGs sent.
	PacketsSent int
	// PacketsReceived is the number of PONGs received.
	PacketsReceived int

	// RSSILocal and RSSIRemote are the average RSSI of PONGs as seen
	// locally and of PINGs as seen by the responder (dBm).
	RSSILocal  float64
	RSSIRemote float64
	// LQILocal and LQIRemote are the average link quality indicators.
	LQILocal  float64
	LQIRemote float64

	// RoundTripMicros is the final round-trip estimate (microseconds).
	RoundTripMicros int64

	// SuccessRate is the percentage of PINGs that got a PONG.
	SuccessRate float64
	// GoodputBps is the application payload delivered per second over the
	// whole phase, counting only answered probes.
	GoodputBps float64
	// LinkRateBps is the payload rate implied by the round-trip estimate:
	// one frame each way per round trip.
	LinkRateBps float64
}

// ArchivalData is the archival data format for a complete sweep.
type ArchivalData struct {
	// GitShortCommit is the Git commit (short form) of the running code.
	GitShortCommit string
	// Version is the symbolic version (if any) of the running code.
	Version string
	// ID is the unique identifier of this sweep.
	ID string

	// Interfaces are the names of the interfaces under test, indexed by
	// logical interface index.
	Interfaces []string
	// HandshakeAttempts is the number of HELLOs sent before the responder
	// answered.
	HandshakeAttempts int

	// StartTime is the sweep's start time.
	StartTime time.Time
	// EndTime is the time the sweep was finalized.
	EndTime time.Time

	// Records are the finalized cells in sweep order.
	Records []Record
}

// PeerArchive is the archival data written by a responder when it forgets a
// peer.
type PeerArchive struct {
	GitShortCommit string
	Version        string

	// ID is a unique identifier for this peer session.
	ID string
	// Address is the peer's address.
	Address string
	// Interface is the logical interface the peer was heard on.
	Interface int

	FirstSeen time.Time
	LastSeen  time.Time

	// Hellos is the number of HELLOs received from the peer.
	Hellos int64
	// PingsAnswered is the number of PONGs sent to the peer.
	PingsAnswered int64
}
