package spec

import "time"

const (
	// ServiceName is the name used for archival data and metrics.
	ServiceName = "rangetest"

	// Port is the well-known UDP port used by every node.
	Port = 2323

	// HelloTimeout is how long the initiator waits for a HELLO_ACK before
	// sending the next HELLO.
	HelloTimeout = 200 * time.Millisecond
	// HelloRetries is the maximum number of HELLO attempts.
	HelloRetries = 100

	// TestPeriod is the duration of a single phase.
	TestPeriod = 6 * time.Second

	// GraceInterval is how long the scheduler waits after closing every
	// worker's gate before touching the radio configuration. The radio may
	// still be transmitting the last frame.
	GraceInterval = 100 * time.Millisecond

	// InitialFrameDelay seeds the round-trip estimate of a cell that has not
	// seen any reply yet.
	InitialFrameDelay = 200 * time.Millisecond

	// BusyRetries and BusyInterval bound the retries of a radio parameter
	// write rejected because the device is busy.
	BusyRetries  = 5
	BusyInterval = 10 * time.Millisecond

	// DefaultPeerTTL is how long a responder remembers a peer after its
	// last HELLO.
	DefaultPeerTTL = 10 * time.Minute

	// QueueSize is the number of received frames buffered for the
	// responder loop.
	QueueSize = 4
)

// PayloadSizes are the frame sizes, in bytes, probed for every
// configuration. Each one must be at least model.PingHeaderSize.
var PayloadSizes = []int{16, 64, 120}
