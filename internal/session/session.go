// Package session holds the state of a single sweep. A Session is owned by
// the sweep scheduler and shared, by reference, with the protocol handler and
// the probe workers.
package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/m-lab/rangetest/internal/results"
)

const activeBit = 1 << 63

// Session is the state of one sweep.
type Session struct {
	// ID uniquely identifies the sweep.
	ID string
	// Store receives every sample of the sweep.
	Store *results.Store
	// StartTime is the time the session was created.
	StartTime time.Time

	// active packs the active (configuration, payload) pair and a valid bit
	// in a single word, so readers never see half of a transition.
	active atomic.Uint64
	seed   atomic.Int64
	seq    atomic.Uint32
}

// New returns a new Session writing to store. No phase is active.
func New(store *results.Store) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Store:     store,
		StartTime: time.Now(),
	}
}

// SetActive makes k the active phase. seed is the round-trip estimate used
// for cells that have no reply yet.
func (s *Session) SetActive(k results.Key, seed time.Duration) {
	s.seed.Store(int64(seed))
	s.active.Store(activeBit | uint64(uint32(k.Configuration))<<32 | uint64(uint32(k.Payload)))
}

// Deactivate marks the end of the sweep. Active reports false afterwards.
func (s *Session) Deactivate() {
	s.active.Store(0)
}

// Active returns the active phase, if any.
func (s *Session) Active() (results.Key, bool) {
	v := s.active.Load()
	if v&activeBit == 0 {
		return results.Key{}, false
	}
	return results.Key{
		Configuration: int(uint32(v>>32) &^ (activeBit >> 32)),
		Payload:       int(uint32(v)),
	}, true
}

// Seed returns the round-trip seed of the active phase.
func (s *Session) Seed() time.Duration {
	return time.Duration(s.seed.Load())
}

// PayloadSize returns the frame size of the active phase.
func (s *Session) PayloadSize() (int, bool) {
	k, ok := s.Active()
	if !ok {
		return 0, false
	}
	return s.Store.Config().PayloadSizes[k.Payload], true
}

// NextSequence returns the sequence number of the next PING.
func (s *Session) NextSequence() uint16 {
	return uint16(s.seq.Add(1) - 1)
}
