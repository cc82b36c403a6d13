// Package clock provides the synchronized tick counter and alarm used to
// schedule sweep phases, and the local microsecond clock used to timestamp
// probes.
package clock

import (
	"sync"
	"time"
)

// Frequency is the counter frequency, in Hz.
const Frequency = 32768

// MaxSpan is the longest delay an alarm can be set ahead of the counter.
// Alarm times are compared as signed 32-bit differences.
const MaxSpan = time.Duration(1<<31-1) * time.Second / Frequency

// Counter is a free-running 32-bit tick counter with a single alarm. Alarm
// times are absolute counter values, so changing the counter with SetCounter
// moves a pending alarm with it.
type Counter interface {
	Now() uint32
	SetCounter(v uint32)
	// SetAlarm replaces any pending alarm. cb runs on its own goroutine
	// and may set the next alarm.
	SetAlarm(at uint32, cb func())
	ClearAlarm()
}

// Ticks converts d to counter ticks. The result wraps like the counter does.
func Ticks(d time.Duration) uint32 {
	sec, rem := d/time.Second, d%time.Second
	return uint32(int64(sec)*Frequency + int64(rem)*Frequency/int64(time.Second))
}

// Duration converts counter ticks to a duration.
func Duration(ticks uint32) time.Duration {
	return time.Duration(int64(ticks) * int64(time.Second) / Frequency)
}

var start = time.Now()

// Micros returns a wrapping microsecond timestamp from the local monotonic
// clock. Only differences between two values are meaningful.
func Micros() uint32 {
	return uint32(time.Since(start).Microseconds())
}

// Soft is a Counter backed by the monotonic system clock.
type Soft struct {
	mu   sync.Mutex
	base uint32
	ref  time.Time

	armed   bool
	alarmAt uint32
	alarmCB func()
	timer   *time.Timer
	// gen changes every time the alarm is rescheduled or cleared, so a
	// timer that already fired for an older alarm is ignored.
	gen uint64
}

// NewSoft returns a Soft counter starting at zero.
func NewSoft() *Soft {
	return &Soft{ref: time.Now()}
}

func (s *Soft) now() uint32 {
	return s.base + Ticks(time.Since(s.ref))
}

// Now returns the current counter value.
func (s *Soft) Now() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// SetCounter sets the current counter value.
func (s *Soft) SetCounter(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = v
	s.ref = time.Now()
	if s.armed {
		s.schedule()
	}
}

// SetAlarm arms the alarm at the absolute counter value at. An alarm in the
// past fires immediately.
func (s *Soft) SetAlarm(at uint32, cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.alarmAt = at
	s.alarmCB = cb
	s.schedule()
}

// ClearAlarm disarms the alarm.
func (s *Soft) ClearAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.alarmCB = nil
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
}

// schedule must be called with s.mu held.
func (s *Soft) schedule() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	var d time.Duration
	if delta := int32(s.alarmAt - s.now()); delta > 0 {
		d = Duration(uint32(delta))
	}
	s.timer = time.AfterFunc(d, func() { s.fire(gen) })
}

func (s *Soft) fire(gen uint64) {
	s.mu.Lock()
	if !s.armed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.armed = false
	cb := s.alarmCB
	s.mu.Unlock()
	cb()
}

// Manual is a Counter that only moves when told to. It is meant for tests
// and simulations.
type Manual struct {
	mu      sync.Mutex
	now     uint32
	armed   bool
	alarmAt uint32
	alarmCB func()
	// Sets counts the calls to SetCounter.
	Sets int
}

// Now returns the current counter value.
func (m *Manual) Now() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// SetCounter sets the current counter value.
func (m *Manual) SetCounter(v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = v
	m.Sets++
}

// SetAlarm arms the alarm. It only fires through Advance or Fire.
func (m *Manual) SetAlarm(at uint32, cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = true
	m.alarmAt = at
	m.alarmCB = cb
}

// ClearAlarm disarms the alarm.
func (m *Manual) ClearAlarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
	m.alarmCB = nil
}

// Armed returns the pending alarm time, if any.
func (m *Manual) Armed() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alarmAt, m.armed
}

// Fire jumps the counter to the pending alarm and runs its callback on the
// calling goroutine. It returns false if no alarm was armed.
func (m *Manual) Fire() bool {
	m.mu.Lock()
	if !m.armed {
		m.mu.Unlock()
		return false
	}
	m.armed = false
	m.now = m.alarmAt
	cb := m.alarmCB
	m.mu.Unlock()
	cb()
	return true
}

var (
	_ Counter = &Soft{}
	_ Counter = &Manual{}
)
