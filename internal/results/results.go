// Package results aggregates probe samples per cell, a cell being the
// (interface, configuration, payload size) unit of measurement, and turns
// them into output records at the end of a sweep.
package results

import (
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/rangetest/pkg/rangetest/model"
)

// ErrUnavailable is returned for an interface whose result table could not be
// allocated. It stays unavailable for the rest of the run.
var ErrUnavailable = errors.New("results unavailable for interface")

// Key identifies the active (configuration, payload size) pair.
type Key struct {
	Configuration int
	Payload       int
}

// Sample is a single received PONG.
type Sample struct {
	RoundTrip  time.Duration
	RSSILocal  int
	RSSIRemote int
	LQILocal   int
	LQIRemote  int
}

// Cell holds the aggregate counters of one cell.
type Cell struct {
	Sent     int
	Received int
	// RSSISum and LQISum hold the local and remote sums, in this order.
	RSSISum [2]int64
	LQISum  [2]int64
	// RoundTrip is the current round-trip estimate.
	RoundTrip   time.Duration
	PayloadSize int
	Invalid     bool
}

// Config is the shape of a Store.
type Config struct {
	Configurations int
	PayloadSizes   []int
	Interfaces     int
	// MaxCells caps the size of a single interface table. Zero means no
	// cap.
	MaxCells int
	// Period is the phase duration, used to derive goodput.
	Period time.Duration
}

type table struct {
	mu    sync.Mutex
	cells []Cell
}

// Store is the result table of every interface. Tables are allocated on first
// use. Writes to a given interface table are serialized, so the probe worker
// and the responder loop can both update the active cell.
type Store struct {
	cfg Config

	mu     sync.Mutex
	tables []*table
	failed []bool
}

// New returns an empty Store.
func New(cfg Config) *Store {
	return &Store{
		cfg:    cfg,
		tables: make([]*table, cfg.Interfaces),
		failed: make([]bool, cfg.Interfaces),
	}
}

// Config returns the configuration of this store.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) cellsPerInterface() int {
	return s.cfg.Configurations * len(s.cfg.PayloadSizes)
}

func (s *Store) table(iface int) (*table, error) {
	if iface < 0 || iface >= s.cfg.Interfaces {
		return nil, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed[iface] {
		return nil, ErrUnavailable
	}
	if t := s.tables[iface]; t != nil {
		return t, nil
	}
	n := s.cellsPerInterface()
	if s.cfg.MaxCells > 0 && n > s.cfg.MaxCells {
		s.failed[iface] = true
		log.Error("cannot allocate result table, results for this interface are unavailable",
			"iface", iface, "cells", n, "max", s.cfg.MaxCells)
		return nil, ErrUnavailable
	}
	t := &table{cells: make([]Cell, n)}
	for c := 0; c < s.cfg.Configurations; c++ {
		for p, size := range s.cfg.PayloadSizes {
			t.cells[s.index(Key{c, p})].PayloadSize = size
		}
	}
	s.tables[iface] = t
	return t, nil
}

func (s *Store) index(k Key) int {
	return k.Configuration*len(s.cfg.PayloadSizes) + k.Payload
}

// Begin records a sent probe. If the cell has no round-trip estimate yet, it
// is seeded with seed.
func (s *Store) Begin(iface int, k Key, seed time.Duration) error {
	t, err := s.table(iface)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.cells[s.index(k)]
	c.Sent++
	if c.RoundTrip == 0 {
		c.RoundTrip = seed
	}
	return nil
}

// Add records a received PONG. The first sample of a cell replaces the seed
// estimate; later ones are averaged with the previous estimate.
func (s *Store) Add(iface int, k Key, smp Sample) error {
	t, err := s.table(iface)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.cells[s.index(k)]
	c.Received++
	c.RSSISum[0] += int64(smp.RSSILocal)
	c.RSSISum[1] += int64(smp.RSSIRemote)
	c.LQISum[0] += int64(smp.LQILocal)
	c.LQISum[1] += int64(smp.LQIRemote)
	if c.Received == 1 {
		c.RoundTrip = smp.RoundTrip
	} else {
		c.RoundTrip = (c.RoundTrip + smp.RoundTrip) / 2
	}
	return nil
}

// Timeout returns how long a worker should wait before sending its next
// probe: the cell's latest round-trip estimate plus 10%. Without an estimate,
// seed is used instead.
func (s *Store) Timeout(iface int, k Key, seed time.Duration) time.Duration {
	rt := seed
	if t, err := s.table(iface); err == nil {
		t.mu.Lock()
		if est := t.cells[s.index(k)].RoundTrip; est > 0 {
			rt = est
		}
		t.mu.Unlock()
	}
	return rt + rt/10
}

// Invalidate marks every payload cell of configuration on iface as invalid.
func (s *Store) Invalidate(iface int, configuration int) error {
	t, err := s.table(iface)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for p := range s.cfg.PayloadSizes {
		t.cells[s.index(Key{configuration, p})].Invalid = true
	}
	return nil
}

// Cell returns a copy of a cell.
func (s *Store) Cell(iface int, k Key) (Cell, error) {
	t, err := s.table(iface)
	if err != nil {
		return Cell{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cells[s.index(k)], nil
}

// Finalize returns the output records of every cell, ordered by
// configuration, then payload size, then interface. Each cell is reset once
// its record has been produced, so the sequence can only be consumed once per
// sweep. Interfaces whose table could not be allocated are skipped; an
// interface that never got a table reports every cell without data.
func (s *Store) Finalize(label func(configuration int) string) iter.Seq[model.Record] {
	return func(yield func(model.Record) bool) {
		for c := 0; c < s.cfg.Configurations; c++ {
			for p := range s.cfg.PayloadSizes {
				for iface := 0; iface < s.cfg.Interfaces; iface++ {
					s.mu.Lock()
					t, failed := s.tables[iface], s.failed[iface]
					s.mu.Unlock()
					if failed {
						continue
					}
					k := Key{c, p}
					var r model.Record
					if t == nil {
						r = s.record(k, iface, &Cell{})
					} else {
						t.mu.Lock()
						cell := &t.cells[s.index(k)]
						r = s.record(k, iface, cell)
						*cell = Cell{PayloadSize: cell.PayloadSize}
						t.mu.Unlock()
					}

					r.Configuration = label(c)
					if !yield(r) {
						return
					}
				}
			}
		}
	}
}

func (s *Store) record(k Key, iface int, c *Cell) model.Record {
	r := model.Record{
		ConfigurationIndex: k.Configuration,
		Interface:          iface,
		PayloadSize:        s.cfg.PayloadSizes[k.Payload],
	}
	if c.Invalid {
		r.Invalid = true
		return r
	}
	r.PacketsSent = c.Sent
	r.PacketsReceived = c.Received
	if c.Sent > 0 {
		r.SuccessRate = 100 * float64(c.Received) / float64(c.Sent)
	}
	if c.Received == 0 {
		r.NoData = true
		return r
	}
	n := float64(c.Received)
	r.RSSILocal = float64(c.RSSISum[0]) / n
	r.RSSIRemote = float64(c.RSSISum[1]) / n
	r.LQILocal = float64(c.LQISum[0]) / n
	r.LQIRemote = float64(c.LQISum[1]) / n
	r.RoundTripMicros = c.RoundTrip.Microseconds()

	bits := float64(r.PayloadSize * 8)
	if s.cfg.Period > 0 {
		r.GoodputBps = n * bits / s.cfg.Period.Seconds()
	}
	if c.RoundTrip > 0 {
		r.LinkRateBps = 2 * bits / c.RoundTrip.Seconds()
	}
	return r
}
