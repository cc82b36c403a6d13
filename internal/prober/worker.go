// Package prober implements the per-interface probe loop.
package prober

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/rangetest/internal/results"
	"github.com/m-lab/rangetest/internal/session"
)

// Sender sends one PING of the given frame size over an interface.
type Sender interface {
	SendPing(iface int, size int, seq uint16) (uint32, error)
}

// Worker sends PINGs over one interface while its gate is open.
type Worker struct {
	iface   int
	gate    *Gate
	sender  Sender
	session *session.Session
}

// NewWorker returns a Worker probing iface for the sweep s.
func NewWorker(iface int, gate *Gate, sender Sender, s *session.Session) *Worker {
	return &Worker{
		iface:   iface,
		gate:    gate,
		sender:  sender,
		session: s,
	}
}

// Run runs the probe loop. It returns nil once admitted after the sweep has
// ended, or an error if a PING cannot be sent or ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		timeout, done, err := w.probe(ctx)
		if done || err != nil {
			return err
		}
		t := time.NewTimer(timeout)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// probe runs one send section and returns how long to wait before the next
// one.
func (w *Worker) probe(ctx context.Context) (time.Duration, bool, error) {
	if err := w.gate.Enter(ctx); err != nil {
		return 0, false, err
	}
	defer w.gate.Leave()

	s := w.session
	k, ok := s.Active()
	if !ok {
		log.Debug("sweep ended, worker exiting", "iface", w.iface)
		return 0, true, nil
	}
	size := s.Store.Config().PayloadSizes[k.Payload]
	seq := s.NextSequence()
	if _, err := w.sender.SendPing(w.iface, size, seq); err != nil {
		log.Error("cannot send ping, worker exiting", "iface", w.iface, "error", err)
		return 0, false, fmt.Errorf("iface %d: %w", w.iface, err)
	}
	seed := s.Seed()
	err := s.Store.Begin(w.iface, k, seed)
	if err != nil && !errors.Is(err, results.ErrUnavailable) {
		return 0, false, err
	}
	return s.Store.Timeout(w.iface, k, seed), false, nil
}
