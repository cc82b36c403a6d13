// Package sweep drives a modulation sweep: it synchronizes with the peer,
// moves every interface through each (configuration, payload size) phase on
// a periodic alarm, and finalizes the results.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/rangetest/internal/clock"
	"github.com/m-lab/rangetest/internal/metrics"
	"github.com/m-lab/rangetest/internal/modulation"
	"github.com/m-lab/rangetest/internal/persistence"
	"github.com/m-lab/rangetest/internal/prober"
	"github.com/m-lab/rangetest/internal/protocol"
	"github.com/m-lab/rangetest/internal/results"
	"github.com/m-lab/rangetest/internal/session"
	"github.com/m-lab/rangetest/pkg/rangetest/model"
	"github.com/m-lab/rangetest/pkg/rangetest/spec"
	"github.com/m-lab/rangetest/pkg/version"
)

// ErrNoConfigurations is returned when every family is disabled.
var ErrNoConfigurations = errors.New("no configurations to test")

// Config is the configuration of a Scheduler.
type Config struct {
	// Interfaces are the interface names, by logical index.
	Interfaces   []string
	PayloadSizes []int

	// Period is the duration of a phase.
	Period time.Duration
	// Grace is the wait between stopping every worker and changing the
	// radio configuration.
	Grace time.Duration
	// Seed is the round-trip estimate of a cell without replies, for
	// families that do not set their own.
	Seed time.Duration

	HelloTimeout time.Duration
	HelloRetries int

	// MaxCells caps the size of a per-interface result table.
	MaxCells int
	// DataDir is where finalized sweeps are archived. Empty disables
	// archival.
	DataDir string
	// Continuous restarts a new sweep after each one completes.
	Continuous bool
}

// DefaultConfig returns a Config with the standard timings.
func DefaultConfig(interfaces []string) Config {
	return Config{
		Interfaces:   interfaces,
		PayloadSizes: spec.PayloadSizes,
		Period:       spec.TestPeriod,
		Grace:        spec.GraceInterval,
		Seed:         spec.InitialFrameDelay,
		HelloTimeout: spec.HelloTimeout,
		HelloRetries: spec.HelloRetries,
	}
}

// Scheduler owns the sweep state. Advance is the only way to move from one
// phase to the next, whether triggered by the local alarm or by the
// responder loop.
type Scheduler struct {
	cfg     Config
	enum    *modulation.Enumerator
	applier *modulation.Applier
	handler *protocol.Handler
	counter clock.Counter
	emitter Emitter

	mu      sync.Mutex
	ctx     context.Context
	session *session.Session
	gates   []*prober.Gate
	key     results.Key
	done    chan struct{}
}

// New returns a Scheduler.
func New(cfg Config, e *modulation.Enumerator, a *modulation.Applier,
	h *protocol.Handler, c clock.Counter, em Emitter) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		enum:    e,
		applier: a,
		handler: h,
		counter: c,
		emitter: em,
	}
}

// Handshake sends HELLOs until a HELLO_ACK is received, at most
// HelloRetries times. It returns the number of HELLOs sent.
func (s *Scheduler) Handshake(ctx context.Context) (int, error) {
	// Discard a HELLO_ACK left over from a previous handshake.
	select {
	case <-s.handler.Acks():
	default:
	}
	for attempt := 1; attempt <= s.cfg.HelloRetries; attempt++ {
		if err := s.handler.SendHello(s.counter.Now()); err != nil {
			log.Warn("cannot send HELLO", "attempt", attempt, "error", err)
		}
		t := time.NewTimer(s.cfg.HelloTimeout)
		select {
		case <-s.handler.Acks():
			t.Stop()
			log.Info("handshake complete", "attempts", attempt)
			s.emitter.OnHandshake(attempt)
			return attempt, nil
		case <-t.C:
			log.Debug("HELLO timed out", "attempt", attempt)
		case <-ctx.Done():
			t.Stop()
			return attempt, ctx.Err()
		}
	}
	return s.cfg.HelloRetries, protocol.ErrHandshakeTimeout
}

// Run synchronizes with the peer and runs a sweep, then repeats if the
// scheduler is continuous. It fails if the handshake fails.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.enum.Total() == 0 {
		return ErrNoConfigurations
	}
	for {
		attempts, err := s.Handshake(ctx)
		if err != nil {
			s.emitter.OnError(err)
			return err
		}
		if err := s.sweep(ctx, attempts); err != nil {
			return err
		}
		if !s.cfg.Continuous {
			return nil
		}
	}
}

// Respond runs the local sweep of a responder-only node. Phases are driven
// by the responder loop: every HELLO restarts the sweep at configuration 0
// and arms the alarm that advances it every period. When the sweep ends, the
// responder loop forgets the synchronization and the node waits for a new
// HELLO. Respond returns when ctx is done.
func (s *Scheduler) Respond(ctx context.Context) error {
	if s.enum.Total() == 0 {
		return ErrNoConfigurations
	}
	s.handler.OnNextSetting(s.Advance)
	s.handler.OnSync(s.Restart)
	defer func() {
		s.handler.OnNextSetting(nil)
		s.handler.OnSync(nil)
	}()
	for {
		sess := s.newSession()
		s.mu.Lock()
		s.begin(ctx, sess, nil)
		done := s.done
		s.mu.Unlock()
		log.Info("waiting for a peer", "id", sess.ID)

		select {
		case <-done:
			log.Info("local sweep complete", "id", sess.ID)
		case <-ctx.Done():
			s.stop()
			return ctx.Err()
		}
	}
}

func (s *Scheduler) newSession() *session.Session {
	return session.New(results.New(results.Config{
		Configurations: s.enum.Total(),
		PayloadSizes:   s.cfg.PayloadSizes,
		Interfaces:     len(s.cfg.Interfaces),
		MaxCells:       s.cfg.MaxCells,
		Period:         s.cfg.Period,
	}))
}

// sweep runs one complete sweep with one probe worker per interface.
func (s *Scheduler) sweep(ctx context.Context, attempts int) error {
	sess := s.newSession()
	gates := make([]*prober.Gate, len(s.cfg.Interfaces))
	for i := range gates {
		gates[i] = prober.NewGate()
	}
	s.emitter.OnStart(sess.ID, s.enum.Total(), s.cfg.Interfaces)
	log.Info("sweep started", "id", sess.ID, "configurations", s.enum.Total(),
		"interfaces", s.cfg.Interfaces)

	s.mu.Lock()
	s.begin(ctx, sess, gates)
	done := s.done
	s.mu.Unlock()

	var wg sync.WaitGroup
	for i, g := range gates {
		w := prober.NewWorker(i, g, s.handler, sess)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				s.emitter.OnError(err)
			}
		}()
	}

	s.armAlarm(s.counter.Now() + clock.Ticks(s.cfg.Period))
	s.mu.Lock()
	s.openGates()
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		s.stop()
		wg.Wait()
		return ctx.Err()
	}
	wg.Wait()
	s.finalize(sess, attempts)
	return nil
}

// armAlarm arms the local phase alarm, which advances the sweep and re-arms
// itself one period later until the sweep ends.
func (s *Scheduler) armAlarm(at uint32) {
	s.counter.SetAlarm(at, func() {
		if s.Advance() {
			s.armAlarm(at + clock.Ticks(s.cfg.Period))
		}
	})
}

// begin must be called with s.mu held.
func (s *Scheduler) begin(ctx context.Context, sess *session.Session, gates []*prober.Gate) {
	s.ctx = ctx
	s.session = sess
	s.gates = gates
	s.key = results.Key{}
	s.done = make(chan struct{})
	s.handler.SetSession(sess)

	for iface, err := range s.applier.Prepare(ctx) {
		if err != nil {
			log.Warn("cannot prepare interface", "iface", s.cfg.Interfaces[iface], "error", err)
		}
	}
	s.apply(ctx, 0)
	sess.SetActive(s.key, s.enum.Seed(s.key.Configuration, s.cfg.Seed))
}

// apply must be called with s.mu held and every gate closed.
func (s *Scheduler) apply(ctx context.Context, index int) {
	label := s.enum.Label(index)
	metrics.ActiveConfiguration.Set(float64(index))
	s.emitter.OnConfiguration(index, label)
	for iface, err := range s.applier.Apply(ctx, index) {
		if err == nil {
			continue
		}
		if ierr := s.session.Store.Invalidate(iface, index); ierr != nil {
			log.Debug("cannot invalidate cells", "iface", iface, "error", ierr)
		}
		s.emitter.OnError(fmt.Errorf("%s rejected configuration %d (%s): %w",
			s.cfg.Interfaces[iface], index, label, err))
	}
}

// closeGates must be called with s.mu held.
func (s *Scheduler) closeGates(ctx context.Context) error {
	for _, g := range s.gates {
		if err := g.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

// openGates must be called with s.mu held.
func (s *Scheduler) openGates() {
	for _, g := range s.gates {
		g.Open()
	}
}

// settle waits for the grace interval. The radio may still be transmitting
// the last frame of the phase.
func (s *Scheduler) settle(ctx context.Context) error {
	t := time.NewTimer(s.cfg.Grace)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance ends the active phase and starts the next one: the next payload
// size, or the first payload size of the next configuration. It returns
// false if there is no active sweep or if the sweep just ended.
func (s *Scheduler) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return false
	}
	ctx := s.ctx
	if err := s.closeGates(ctx); err != nil {
		return false
	}
	if err := s.settle(ctx); err != nil {
		return false
	}

	k := s.key
	k.Payload++
	if k.Payload == len(s.cfg.PayloadSizes) {
		k.Payload = 0
		k.Configuration++
	}
	if k.Configuration == s.enum.Total() {
		log.Info("sweep ended", "id", s.session.ID)
		s.end()
		return false
	}
	if k.Payload == 0 {
		s.apply(ctx, k.Configuration)
	}
	s.key = k
	s.session.SetActive(k, s.enum.Seed(k.Configuration, s.cfg.Seed))
	log.Debug("phase started", "configuration", k.Configuration,
		"payload", s.cfg.PayloadSizes[k.Payload])
	s.openGates()
	return true
}

// Restart moves an active sweep back to its first phase.
func (s *Scheduler) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.key == (results.Key{}) {
		return
	}
	ctx := s.ctx
	if err := s.closeGates(ctx); err != nil {
		return
	}
	if err := s.settle(ctx); err != nil {
		return
	}
	log.Info("sweep restarted", "id", s.session.ID)
	s.key = results.Key{}
	s.apply(ctx, 0)
	s.session.SetActive(s.key, s.enum.Seed(s.key.Configuration, s.cfg.Seed))
	s.openGates()
}

// end must be called with s.mu held. Workers are let through their gates so
// they can observe the end of the sweep.
func (s *Scheduler) end() {
	s.counter.ClearAlarm()
	s.session.Deactivate()
	s.openGates()
	s.session = nil
	close(s.done)
}

// stop aborts the active sweep, if any.
func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return
	}
	s.end()
}

func (s *Scheduler) finalize(sess *session.Session, attempts int) {
	archive := &model.ArchivalData{
		GitShortCommit:    prometheusx.GitShortCommit,
		Version:           version.Version,
		ID:                sess.ID,
		Interfaces:        s.cfg.Interfaces,
		HandshakeAttempts: attempts,
		StartTime:         sess.StartTime,
	}
	for r := range sess.Store.Finalize(s.enum.Label) {
		s.emitter.OnRecord(r)
		archive.Records = append(archive.Records, r)
	}
	archive.EndTime = time.Now()
	metrics.SweepsCompleted.Inc()
	s.emitter.OnSummary(archive)

	if s.cfg.DataDir == "" {
		return
	}
	df, err := persistence.WriteDataFile(s.cfg.DataDir, spec.ServiceName, "sweep", sess.ID, archive)
	if err != nil {
		log.Error("failed to write sweep archive", "id", sess.ID, "error", err)
		s.emitter.OnError(err)
		return
	}
	log.Info("sweep archived", "path", df.Path, "size", df.Size)
}
