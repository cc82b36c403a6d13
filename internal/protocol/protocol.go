// Package protocol implements the HELLO/HELLO_ACK clock synchronization and
// the PING/PONG probe exchange between rangetest nodes.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/rangetest/internal/clock"
	"github.com/m-lab/rangetest/internal/metrics"
	"github.com/m-lab/rangetest/internal/netx"
	"github.com/m-lab/rangetest/internal/persistence"
	"github.com/m-lab/rangetest/internal/results"
	"github.com/m-lab/rangetest/internal/session"
	"github.com/m-lab/rangetest/pkg/rangetest/model"
	"github.com/m-lab/rangetest/pkg/rangetest/spec"
	"github.com/m-lab/rangetest/pkg/version"
)

var (
	// ErrHandshakeTimeout means no HELLO_ACK was received after the maximum
	// number of HELLOs.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	errNoPhase   = errors.New("no active phase")
	errStalePong = errors.New("pong does not match the active payload size")
)

// Config configures a Handler.
type Config struct {
	// Interfaces is the number of logical interfaces of the transport.
	Interfaces int
	// Period is the phase duration used by the responder-side alarm.
	Period time.Duration
	// PeerTTL is how long a peer is remembered after its last HELLO.
	PeerTTL time.Duration
	// DataDir is where forgotten peers are archived. Empty disables
	// archival.
	DataDir string
	// Micros is the clock used to timestamp probes. Defaults to
	// clock.Micros.
	Micros func() uint32
}

type peer struct {
	id        string
	addr      string
	iface     int
	firstSeen time.Time
	lastSeen  atomic.Int64
	hellos    atomic.Int64
	pings     atomic.Int64
}

func (p *peer) archive() *model.PeerArchive {
	return &model.PeerArchive{
		GitShortCommit: prometheusx.GitShortCommit,
		Version:        version.Version,
		ID:             p.id,
		Address:        p.addr,
		Interface:      p.iface,
		FirstSeen:      p.firstSeen,
		LastSeen:       time.Unix(0, p.lastSeen.Load()),
		Hellos:         p.hellos.Load(),
		PingsAnswered:  p.pings.Load(),
	}
}

// Handler processes inbound frames and sends outbound ones. It is shared by
// the sweep scheduler, the probe workers and the responder loop.
type Handler struct {
	transport netx.Transport
	counter   clock.Counter
	cfg       Config

	session atomic.Pointer[session.Session]
	synced  atomic.Bool
	// syncs counts the HELLOs that realigned the counter.
	syncs   atomic.Uint64
	acks    chan uint32
	next    chan struct{}

	advanceMu sync.Mutex
	advance   func() bool
	onSync    func()

	peers   *ttlcache.Cache[string, *peer]
	peersMu sync.Mutex
}

// NewHandler returns a Handler sending over t and synchronizing c. It sets up
// a cache for peers that archives them on eviction.
func NewHandler(t netx.Transport, c clock.Counter, cfg Config) *Handler {
	if cfg.Micros == nil {
		cfg.Micros = clock.Micros
	}
	if cfg.PeerTTL == 0 {
		cfg.PeerTTL = spec.DefaultPeerTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *peer](cfg.PeerTTL),
		ttlcache.WithDisableTouchOnHit[string, *peer](),
	)
	dir := cfg.DataDir
	cache.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason,
		i *ttlcache.Item[string, *peer]) {
		archive := i.Value().archive()
		log.Debug("peer forgotten", "id", archive.ID, "addr", archive.Address,
			"reason", er)
		if dir == "" {
			return
		}
		_, err := persistence.WriteDataFile(dir, spec.ServiceName, "peer", archive.ID, archive)
		if err != nil {
			log.Error("failed to write peer archive", "id", archive.ID, "error", err)
		}
	})
	go cache.Start()
	return &Handler{
		transport: t,
		counter:   c,
		cfg:       cfg,
		acks:      make(chan uint32, 1),
		next:      make(chan struct{}, 1),
		peers:     cache,
	}
}

// SetSession makes s the session receiving PONG samples.
func (h *Handler) SetSession(s *session.Session) {
	h.session.Store(s)
}

// Synced reports whether the counter has been aligned with a peer.
func (h *Handler) Synced() bool {
	return h.synced.Load()
}

// Unsync forgets the current synchronization and disarms the responder-side
// alarm.
func (h *Handler) Unsync() {
	h.synced.Store(false)
	h.advanceMu.Lock()
	defer h.advanceMu.Unlock()
	if h.advance != nil {
		h.counter.ClearAlarm()
	}
}

// OnNextSetting registers the advance logic run by the responder loop every
// period once a peer's HELLO has been received. When advance returns false,
// the loop forgets the synchronization until the next HELLO. Passing nil
// disables the responder-side alarm.
func (h *Handler) OnNextSetting(advance func() bool) {
	h.advanceMu.Lock()
	defer h.advanceMu.Unlock()
	h.advance = advance
}

// OnSync registers a function run by the responder loop every time a peer's
// HELLO realigns the counter, before the responder-side alarm is armed.
func (h *Handler) OnSync(f func()) {
	h.advanceMu.Lock()
	defer h.advanceMu.Unlock()
	h.onSync = f
}

// NextSetting asks the responder loop to advance the local sweep. It never
// blocks: if a request is already pending, this one is merged with it.
func (h *Handler) NextSetting() {
	select {
	case h.next <- struct{}{}:
	default:
	}
}

// Acks returns the channel receiving the reference time of every HELLO_ACK.
func (h *Handler) Acks() <-chan uint32 {
	return h.acks
}

// SendHello sends a HELLO carrying ref on every interface. It fails only if
// no interface could send it.
func (h *Handler) SendHello(ref uint32) error {
	b := (&model.Hello{Kind: model.KindHello, ReferenceTime: ref}).Marshal()
	var errs []error
	for i := 0; i < h.cfg.Interfaces; i++ {
		if err := h.transport.Send(i, b); err != nil {
			metrics.SendErrors.WithLabelValues(model.KindHello.String()).Inc()
			errs = append(errs, fmt.Errorf("iface %d: %w", i, err))
		}
	}
	metrics.HellosSent.Inc()
	if len(errs) == h.cfg.Interfaces && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SendPing sends a PING of the given frame size over iface and returns its
// timestamp.
func (h *Handler) SendPing(iface int, size int, seq uint16) (uint32, error) {
	ts := h.cfg.Micros()
	ping := &model.PingPong{
		Kind:      model.KindPing,
		Timestamp: ts,
		Sequence:  seq,
		Size:      size,
	}
	if err := h.transport.Send(iface, ping.Marshal()); err != nil {
		metrics.SendErrors.WithLabelValues(model.KindPing.String()).Inc()
		return 0, err
	}
	metrics.ProbesSent.WithLabelValues(strconv.Itoa(iface)).Inc()
	return ts, nil
}

func (h *Handler) handleHello(f *netx.Frame) error {
	hello, err := model.ParseHello(f.Data)
	if err != nil {
		return err
	}
	h.counter.SetCounter(hello.ReferenceTime)
	ack := &model.Hello{Kind: model.KindHelloAck, ReferenceTime: hello.ReferenceTime}
	if err := h.transport.Reply(f, ack.Marshal()); err != nil {
		metrics.SendErrors.WithLabelValues(model.KindHelloAck.String()).Inc()
		return err
	}
	h.synced.Store(true)
	gen := h.syncs.Add(1)
	h.trackHello(f)
	log.Info("synchronized with peer", "addr", f.Src, "iface", f.Iface,
		"ref", hello.ReferenceTime)

	h.advanceMu.Lock()
	onSync := h.onSync
	h.advanceMu.Unlock()
	if onSync != nil {
		onSync()
	}

	h.advanceMu.Lock()
	defer h.advanceMu.Unlock()
	if h.advance != nil {
		h.armNextSetting(hello.ReferenceTime+clock.Ticks(h.cfg.Period), gen)
	}
	return nil
}

// armNextSetting arms the responder-side alarm, which posts a NextSetting
// request every period until the synchronization gen is lost or replaced.
func (h *Handler) armNextSetting(at uint32, gen uint64) {
	period := clock.Ticks(h.cfg.Period)
	h.counter.SetAlarm(at, func() {
		h.NextSetting()
		h.advanceMu.Lock()
		defer h.advanceMu.Unlock()
		if h.advance != nil && h.synced.Load() && h.syncs.Load() == gen {
			h.armNextSetting(at+period, gen)
		}
	})
}

func (h *Handler) handleHelloAck(f *netx.Frame) error {
	ack, err := model.ParseHello(f.Data)
	if err != nil {
		return err
	}
	h.counter.SetCounter(ack.ReferenceTime)
	h.synced.Store(true)
	select {
	case h.acks <- ack.ReferenceTime:
	default:
	}
	return nil
}

func (h *Handler) handlePing(f *netx.Frame) error {
	ping, err := model.ParsePingPong(f.Data)
	if err != nil {
		return err
	}
	pong := &model.PingPong{
		Kind:      model.KindPong,
		RSSI:      f.RSSI,
		LQI:       f.LQI,
		Timestamp: ping.Timestamp,
		Sequence:  ping.Sequence,
		Size:      ping.Size,
	}
	if err := h.transport.Reply(f, pong.Marshal()); err != nil {
		metrics.SendErrors.WithLabelValues(model.KindPong.String()).Inc()
		return err
	}
	metrics.PingsAnswered.Inc()
	h.peersMu.Lock()
	item := h.peers.Get(f.Src.String())
	h.peersMu.Unlock()
	if item != nil {
		item.Value().pings.Add(1)
	}
	return nil
}

func (h *Handler) handlePong(f *netx.Frame) error {
	pong, err := model.ParsePingPong(f.Data)
	if err != nil {
		return err
	}
	rtt := time.Duration(h.cfg.Micros()-pong.Timestamp) * time.Microsecond
	s := h.session.Load()
	if s == nil {
		return errNoPhase
	}
	k, ok := s.Active()
	if !ok {
		return errNoPhase
	}
	if size := s.Store.Config().PayloadSizes[k.Payload]; size != pong.Size {
		return errStalePong
	}
	err = s.Store.Add(f.Iface, k, results.Sample{
		RoundTrip:  rtt,
		RSSILocal:  int(f.RSSI),
		RSSIRemote: int(pong.RSSI),
		LQILocal:   int(f.LQI),
		LQIRemote:  int(pong.LQI),
	})
	if err != nil {
		return err
	}
	iface := strconv.Itoa(f.Iface)
	metrics.PongsReceived.WithLabelValues(iface).Inc()
	metrics.RoundTripTime.WithLabelValues(iface).Observe(rtt.Seconds())
	log.Debug("received pong", "iface", f.Iface, "seq", pong.Sequence, "rtt", rtt)
	return nil
}

func (h *Handler) trackHello(f *netx.Frame) {
	addr := f.Src.String()
	now := time.Now()
	h.peersMu.Lock()
	defer h.peersMu.Unlock()
	var p *peer
	if item := h.peers.Get(addr); item != nil {
		p = item.Value()
	} else {
		p = &peer{id: uuid.NewString(), addr: addr, iface: f.Iface, firstSeen: now}
	}
	p.hellos.Add(1)
	p.lastSeen.Store(now.UnixNano())
	// Set refreshes the TTL of a known peer.
	h.peers.Set(addr, p, ttlcache.DefaultTTL)
}

// processFrame processes a single frame.
func (h *Handler) processFrame(f *netx.Frame) error {
	kind, err := model.PeekKind(f.Data)
	if err != nil {
		return err
	}
	switch kind {
	case model.KindHello:
		return h.handleHello(f)
	case model.KindHelloAck:
		return h.handleHelloAck(f)
	case model.KindPing:
		return h.handlePing(f)
	default:
		return h.handlePong(f)
	}
}

func (h *Handler) nextSetting() {
	h.advanceMu.Lock()
	advance := h.advance
	h.advanceMu.Unlock()
	if advance == nil || !h.synced.Load() {
		return
	}
	// The local sweep is over. Frames are handled on this goroutine, so a
	// HELLO can only be seen after the synchronization is forgotten.
	if !advance() {
		h.Unsync()
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, model.ErrShortFrame):
		return "short"
	case errors.Is(err, model.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, errNoPhase):
		return "no_phase"
	case errors.Is(err, errStalePong):
		return "stale"
	case errors.Is(err, results.ErrUnavailable):
		return "unavailable"
	default:
		return "send_error"
	}
}

// ProcessPacketLoop is the responder loop. It handles every received frame
// and every NextSetting request, in arrival order, until ctx is done or the
// transport fails.
func (h *Handler) ProcessPacketLoop(ctx context.Context) error {
	log.Info("Accepting frames...")
	frames := make(chan *netx.Frame, spec.QueueSize)
	errc := make(chan error, 1)
	go func() {
		for {
			f, err := h.transport.Receive(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	for {
		select {
		case f := <-frames:
			if err := h.processFrame(f); err != nil {
				metrics.DroppedFrames.WithLabelValues(dropReason(err)).Inc()
				log.Debug("failed to process frame", "err", err, "addr", f.Src,
					"iface", f.Iface)
			}
		case <-h.next:
			h.nextSetting()
		case err := <-errc:
			return err
		}
	}
}

// Close forgets every peer, archiving them, and stops the peer cache.
func (h *Handler) Close() {
	h.peersMu.Lock()
	defer h.peersMu.Unlock()
	h.peers.DeleteAll()
	h.peers.Stop()
}
