// Package swim implements the membership/failure-detection engine:
// a simplified SWIM protocol (periodic ping, timeout-triggered
// indirect ping via a helper, timeout-triggered suspicion) that drives
// itself purely through the Runtime side-effect sink, never performing
// I/O or scheduling on its own. The Engine is meant to be owned
// exclusively by a single-threaded caller (pkg/runtime's Runtime
// Actor); it is not safe for concurrent use by design — serialization
// is the caller's job, matching spec.md's single-owner model.
package swim

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/criticalstack/swimkv/pkg/broadcast"
	"github.com/criticalstack/swimkv/pkg/identity"
	"github.com/criticalstack/swimkv/pkg/log"
)

// Config tunes probe cadence and suspicion thresholds.
type Config struct {
	ProbePeriod      time.Duration
	ProbeTimeout     time.Duration
	SuspicionTimeout time.Duration
	IndirectProbes   int
}

// DefaultConfig mirrors typical SWIM defaults: probe every second,
// give a direct ping 500ms before escalating, and five seconds of
// suspicion before declaring a member down.
func DefaultConfig() Config {
	return Config{
		ProbePeriod:      time.Second,
		ProbeTimeout:     500 * time.Millisecond,
		SuspicionTimeout: 5 * time.Second,
		IndirectProbes:   3,
	}
}

type memberState int

const (
	stateAlive memberState = iota
	stateSuspect
)

type memberEntry struct {
	id    identity.ID
	state memberState
}

type pendingProbe struct {
	target identity.ID
}

type indirectRelay struct {
	origin identity.ID
	origSeq uint32
}

// BroadcastSource is the subset of the broadcast plumbing the Engine
// needs: a way to parse an inbound piggybacked item and a way to pull
// bytes to piggyback on outgoing packets. pkg/runtime wires this to a
// pkg/broadcast.Handler plus a memberlist.TransmitLimitedQueue.
type BroadcastSource interface {
	Receive(data []byte) (*broadcast.Item, error)
	GetBroadcasts(overhead, limit int) [][]byte
	QueueBroadcast(item broadcast.Item)
}

// Engine is the membership/failure-detection state machine. The zero
// value is not usable; construct with NewEngine.
type Engine struct {
	self identity.ID
	cfg  Config

	members map[string]*memberEntry // keyed by identity.ID.Addr
	pending map[uint32]*pendingProbe
	relays  map[uint32]indirectRelay
	nextSeq uint32

	broadcasts BroadcastSource
	rnd        *rand.Rand
}

func NewEngine(self identity.ID, cfg Config, broadcasts BroadcastSource) *Engine {
	return &Engine{
		self:       self,
		cfg:        cfg,
		members:    make(map[string]*memberEntry),
		pending:    make(map[uint32]*pendingProbe),
		relays:     make(map[uint32]indirectRelay),
		broadcasts: broadcasts,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// maxPiggybackBytes bounds how much gossip an Engine attaches to a
// single failure-detector datagram.
const maxPiggybackBytes = 1400

func (e *Engine) piggyback() []byte {
	items := e.broadcasts.GetBroadcasts(0, maxPiggybackBytes)
	if len(items) == 0 {
		return nil
	}
	// Only the first is carried: the packet format has room for one
	// opaque blob, matching the simplicity of the teacher's own
	// single-statusMsg-per-packet gossip payloads.
	return items[0]
}

// Announce requests the engine initiate joining the cluster through
// peer by sending it a direct ping. peer is not added to the member
// list here; it joins the list (and MemberUp is notified) once it acks.
func (e *Engine) Announce(peer identity.ID, rt Runtime) error {
	e.ping(peer, rt)
	return nil
}

// Start schedules the first probe tick. The owner calls this once,
// after construction, alongside any Announce.
func (e *Engine) Start(rt Runtime) {
	rt.SubmitAfter(e.cfg.ProbePeriod, Timer{Kind: TimerProbeTick})
}

// HandleTimer re-injects a previously scheduled event.
func (e *Engine) HandleTimer(t Timer, rt Runtime) error {
	switch t.Kind {
	case TimerProbeTick:
		e.startProbeRound(rt)
		rt.SubmitAfter(e.cfg.ProbePeriod, Timer{Kind: TimerProbeTick})
	case TimerProbeTimeout:
		e.handleProbeTimeout(t.Target, rt)
	case TimerSuspectTimeout:
		e.handleSuspectTimeout(t.Target, rt)
	}
	return nil
}

// HandleData parses an inbound failure-detector datagram and dispatches it.
func (e *Engine) HandleData(data []byte, rt Runtime) error {
	p, err := decodePacket(data)
	if err != nil {
		log.Debug("dropping malformed swim packet", zap.Error(err))
		return nil
	}

	switch p.Kind {
	case msgPing:
		e.handlePing(p, rt)
	case msgAck:
		e.handleAck(p, rt)
	case msgPingReq:
		e.handlePingReq(p, rt)
	case msgIndirectAck:
		e.handleIndirectAck(p, rt)
	}

	if len(p.Piggyback) > 0 {
		e.handlePiggyback(p.Piggyback)
	}
	return nil
}

func (e *Engine) handlePiggyback(data []byte) {
	item, err := e.broadcasts.Receive(data)
	if err != nil {
		log.Debug("dropping malformed piggybacked broadcast", zap.Error(err))
		return
	}
	if item != nil {
		e.broadcasts.QueueBroadcast(*item)
	}
}

func (e *Engine) ping(target identity.ID, rt Runtime) {
	seq := e.nextSeq
	e.nextSeq++
	e.pending[seq] = &pendingProbe{target: target}

	data, err := encodePacket(packet{Kind: msgPing, From: e.self, Seq: seq, Piggyback: e.piggyback()})
	if err != nil {
		log.Error("cannot encode ping packet", zap.Error(err))
		return
	}
	rt.SendTo(target, data)
	rt.SubmitAfter(e.cfg.ProbeTimeout, Timer{Kind: TimerProbeTimeout, Target: target})
}

func (e *Engine) startProbeRound(rt Runtime) {
	candidates := make([]*memberEntry, 0, len(e.members))
	for _, m := range e.members {
		if m.id.Addr != e.self.Addr {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		rt.Notify(Notification{Kind: NotifyIdle})
		return
	}
	target := candidates[e.rnd.Intn(len(candidates))]
	e.ping(target.id, rt)
}

func (e *Engine) handlePing(p packet, rt Runtime) {
	e.markAlive(p.From, rt)
	data, err := encodePacket(packet{Kind: msgAck, From: e.self, Seq: p.Seq, Piggyback: e.piggyback()})
	if err != nil {
		log.Error("cannot encode ack packet", zap.Error(err))
		return
	}
	rt.SendTo(p.From, data)
}

func (e *Engine) handleAck(p packet, rt Runtime) {
	if relay, ok := e.relays[p.Seq]; ok {
		delete(e.relays, p.Seq)
		e.sendIndirectAck(relay, rt)
		return
	}
	e.acknowledge(p.From, p.Seq, rt)
}

func (e *Engine) handleIndirectAck(p packet, rt Runtime) {
	e.acknowledge(p.From, p.Seq, rt)
}

// acknowledge clears a pending direct probe. If the target was
// unknown (the first ack after an Announce) or suspect, it is (re-)
// marked alive; a suspect-recovers-to-alive transition is not itself
// notified — the Notification set (§3) only distinguishes Up/Down/Idle.
func (e *Engine) acknowledge(from identity.ID, seq uint32, rt Runtime) {
	pp, ok := e.pending[seq]
	if !ok {
		return
	}
	delete(e.pending, seq)
	e.markAlive(pp.target, rt)
	_ = from
}

// markAlive records id as alive, notifying MemberUp only on the
// 0→1-style transition from entirely unknown.
func (e *Engine) markAlive(id identity.ID, rt Runtime) {
	m, known := e.members[id.Addr]
	if !known {
		e.members[id.Addr] = &memberEntry{id: id, state: stateAlive}
		rt.Notify(Notification{Kind: NotifyMemberUp, ID: id})
		return
	}
	m.state = stateAlive
}

func (e *Engine) handleProbeTimeout(target identity.ID, rt Runtime) {
	pending := e.findPendingFor(target)
	if pending == nil {
		return // already acked
	}
	m, ok := e.members[target.Addr]
	if !ok || m.state != stateAlive {
		return
	}
	m.state = stateSuspect
	log.Debug("member suspected", zap.String("address", target.Addr))
	e.requestIndirectProbes(target, rt)
	rt.SubmitAfter(e.cfg.SuspicionTimeout, Timer{Kind: TimerSuspectTimeout, Target: target})
}

func (e *Engine) findPendingFor(target identity.ID) *pendingProbe {
	for _, pp := range e.pending {
		if pp.target.Addr == target.Addr {
			return pp
		}
	}
	return nil
}

func (e *Engine) requestIndirectProbes(target identity.ID, rt Runtime) {
	helpers := make([]*memberEntry, 0, len(e.members))
	for _, m := range e.members {
		if m.id.Addr != e.self.Addr && m.id.Addr != target.Addr && m.state == stateAlive {
			helpers = append(helpers, m)
		}
	}
	e.rnd.Shuffle(len(helpers), func(i, j int) { helpers[i], helpers[j] = helpers[j], helpers[i] })

	n := e.cfg.IndirectProbes
	if n > len(helpers) {
		n = len(helpers)
	}
	origSeq := e.nextSeq
	e.nextSeq++
	e.pending[origSeq] = &pendingProbe{target: target}

	for i := 0; i < n; i++ {
		data, err := encodePacket(packet{Kind: msgPingReq, From: e.self, Target: target, Seq: origSeq})
		if err != nil {
			log.Error("cannot encode ping-req packet", zap.Error(err))
			continue
		}
		rt.SendTo(helpers[i].id, data)
	}
}

func (e *Engine) handlePingReq(p packet, rt Runtime) {
	seq := e.nextSeq
	e.nextSeq++
	e.relays[seq] = indirectRelay{origin: p.From, origSeq: p.Seq}

	data, err := encodePacket(packet{Kind: msgPing, From: e.self, Seq: seq})
	if err != nil {
		log.Error("cannot encode relayed ping packet", zap.Error(err))
		return
	}
	rt.SendTo(p.Target, data)
}

func (e *Engine) sendIndirectAck(relay indirectRelay, rt Runtime) {
	data, err := encodePacket(packet{Kind: msgIndirectAck, From: e.self, Seq: relay.origSeq})
	if err != nil {
		log.Error("cannot encode indirect-ack packet", zap.Error(err))
		return
	}
	rt.SendTo(relay.origin, data)
}

func (e *Engine) handleSuspectTimeout(target identity.ID, rt Runtime) {
	m, ok := e.members[target.Addr]
	if !ok || m.state != stateSuspect {
		return // recovered already
	}
	delete(e.members, target.Addr)
	rt.Notify(Notification{Kind: NotifyMemberDown, ID: target})
}

// Members returns a snapshot of currently known member identities
// (alive or suspect; down members are removed from the map entirely).
func (e *Engine) Members() []identity.ID {
	ids := make([]identity.ID, 0, len(e.members))
	for _, m := range e.members {
		ids = append(ids, m.id)
	}
	return ids
}
