// Package runtime implements the Runtime Actor: the single-owner
// event loop that multiplexes timers, inbound UDP datagrams, and
// control commands from the HTTP surface into the membership engine,
// draining its side-effects after every step.
package runtime

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/criticalstack/swimkv/pkg/broadcast"
	"github.com/criticalstack/swimkv/pkg/identity"
	"github.com/criticalstack/swimkv/pkg/log"
	"github.com/criticalstack/swimkv/pkg/registry"
	"github.com/criticalstack/swimkv/pkg/swim"
)

// commandCapacity is the recommended bound from spec.md §5 for the
// command, writer, and input channels.
const commandCapacity = 100

type commandKind int

const (
	cmdSendBroadcast commandKind = iota
	cmdHandleTimer
	cmdHandleData
	cmdAnnounce
)

type command struct {
	kind  commandKind
	tag   broadcast.Tag
	msg   *broadcast.GossipMessage
	timer swim.Timer
	data  []byte
	peer  identity.ID
}

type udpPacket struct {
	addr string
	data []byte
}

// Event is a membership transition surfaced to subscribers (the
// websocket event stream in pkg/httpapi).
type Event struct {
	Kind    string
	Address string
}

// broadcastSource adapts a Handler plus a memberlist.TransmitLimitedQueue
// to the swim.BroadcastSource contract the Engine consumes, which keeps
// pkg/swim free of any dependency on memberlist.
type broadcastSource struct {
	handler *broadcast.Handler
	queue   *memberlist.TransmitLimitedQueue
}

func (b *broadcastSource) Receive(data []byte) (*broadcast.Item, error) {
	return b.handler.Receive(data)
}

func (b *broadcastSource) GetBroadcasts(overhead, limit int) [][]byte {
	return b.queue.GetBroadcasts(overhead, limit)
}

func (b *broadcastSource) QueueBroadcast(item broadcast.Item) {
	b.queue.QueueBroadcast(broadcast.AsBroadcast(item, nil))
}

// Actor owns the membership engine, the broadcast handler, the member
// registry, and the command channel the HTTP surface posts to. The
// engine and handler are only touched from the command loop; the
// exported methods (SendBroadcast, Announce, Addresses, Subscribe,
// Unsubscribe) may be called from other goroutines.
type Actor struct {
	self     identity.ID
	nodeID   uuid.UUID
	engine   *swim.Engine
	handler  *broadcast.Handler
	queue    *memberlist.TransmitLimitedQueue
	registry *registry.Registry
	rt       *swim.AccumulatingRuntime

	commands chan command
	writerCh chan udpPacket
	conn     *net.UDPConn

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
}

// New constructs an Actor bound to conn for I/O and store for the
// document the broadcast handler invokes on merge.
func New(self identity.ID, conn *net.UDPConn, store broadcast.DocumentStore, cfg swim.Config) *Actor {
	reg := registry.New()
	reg.Add(self)

	handler := broadcast.NewHandler(store)
	queue := &memberlist.TransmitLimitedQueue{
		NumNodes: func() int {
			if n := reg.Len(); n > 0 {
				return n
			}
			return 1
		},
		RetransmitMult: 2,
	}
	bs := &broadcastSource{handler: handler, queue: queue}

	return &Actor{
		self:        self,
		nodeID:      uuid.New(),
		engine:      swim.NewEngine(self, cfg, bs),
		handler:     handler,
		queue:       queue,
		registry:    reg,
		rt:          swim.NewAccumulatingRuntime(),
		commands:    make(chan command, commandCapacity),
		writerCh:    make(chan udpPacket, commandCapacity),
		conn:        conn,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Start launches the ancillary tasks and the command loop. If
// announceTo is non-nil, the engine is asked to join through it before
// the loop starts serving further commands.
func (a *Actor) Start(ctx context.Context, announceTo *identity.ID) {
	go a.writeLoop(ctx)
	go a.readLoop(ctx)
	go a.commandLoop(ctx, announceTo)
}

// SendBroadcast asks the actor to originate a new broadcast item. Per
// spec.md §5, the command channel blocks the producer on overflow
// (acceptable: HTTP writes are operator rate-limited) rather than
// dropping the request.
func (a *Actor) SendBroadcast(tag broadcast.Tag, msg *broadcast.GossipMessage) {
	a.commands <- command{kind: cmdSendBroadcast, tag: tag, msg: msg}
}

// Announce asks the actor to initiate joining through peer.
func (a *Actor) Announce(peer identity.ID) {
	a.commands <- command{kind: cmdAnnounce, peer: peer}
}

// Addresses returns the currently live peer addresses, including self.
func (a *Actor) Addresses() []string {
	return a.registry.Addresses()
}

// Subscribe registers ch to receive membership events. The channel is
// never closed by the actor; callers should Unsubscribe when done.
// Sends are non-blocking: a slow subscriber misses events rather than
// stalling the actor.
func (a *Actor) Subscribe(ch chan Event) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers[ch] = struct{}{}
}

func (a *Actor) Unsubscribe(ch chan Event) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	delete(a.subscribers, ch)
}

func (a *Actor) publish(ev Event) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for ch := range a.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (a *Actor) commandLoop(ctx context.Context, announceTo *identity.ID) {
	a.engine.Start(a.rt)
	a.drain()

	if announceTo != nil {
		if err := a.engine.Announce(*announceTo, a.rt); err != nil {
			log.Error("initial announce failed", zap.Error(err))
		} else {
			a.announceStartup()
		}
		a.drain()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.commands:
			a.dispatch(cmd)
			a.drain()
		}
	}
}

func (a *Actor) dispatch(cmd command) {
	if backlog := a.rt.Backlog(); backlog != 0 {
		log.Error("swim runtime backlog was not drained before this command", zap.Int("backlog", backlog))
	}

	var err error
	switch cmd.kind {
	case cmdSendBroadcast:
		a.queueBroadcast(cmd.tag, cmd.msg)
	case cmdHandleTimer:
		err = a.engine.HandleTimer(cmd.timer, a.rt)
	case cmdHandleData:
		err = a.engine.HandleData(cmd.data, a.rt)
	case cmdAnnounce:
		if err = a.engine.Announce(cmd.peer, a.rt); err == nil {
			a.announceStartup()
		}
	}
	if err != nil {
		log.Error("swim engine returned an error, continuing", zap.Error(err))
	}
}

// queueBroadcast crafts tag/msg into a wire item and hands it to the
// gossip queue for dissemination.
func (a *Actor) queueBroadcast(tag broadcast.Tag, msg *broadcast.GossipMessage) {
	item, err := a.handler.Craft(tag, msg)
	if err != nil {
		log.Error("cannot craft broadcast", zap.Error(err))
		return
	}
	a.queue.QueueBroadcast(broadcast.AsBroadcast(item, nil))
}

// announceStartup advertises this node to the cluster it just joined
// via a StartupMessage broadcast, per spec.md §3/§4.4: existing
// members reply with their full document state, giving the joiner a
// pull-on-join catch-up without a dedicated RPC.
func (a *Actor) announceStartup() {
	tag := broadcast.StartupMessage(time.Now().UnixNano(), a.nodeID)
	a.queueBroadcast(tag, nil)
}

func (a *Actor) drain() {
	for _, item := range a.rt.DrainSend() {
		select {
		case a.writerCh <- udpPacket{addr: item.To.Addr, data: item.Data}:
		default:
			log.Debug("dropping outbound packet: writer channel full", zap.String("to", item.To.Addr))
		}
	}

	for _, item := range a.rt.DrainSchedule() {
		timer, delay := item.Timer, item.After
		go func() {
			time.Sleep(delay)
			select {
			case a.commands <- command{kind: cmdHandleTimer, timer: timer}:
			default:
				log.Debug("dropping timer re-injection: command channel full")
			}
		}()
	}

	for _, n := range a.rt.DrainNotifications() {
		switch n.Kind {
		case swim.NotifyMemberUp:
			if a.registry.Add(n.ID) {
				log.Info("member up", zap.String("address", n.ID.Addr))
				a.publish(Event{Kind: "member-up", Address: n.ID.Addr})
			}
		case swim.NotifyMemberDown:
			if a.registry.Remove(n.ID) {
				log.Info("member down", zap.String("address", n.ID.Addr))
				a.publish(Event{Kind: "member-down", Address: n.ID.Addr})
			}
		case swim.NotifyIdle:
			log.Debug("no known members to probe")
		}
	}
}

func (a *Actor) readLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("udp read error", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case a.commands <- command{kind: cmdHandleData, data: data}:
		default:
			log.Debug("dropping inbound packet: command channel full")
		}
	}
}

func (a *Actor) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-a.writerCh:
			addr, err := net.ResolveUDPAddr("udp", pkt.addr)
			if err != nil {
				log.Debug("cannot resolve peer address", zap.String("address", pkt.addr), zap.Error(err))
				continue
			}
			if _, err := a.conn.WriteToUDP(pkt.data, addr); err != nil {
				log.Debug("udp send error", zap.String("address", pkt.addr), zap.Error(err))
			}
		}
	}
}
