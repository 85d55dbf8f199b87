package swim

import (
	"testing"

	"github.com/criticalstack/swimkv/pkg/broadcast"
	"github.com/criticalstack/swimkv/pkg/identity"
)

type noopBroadcasts struct{}

func (noopBroadcasts) Receive(data []byte) (*broadcast.Item, error) { return nil, nil }
func (noopBroadcasts) GetBroadcasts(overhead, limit int) [][]byte   { return nil }
func (noopBroadcasts) QueueBroadcast(item broadcast.Item)           {}

func TestAnnounceSendsPing(t *testing.T) {
	self := identity.New("127.0.0.1:9000")
	peer := identity.New("127.0.0.1:9001")
	e := NewEngine(self, DefaultConfig(), noopBroadcasts{})
	rt := NewAccumulatingRuntime()

	if err := e.Announce(peer, rt); err != nil {
		t.Fatal(err)
	}
	sent := rt.DrainSend()
	if len(sent) != 1 || sent[0].To.Addr != peer.Addr {
		t.Fatalf("expected one ping to %s, got %+v", peer.Addr, sent)
	}
	if len(rt.DrainSchedule()) != 1 {
		t.Fatal("expected a probe timeout to be scheduled")
	}
}

func TestPingAckMarksMemberUpOnce(t *testing.T) {
	self := identity.New("127.0.0.1:9000")
	peer := identity.New("127.0.0.1:9001")
	e := NewEngine(self, DefaultConfig(), noopBroadcasts{})
	rt := NewAccumulatingRuntime()

	e.Announce(peer, rt)
	rt.DrainSend()
	rt.DrainSchedule()

	ackData, err := encodePacket(packet{Kind: msgAck, From: peer, Seq: 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.HandleData(ackData, rt); err != nil {
		t.Fatal(err)
	}
	notifications := rt.DrainNotifications()
	if len(notifications) != 1 || notifications[0].Kind != NotifyMemberUp {
		t.Fatalf("expected one MemberUp notification, got %+v", notifications)
	}

	// A later ping from the already-known member must not notify again.
	ackData2, err := encodePacket(packet{Kind: msgPing, From: peer, Seq: 99})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.HandleData(ackData2, rt); err != nil {
		t.Fatal(err)
	}
	rt.DrainSend()
	if n := rt.DrainNotifications(); len(n) != 0 {
		t.Fatalf("expected no further MemberUp notifications, got %+v", n)
	}
}

func TestProbeTimeoutEscalatesToSuspicionThenDown(t *testing.T) {
	self := identity.New("127.0.0.1:9000")
	peer := identity.New("127.0.0.1:9001")
	helper := identity.New("127.0.0.1:9002")
	e := NewEngine(self, DefaultConfig(), noopBroadcasts{})
	rt := NewAccumulatingRuntime()

	// Bring both peer and helper into the member list via pings.
	e.Announce(peer, rt)
	rt.DrainSend()
	rt.DrainSchedule()
	ack, _ := encodePacket(packet{Kind: msgAck, From: peer, Seq: 0})
	e.HandleData(ack, rt)
	rt.DrainNotifications()

	e.Announce(helper, rt)
	rt.DrainSend()
	rt.DrainSchedule()
	ack2, _ := encodePacket(packet{Kind: msgAck, From: helper, Seq: 1})
	e.HandleData(ack2, rt)
	rt.DrainNotifications()

	// Simulate a fresh probe round against peer, then time it out.
	e.startProbeRoundForTest(peer, rt)
	rt.DrainSend()
	rt.DrainSchedule()

	e.handleProbeTimeout(peer, rt)
	schedule := rt.DrainSchedule()
	if len(schedule) == 0 {
		t.Fatal("expected a suspicion timeout to be scheduled")
	}

	e.handleSuspectTimeout(peer, rt)
	notifications := rt.DrainNotifications()
	if len(notifications) != 1 || notifications[0].Kind != NotifyMemberDown {
		t.Fatalf("expected a MemberDown notification, got %+v", notifications)
	}
}

// startProbeRoundForTest pings a specific target instead of a random
// member, so the timeout escalation test is deterministic.
func (e *Engine) startProbeRoundForTest(target identity.ID, rt Runtime) {
	e.ping(target, rt)
}

func TestPerStepDrainInvariant(t *testing.T) {
	self := identity.New("127.0.0.1:9000")
	peer := identity.New("127.0.0.1:9001")
	e := NewEngine(self, DefaultConfig(), noopBroadcasts{})
	rt := NewAccumulatingRuntime()

	e.Announce(peer, rt)
	if rt.Backlog() == 0 {
		t.Fatal("expected Announce to have produced side-effects")
	}
	rt.DrainSend()
	rt.DrainSchedule()
	rt.DrainNotifications()
	if rt.Backlog() != 0 {
		t.Fatalf("expected empty backlog after draining, got %d", rt.Backlog())
	}

	_ = e.HandleTimer(Timer{Kind: TimerProbeTick}, rt)
	rt.DrainSend()
	rt.DrainSchedule()
	rt.DrainNotifications()
	if rt.Backlog() != 0 {
		t.Fatalf("expected empty backlog after draining a timer step, got %d", rt.Backlog())
	}
}
