package runtime

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/criticalstack/swimkv/pkg/identity"
	"github.com/criticalstack/swimkv/pkg/swim"
)

type fakeStore struct {
	mu     sync.Mutex
	merges int
}

func (s *fakeStore) Merge(remote []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges++
}

func (s *fakeStore) Snapshot() []byte { return []byte("snapshot") }

func (s *fakeStore) mergeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merges
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func fastConfig() swim.Config {
	cfg := swim.DefaultConfig()
	cfg.ProbePeriod = 50 * time.Millisecond
	cfg.ProbeTimeout = 50 * time.Millisecond
	cfg.SuspicionTimeout = 200 * time.Millisecond
	return cfg
}

func TestTwoActorsConverge(t *testing.T) {
	connA := listen(t)
	defer connA.Close()
	connB := listen(t)
	defer connB.Close()

	idA := identity.ID{Addr: connA.LocalAddr().String(), Bump: 1}
	idB := identity.ID{Addr: connB.LocalAddr().String(), Bump: 1}

	storeA := &fakeStore{}
	storeB := &fakeStore{}
	actorA := New(idA, connA, storeA, fastConfig())
	actorB := New(idB, connB, storeB, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	actorA.Start(ctx, nil)
	actorB.Start(ctx, &idA)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(actorA.Addresses()) == 2 && len(actorB.Addresses()) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(actorA.Addresses()) != 2 || len(actorB.Addresses()) != 2 {
		t.Fatalf("nodes did not converge: A=%v B=%v", actorA.Addresses(), actorB.Addresses())
	}

	// B's join StartupMessage should have pulled a full-state reply
	// from A, merged into B's store.
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if storeB.mergeCount() > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("joiner never received a pull-on-join full sync")
}
