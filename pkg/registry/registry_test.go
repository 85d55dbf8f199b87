package registry

import (
	"testing"

	"github.com/criticalstack/swimkv/pkg/identity"
)

func TestAddReportsZeroToOneTransitionOnly(t *testing.T) {
	r := New()
	a := identity.ID{Addr: "10.0.0.1:9000", Bump: 1}
	b := identity.ID{Addr: "10.0.0.1:9000", Bump: 2} // rejoin, same address

	if !r.Add(a) {
		t.Fatal("expected first Add to report a transition")
	}
	if r.Add(b) {
		t.Fatal("expected second Add (same address) to not report a transition")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 live address, got %d", r.Len())
	}
}

func TestRemoveReportsOneToZeroTransitionOnly(t *testing.T) {
	r := New()
	a := identity.ID{Addr: "10.0.0.1:9000", Bump: 1}
	b := identity.ID{Addr: "10.0.0.1:9000", Bump: 2}

	r.Add(a)
	r.Add(b)

	if r.Remove(a) {
		t.Fatal("expected first Remove to not yet report a transition")
	}
	if !r.Remove(b) {
		t.Fatal("expected second Remove to report the down transition")
	}
	if r.Len() != 0 {
		t.Fatalf("expected 0 live addresses, got %d", r.Len())
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := New()
	unknown := identity.ID{Addr: "10.0.0.9:9000", Bump: 1}
	if r.Remove(unknown) {
		t.Fatal("expected Remove of unknown address to return false")
	}
}

func TestAddressesListsOnlyPositiveCounters(t *testing.T) {
	r := New()
	r.Add(identity.ID{Addr: "a", Bump: 1})
	r.Add(identity.ID{Addr: "b", Bump: 1})
	r.Remove(identity.ID{Addr: "b", Bump: 1})

	addrs := r.Addresses()
	if len(addrs) != 1 || addrs[0] != "a" {
		t.Fatalf("expected [a], got %v", addrs)
	}
}
