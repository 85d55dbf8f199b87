package identity

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRenewIncrementsBumpSameAddr(t *testing.T) {
	id := ID{Addr: "127.0.0.1:9000", Bump: 65535}
	next := id.Renew()
	if next.Addr != id.Addr {
		t.Fatalf("renew changed address: %v -> %v", id.Addr, next.Addr)
	}
	if next.Bump != 0 {
		t.Fatalf("expected bump to wrap to 0, got %d", next.Bump)
	}
}

func TestHasSamePrefixIgnoresBump(t *testing.T) {
	a := ID{Addr: "10.0.0.1:9000", Bump: 1}
	b := ID{Addr: "10.0.0.1:9000", Bump: 2}
	if !a.HasSamePrefix(b) {
		t.Fatal("expected identities with equal addr to share a prefix")
	}
	c := ID{Addr: "10.0.0.2:9000", Bump: 1}
	if a.HasSamePrefix(c) {
		t.Fatal("expected identities with different addr to not share a prefix")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	id := New("127.0.0.1:9001")
	data, err := id.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(id, got); diff != "" {
		t.Errorf("ID round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEqual(t *testing.T) {
	a := ID{Addr: "a", Bump: 1}
	b := ID{Addr: "a", Bump: 1}
	c := ID{Addr: "a", Bump: 2}
	if !a.Equal(b) {
		t.Fatal("expected equal identities to be Equal")
	}
	if a.Equal(c) {
		t.Fatal("expected differing bump to not be Equal")
	}
}
