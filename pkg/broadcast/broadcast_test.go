package broadcast

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

type fakeStore struct {
	merged    [][]byte
	mergeCalls int
	snapshot  []byte
}

func (f *fakeStore) Merge(remote []byte) {
	f.mergeCalls++
	f.merged = append(f.merged, remote)
}

func (f *fakeStore) Snapshot() []byte { return f.snapshot }

func TestFramingRoundTrip(t *testing.T) {
	h := NewHandler(&fakeStore{})
	msg := GossipMessage{MessageType: FullSync, Payload: []byte("hello")}
	tag := SyncOperation(uuid.New())

	crafted, err := h.Craft(tag, &msg)
	if err != nil {
		t.Fatal(err)
	}

	fresh := NewHandler(&fakeStore{})
	item, err := fresh.Receive(crafted.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if item == nil {
		t.Fatal("expected a re-broadcast item")
	}
	if !bytes.Equal(item.Bytes, crafted.Bytes) {
		t.Fatalf("round-trip bytes differ: %x vs %x", item.Bytes, crafted.Bytes)
	}
}

func TestDedupInvokesStoreAtMostOnce(t *testing.T) {
	fs := &fakeStore{}
	h := NewHandler(fs)
	msg := GossipMessage{MessageType: FullSync, Payload: []byte("data")}
	tag := SyncOperation(uuid.New())
	crafted, err := h.Craft(tag, &msg)
	if err != nil {
		t.Fatal(err)
	}

	first, err := h.Receive(crafted.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if first == nil {
		t.Fatal("expected first delivery to be re-broadcast")
	}

	second, err := h.Receive(crafted.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if second != nil {
		t.Fatal("expected duplicate delivery to be suppressed")
	}

	if fs.mergeCalls != 1 {
		t.Fatalf("expected exactly one Merge call, got %d", fs.mergeCalls)
	}
}

func TestStartupMessageRepliesWithFullSnapshot(t *testing.T) {
	fs := &fakeStore{snapshot: []byte("current-state")}
	h := NewHandler(fs)
	tag := StartupMessage(1234, uuid.New())
	crafted, err := h.Craft(tag, nil)
	if err != nil {
		t.Fatal(err)
	}

	reply, err := h.Receive(crafted.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil {
		t.Fatal("expected a reply item")
	}
	if reply.Tag.Kind != kindSyncOperation {
		t.Fatalf("expected reply to be a SyncOperation, got kind %v", reply.Tag.Kind)
	}
}

func TestNodeConfigInvalidation(t *testing.T) {
	older := NodeConfigTag("10.0.0.1:9000", 100)
	newer := NodeConfigTag("10.0.0.1:9000", 200)
	other := NodeConfigTag("10.0.0.2:9000", 300)

	if !newer.invalidates(older) {
		t.Fatal("expected higher version to invalidate lower version for same node")
	}
	if older.invalidates(newer) {
		t.Fatal("expected lower version to not invalidate higher version")
	}
	if newer.invalidates(other) {
		t.Fatal("expected different nodes to never invalidate each other")
	}

	syncTag := SyncOperation(uuid.New())
	if syncTag.invalidates(older) || older.invalidates(syncTag) {
		t.Fatal("expected mismatched tag kinds to never invalidate")
	}
}

func TestNodeConfigStaleVersionDropped(t *testing.T) {
	h := NewHandler(&fakeStore{})
	cfg := &GossipMessage{Payload: []byte("config-v1")}

	first, err := h.Craft(NodeConfigTag("10.0.0.1:9000", 100), cfg)
	if err != nil {
		t.Fatal(err)
	}
	item, err := h.Receive(first.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if item == nil {
		t.Fatal("expected first config to be accepted")
	}

	stale, err := h.Craft(NodeConfigTag("10.0.0.1:9000", 50), cfg)
	if err != nil {
		t.Fatal(err)
	}
	item, err = h.Receive(stale.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Fatal("expected a stale version to be dropped")
	}
}
