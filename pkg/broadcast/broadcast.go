// Package broadcast implements the Broadcast Handler component: the
// application-level plug-in the membership engine calls to frame
// outgoing gossip items and to parse, deduplicate, and act on incoming
// ones. It is the only component that talks to both the failure
// detector and the Document Store.
package broadcast

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/criticalstack/swimkv/pkg/log"
)

// MessageType is the GossipMessage discriminant: a full document
// snapshot or a reserved incremental delta.
type MessageType uint8

const (
	FullSync MessageType = iota
	IncSync
)

// GossipMessage is the application-level envelope carried inside a
// SyncOperation broadcast.
type GossipMessage struct {
	MessageType MessageType
	Payload     []byte
}

func encodeGossipMessage(buf *bytes.Buffer, m GossipMessage) {
	buf.WriteByte(byte(m.MessageType))
	putBytes(buf, m.Payload)
}

func decodeGossipMessage(r *bytes.Reader) (GossipMessage, error) {
	mt, err := r.ReadByte()
	if err != nil {
		return GossipMessage{}, errors.Wrap(err, "cannot read message type")
	}
	payload, err := readBytes(r)
	if err != nil {
		return GossipMessage{}, errors.Wrap(err, "cannot read message payload")
	}
	return GossipMessage{MessageType: MessageType(mt), Payload: payload}, nil
}

// Item is a framed broadcast: a Tag plus the exact bytes that were (or
// would be) put on the wire for it.
type Item struct {
	Tag   Tag
	Bytes []byte
}

// DocumentStore is the subset of the Document Store the handler needs.
// Declared as an interface here (rather than importing pkg/store
// directly) so the handler, the membership engine, and the store can
// be wired together without a cyclic dependency between the Runtime
// Actor and the Broadcast Handler.
type DocumentStore interface {
	Merge(remoteSnapshot []byte)
	Snapshot() []byte
}

// Handler frames, parses, deduplicates, and re-broadcasts application
// gossip messages on behalf of the membership engine.
type Handler struct {
	mu         sync.Mutex
	seen       map[uuid.UUID]struct{}
	nodeConfig map[string]uint64
	store      DocumentStore
}

// NewHandler constructs a Handler bound to store.
func NewHandler(store DocumentStore) *Handler {
	return &Handler{
		seen:       make(map[uuid.UUID]struct{}),
		nodeConfig: make(map[string]uint64),
		store:      store,
	}
}

// Craft canonical-encodes tag (and msg, when the tag carries one) into
// a contiguous byte buffer.
func (h *Handler) Craft(tag Tag, msg *GossipMessage) (Item, error) {
	var buf bytes.Buffer
	if err := encodeTag(&buf, tag); err != nil {
		return Item{}, err
	}
	switch tag.Kind {
	case kindSyncOperation:
		if msg == nil {
			return Item{}, errors.New("broadcast: SyncOperation requires a GossipMessage")
		}
		encodeGossipMessage(&buf, *msg)
	case kindStartupMessage:
		// tag carries all fields; no payload follows.
	case kindNodeConfig:
		if msg == nil {
			return Item{}, errors.New("broadcast: NodeConfig requires a payload")
		}
		putBytes(&buf, msg.Payload)
	}
	return Item{Tag: tag, Bytes: buf.Bytes()}, nil
}

// Receive parses a wire-format broadcast item, dispatching it per tag.
// It returns an item to re-broadcast, or (nil, nil) when the item has
// already been seen or is stale and should be dropped silently.
func (h *Handler) Receive(data []byte) (*Item, error) {
	r := bytes.NewReader(data)
	tag, err := decodeTag(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode broadcast tag")
	}

	switch tag.Kind {
	case kindSyncOperation:
		return h.receiveSyncOperation(tag, data, r)
	case kindStartupMessage:
		return h.receiveStartupMessage()
	case kindNodeConfig:
		return h.receiveNodeConfig(tag, data, r)
	default:
		return nil, errors.Errorf("broadcast: unhandled tag kind %#v", tag.Kind)
	}
}

func (h *Handler) receiveSyncOperation(tag Tag, raw []byte, r *bytes.Reader) (*Item, error) {
	// The trailing GossipMessage is always consumed, even when the item
	// turns out to be a dup, so a malformed payload is reported as an
	// error whether or not the operation id was seen before.
	msg, err := decodeGossipMessage(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode gossip message")
	}

	h.mu.Lock()
	_, dup := h.seen[tag.OperationID]
	if !dup {
		h.seen[tag.OperationID] = struct{}{}
	}
	h.mu.Unlock()
	if dup {
		return nil, nil
	}

	switch msg.MessageType {
	case FullSync:
		h.store.Merge(msg.Payload)
	case IncSync:
		log.Debug("ignoring incremental sync payload", zap.String("operation-id", tag.OperationID.String()))
	default:
		log.Debug("ignoring gossip message of unknown type", zap.Uint8("message-type", uint8(msg.MessageType)))
	}

	return &Item{Tag: tag, Bytes: raw}, nil
}

// receiveStartupMessage implements pull-on-join: regardless of whether
// this exact startup announcement has been seen before, reply with a
// fresh SyncOperation carrying the full current document.
func (h *Handler) receiveStartupMessage() (*Item, error) {
	msg := GossipMessage{MessageType: FullSync, Payload: h.store.Snapshot()}
	item, err := h.Craft(SyncOperation(uuid.New()), &msg)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (h *Handler) receiveNodeConfig(tag Tag, raw []byte, r *bytes.Reader) (*Item, error) {
	if _, err := readBytes(r); err != nil {
		return nil, errors.Wrap(err, "cannot decode node config payload")
	}

	h.mu.Lock()
	current, ok := h.nodeConfig[tag.Node]
	stale := ok && current >= tag.Version
	if !stale {
		h.nodeConfig[tag.Node] = tag.Version
	}
	h.mu.Unlock()
	if stale {
		return nil, nil
	}
	return &Item{Tag: tag, Bytes: raw}, nil
}

// broadcastMessage adapts an Item to memberlist.Broadcast so Items can
// be queued on a memberlist.TransmitLimitedQueue, which is exactly the
// retransmit-count-bounded, invalidation-aware buffer spec.md §4.4
// describes.
type broadcastMessage struct {
	item   Item
	notify func()
}

func (b *broadcastMessage) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*broadcastMessage)
	if !ok {
		return false
	}
	return b.item.Tag.invalidates(o.item.Tag)
}

func (b *broadcastMessage) Message() []byte { return b.item.Bytes }

func (b *broadcastMessage) Finished() {
	if b.notify != nil {
		b.notify()
	}
}

// AsBroadcast wraps item for submission to a memberlist.TransmitLimitedQueue.
// notify, if non-nil, is called once the queue has finished transmitting it.
func AsBroadcast(item Item, notify func()) memberlist.Broadcast {
	return &broadcastMessage{item: item, notify: notify}
}
