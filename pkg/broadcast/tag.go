package broadcast

import (
	"bytes"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// kind discriminates the Tag sum type on the wire, per spec.md §6:
// 0x00 SyncOperation, 0x01 StartupMessage, 0x02 NodeConfig.
type kind byte

const (
	kindSyncOperation  kind = 0x00
	kindStartupMessage kind = 0x01
	kindNodeConfig     kind = 0x02
)

// Tag frames an application broadcast. Only the fields relevant to Kind
// are meaningful; Go has no tagged-union type, so this mirrors the
// Rust enum as a struct with a discriminant, the way the teacher's own
// wire types (e.g. gossip.NodeStatus) are plain structs carrying every
// field they might need.
type Tag struct {
	Kind        kind
	OperationID uuid.UUID // SyncOperation
	StartupTime int64     // StartupMessage: ns since epoch
	NodeID      uuid.UUID // StartupMessage
	Node        string    // NodeConfig
	Version     uint64    // NodeConfig: ns since epoch, see spec's monotonicity caveat
}

// SyncOperation builds a Tag carrying a CRDT update under opID.
func SyncOperation(opID uuid.UUID) Tag {
	return Tag{Kind: kindSyncOperation, OperationID: opID}
}

// StartupMessage builds a Tag announcing a newly joined node.
func StartupMessage(startupTime int64, nodeID uuid.UUID) Tag {
	return Tag{Kind: kindStartupMessage, StartupTime: startupTime, NodeID: nodeID}
}

// NodeConfigTag builds a Tag carrying a last-write-wins node
// configuration update.
func NodeConfigTag(node string, version uint64) Tag {
	return Tag{Kind: kindNodeConfig, Node: node, Version: version}
}

// invalidates implements the one invalidation rule spec.md §3/§4.4
// defines: a NodeConfig item for a node supersedes a buffered
// NodeConfig item for the same node with an earlier version. Every
// other tag pairing coexists until the membership engine retires it by
// transmission count.
func (t Tag) invalidates(other Tag) bool {
	if t.Kind != kindNodeConfig || other.Kind != kindNodeConfig {
		return false
	}
	if t.Node != other.Node {
		return false
	}
	return t.Version > other.Version
}

func encodeTag(buf *bytes.Buffer, t Tag) error {
	buf.WriteByte(byte(t.Kind))
	switch t.Kind {
	case kindSyncOperation:
		b, err := t.OperationID.MarshalBinary()
		if err != nil {
			return errors.Wrap(err, "cannot marshal operation id")
		}
		buf.Write(b)
	case kindStartupMessage:
		putFixed64(buf, uint64(t.StartupTime))
		b, err := t.NodeID.MarshalBinary()
		if err != nil {
			return errors.Wrap(err, "cannot marshal node id")
		}
		buf.Write(b)
	case kindNodeConfig:
		putBytes(buf, []byte(t.Node))
		putFixed64(buf, t.Version)
	default:
		return errors.Errorf("unknown tag kind %#v", t.Kind)
	}
	return nil
}

func decodeTag(r *bytes.Reader) (Tag, error) {
	kb, err := r.ReadByte()
	if err != nil {
		return Tag{}, errors.Wrap(err, "cannot read tag discriminant")
	}
	t := Tag{Kind: kind(kb)}
	switch t.Kind {
	case kindSyncOperation:
		var raw [16]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return Tag{}, errors.Wrap(err, "cannot read operation id")
		}
		if err := t.OperationID.UnmarshalBinary(raw[:]); err != nil {
			return Tag{}, errors.Wrap(err, "cannot unmarshal operation id")
		}
	case kindStartupMessage:
		ts, err := readFixed64(r)
		if err != nil {
			return Tag{}, errors.Wrap(err, "cannot read startup time")
		}
		t.StartupTime = int64(ts)
		var raw [16]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return Tag{}, errors.Wrap(err, "cannot read node id")
		}
		if err := t.NodeID.UnmarshalBinary(raw[:]); err != nil {
			return Tag{}, errors.Wrap(err, "cannot unmarshal node id")
		}
	case kindNodeConfig:
		node, err := readBytes(r)
		if err != nil {
			return Tag{}, errors.Wrap(err, "cannot read node address")
		}
		t.Node = string(node)
		version, err := readFixed64(r)
		if err != nil {
			return Tag{}, errors.Wrap(err, "cannot read node config version")
		}
		t.Version = version
	default:
		return Tag{}, errors.Errorf("unknown tag discriminant %#v", kb)
	}
	return t, nil
}
