package swim

import (
	"bytes"
	"encoding/gob"

	"github.com/criticalstack/swimkv/pkg/identity"
)

// messageKind discriminates the failure-detector's own datagrams. This
// is a separate, internal wire format from the application broadcast
// framing in pkg/broadcast (§6 of the governing spec): the failure
// detector's own codec is treated as an external collaborator whose
// exact bytes are unspecified, so this package is free to pick one —
// gob, in the teacher's own idiom for small internal envelopes (see
// pkg/gossip/messages.go's statusMsg).
type messageKind byte

const (
	msgPing messageKind = iota
	msgAck
	msgPingReq
	msgIndirectAck
)

// packet is a single failure-detector datagram. Target is only
// meaningful for msgPingReq (the node the recipient should probe on
// From's behalf). Piggyback carries at most one application broadcast
// item, opaque to this package.
type packet struct {
	Kind      messageKind
	From      identity.ID
	Target    identity.ID
	Seq       uint32
	Piggyback []byte
}

func encodePacket(p packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePacket(data []byte) (packet, error) {
	var p packet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return packet{}, err
	}
	return p, nil
}
