// Package identity implements the Peer Identity component: a stable
// transport address paired with a rejoin nonce used by the failure
// detector and the membership broadcast plumbing.
package identity

import (
	"bytes"
	"encoding/gob"
	"math/rand"
)

// ID identifies a node on the gossip network. Two IDs with the same
// Addr are considered the same peer by any third party that doesn't
// know the current Bump, which lets an unchanged node rejoin under a
// new identity after being declared down.
type ID struct {
	Addr string
	Bump uint16
}

// New mints an identity for addr with a randomly drawn bump.
func New(addr string) ID {
	return ID{Addr: addr, Bump: uint16(rand.Intn(1 << 16))}
}

// HasSamePrefix reports whether two identities share the same address,
// ignoring Bump. This lets an outsider address a node by Addr alone
// without knowing its current nonce.
func (id ID) HasSamePrefix(other ID) bool {
	return id.Addr == other.Addr
}

// Renew returns a new identity for the same address with Bump
// incremented modulo 2^16, the identity a node adopts to rejoin the
// cluster after having been declared down.
func (id ID) Renew() ID {
	return ID{Addr: id.Addr, Bump: id.Bump + 1}
}

// Equal reports whether two identities have identical address and bump.
func (id ID) Equal(other ID) bool {
	return id.Addr == other.Addr && id.Bump == other.Bump
}

func (id ID) String() string {
	return id.Addr
}

// Marshal produces a deterministic encoding suitable for inclusion in
// membership packets, mirroring the gob-based wire encoding the
// teacher uses for its own Member metadata.
func (id ID) Marshal() ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(id); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes an identity previously produced by Marshal.
func Unmarshal(data []byte) (ID, error) {
	var id ID
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&id); err != nil {
		return ID{}, err
	}
	return id, nil
}
