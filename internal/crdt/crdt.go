// Package crdt implements the small conflict-free replicated document
// spec.md treats as an external collaborator: a map of string keys to
// string values where concurrent writes converge deterministically
// without coordination. It is a last-writer-wins register map, not a
// general-purpose document CRDT — spec.md only requires a `values`
// sub-map of string to string, and specifies the library's load/save/
// merge/get/put contract, not its internals.
package crdt

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/hashicorp/go-msgpack/codec"
)

var mh codec.MsgpackHandle

// entry is a single LWW register: the value plus enough causal
// metadata (a per-actor logical clock and the writing actor's id) to
// let Merge pick a deterministic winner between two entries for the
// same key without relying on wall-clock time.
type entry struct {
	Value   string
	Clock   uint64
	Actor   string
}

// wins reports whether e should replace other under last-writer-wins,
// with actor id as a tie-breaker so the choice is deterministic even
// when two actors raced at the same logical clock value.
func (e entry) wins(other entry) bool {
	if e.Clock != other.Clock {
		return e.Clock > other.Clock
	}
	return e.Actor > other.Actor
}

// snapshot is the on-the-wire/on-disk representation: exactly what
// Save serializes and Load deserializes.
type snapshot struct {
	Actor  string
	Clock  uint64
	Values map[string]entry
}

// Doc is the CRDT document. The zero value is not usable; construct
// with New or Load.
type Doc struct {
	mu   sync.RWMutex
	data snapshot
}

// New creates a fresh document with an empty values map, owned by the
// given actor id (derived from the node's peer identity by the
// Document Store).
func New(actor string) *Doc {
	return &Doc{data: snapshot{
		Actor:  actor,
		Values: make(map[string]entry),
	}}
}

// Load parses a previously-saved snapshot. The actor id embedded in
// the snapshot is preserved so that, after a restart, writes continue
// to carry the same actor identity they did before.
func Load(data []byte) (*Doc, error) {
	var s snapshot
	dec := codec.NewDecoderBytes(data, &mh)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("cannot decode document snapshot: %w", err)
	}
	if s.Values == nil {
		s.Values = make(map[string]entry)
	}
	return &Doc{data: s}, nil
}

// Save returns a self-describing binary snapshot of the current
// document state, suitable for persistence to disk or for sending to
// a peer as a FullSync gossip payload.
func (d *Doc) Save() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mh)
	// Encode errors here would mean a bug in the entry/snapshot types
	// themselves (all fields are trivially msgpack-encodable), not a
	// recoverable runtime condition.
	if err := enc.Encode(d.data); err != nil {
		panic(fmt.Sprintf("crdt: document snapshot is not encodable: %v", err))
	}
	return buf.Bytes()
}

// Get looks up a key in the values map. A missing key returns ("", false).
func (d *Doc) Get(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.data.Values[key]
	if !ok {
		return "", false
	}
	return e.Value, true
}

// Put writes key=value, advancing this document's logical clock so
// the write can win any future merge against older writes to the same
// key from any actor.
func (d *Doc) Put(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data.Clock++
	d.data.Values[key] = entry{Value: value, Clock: d.data.Clock, Actor: d.data.Actor}
}

// Merge folds another document's state into this one. Per key, the
// entry with the higher logical clock wins (actor id breaking ties),
// which makes Merge commutative, associative, and idempotent: applying
// the same remote state twice, or in a different order relative to
// other merges, converges to the same result. Returns the number of
// keys this merge actually changed.
func (d *Doc) Merge(other *Doc) int {
	other.mu.RLock()
	remote := make(map[string]entry, len(other.data.Values))
	for k, v := range other.data.Values {
		remote[k] = v
	}
	other.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	changed := 0
	for k, re := range remote {
		if le, ok := d.data.Values[k]; !ok || re.wins(le) {
			d.data.Values[k] = re
			changed++
		}
	}
	if other.data.Clock > d.data.Clock {
		d.data.Clock = other.data.Clock
	}
	return changed
}

// Keys returns every key currently present in the values map.
func (d *Doc) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.data.Values))
	for k := range d.data.Values {
		keys = append(keys, k)
	}
	return keys
}

// Actor returns the document's actor identifier.
func (d *Doc) Actor() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.data.Actor
}
