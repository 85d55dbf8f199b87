// Package registry implements the Member Registry component: a
// multi-set of live peer addresses that collapses per-identity churn
// (rejoins under a renewed Bump) down to address-level up/down events.
package registry

import (
	"sort"
	"sync"

	"github.com/criticalstack/swimkv/pkg/identity"
)

// Registry counts how many currently-known identities share each
// address. It is safe for concurrent use: the Runtime Actor calls Add
// and Remove from its command loop, while Addresses is also read from
// HTTP handler goroutines.
type Registry struct {
	mu    sync.Mutex
	count map[string]int
}

func New() *Registry {
	return &Registry{count: make(map[string]int)}
}

// Add increments the reference count for id's address and reports true
// iff the address transitioned from absent (0) to present (1).
func (r *Registry) Add(id identity.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count[id.Addr]++
	return r.count[id.Addr] == 1
}

// Remove decrements the reference count for id's address and reports
// true iff the address transitioned from 1 to 0, in which case the
// entry is deleted. Removing an address with no outstanding references
// is a no-op returning false.
func (r *Registry) Remove(id identity.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.count[id.Addr]
	if !ok || n == 0 {
		return false
	}
	n--
	if n == 0 {
		delete(r.count, id.Addr)
		return true
	}
	r.count[id.Addr] = n
	return false
}

// Addresses returns every address with a positive reference count, in
// sorted order for deterministic iteration (tests and the members CLI
// both depend on stable ordering).
func (r *Registry) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := make([]string, 0, len(r.count))
	for addr := range r.count {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Len returns the number of distinct live addresses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.count)
}
