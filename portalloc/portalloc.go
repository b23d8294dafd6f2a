// Package portalloc implements C1, the port allocator: deterministic
// assignment and reclamation of TCP ports from a configured range.
// Grounded on original_source/ciris_manager/port_manager.py.
package portalloc

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/sasta-kro/ciris-fleet-manager/metrics"
)

// ErrPortsExhausted is returned by Allocate when no port in the
// configured range is free (spec §4.1).
var ErrPortsExhausted = fmt.Errorf("portalloc: no ports available in configured range")

// Allocator hands out ports from [Start, End] to agent IDs, skipping a
// reserved set and any port already handed out. It holds no persistence
// of its own (spec §4.1): the registry is the source of truth and
// Rehydrate rebuilds this allocator's in-memory state from it at startup.
type Allocator struct {
	mu sync.Mutex

	start, end int
	reserved   map[int]bool
	allocated  map[string]int // agent key string -> port
}

// New constructs an Allocator for the inclusive range [start, end],
// treating every port in reserved as permanently unavailable.
func New(start, end int, reserved []int) *Allocator {
	r := make(map[int]bool, len(reserved))
	for _, p := range reserved {
		r[p] = true
	}
	return &Allocator{
		start:     start,
		end:       end,
		reserved:  r,
		allocated: make(map[string]int),
	}
}

// Rehydrate seeds the allocator's allocated set from an existing
// key->port mapping (typically loaded from the registry at manager
// start). It does not validate the ports against the reserved set or
// range — a port legitimately allocated before a config change narrowed
// the range must still be treated as held, not silently reclaimed.
func (a *Allocator) Rehydrate(existing map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, port := range existing {
		a.allocated[key] = port
	}
	metrics.PortsAllocated.Set(float64(len(a.allocated)))
}

// Allocate returns the port already assigned to key, or scans the
// configured range in order and assigns the first free one. "Free" means:
// not reserved, not already allocated to another key, and not currently
// bound by any process on this host (a live liveness probe, since a port
// can be in use by something outside the manager's knowledge even if the
// registry has never heard of it).
func (a *Allocator) Allocate(key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.allocated[key]; ok {
		return port, nil
	}

	used := make(map[int]bool, len(a.allocated))
	for _, p := range a.allocated {
		used[p] = true
	}

	for port := a.start; port <= a.end; port++ {
		if a.reserved[port] || used[port] {
			continue
		}
		if portBound(port) {
			continue
		}
		a.allocated[key] = port
		metrics.PortsAllocated.Set(float64(len(a.allocated)))
		return port, nil
	}
	return 0, ErrPortsExhausted
}

// Release removes key's allocation, returning the released port, or
// (0, false) if key held no allocation. It is idempotent: releasing a key
// that was never allocated, or was already released, is not an error.
func (a *Allocator) Release(key string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, ok := a.allocated[key]
	if !ok {
		return 0, false
	}
	delete(a.allocated, key)
	metrics.PortsAllocated.Set(float64(len(a.allocated)))
	return port, true
}

// Reserve adds port to the permanently-unavailable set.
func (a *Allocator) Reserve(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserved[port] = true
}

// Get looks up key's allocated port without allocating one.
func (a *Allocator) Get(key string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	port, ok := a.allocated[key]
	return port, ok
}

// Snapshot returns an unordered copy of every current allocation, for
// diagnostics; sortedKeys gives a deterministic key order over it.
func (a *Allocator) Snapshot() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.allocated))
	for k, v := range a.allocated {
		out[k] = v
	}
	return out
}

// sortedKeys is a small helper used by tests that want deterministic
// iteration order over a Snapshot.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// portBound reports whether port is currently bound by any process on
// this host, by attempting to bind it on all interfaces (":port"). That
// bind fails when any listener already holds the port, including one
// bound only to loopback, and a failure means the port is in use.
func portBound(port int) bool {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return true
	}
	_ = ln.Close()
	return false
}
