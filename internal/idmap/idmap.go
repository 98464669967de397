// Package idmap maintains the bijection between stable record UUIDs and the
// compact session-local integers the render engine's feature-state API
// addresses records by.
//
// Integers are allocated monotonically, never persisted, never transmitted,
// and never reused within a session. Looking up an unmapped id on either
// side is a programmer error: it means the render engine and the data model
// have diverged, and silently returning a zero value would corrupt
// selection and hit-testing. Those lookups panic.
package idmap

import (
	"fmt"
	"sync"
)

// Map is a bidirectional UUID ↔ integer id registry.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Map struct {
	mu      sync.Mutex
	forward map[string]int
	reverse map[int]string
	next    int
}

// New creates an empty Map. The first allocated integer id is 1,
// so 0 is never a valid id.
func New() *Map {
	return &Map{
		forward: make(map[string]int),
		reverse: make(map[int]string),
	}
}

// PushUUID registers id and returns its integer id. Idempotent: pushing an
// already-mapped UUID returns the existing integer without allocating.
func (m *Map) PushUUID(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.forward[id]; ok {
		return n
	}
	m.next++
	m.forward[id] = m.next
	m.reverse[m.next] = id
	return m.next
}

// GetUUID returns the UUID mapped to n.
// Panics if n was never allocated or has been deleted.
func (m *Map) GetUUID(n int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.reverse[n]
	if !ok {
		panic(fmt.Sprintf("idmap: no uuid mapped for integer id %d", n))
	}
	return id
}

// GetIntID returns the integer id mapped to id.
// Panics if id was never pushed or has been deleted.
func (m *Map) GetIntID(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.forward[id]
	if !ok {
		panic(fmt.Sprintf("idmap: no integer id mapped for uuid %q", id))
	}
	return n
}

// Has reports whether id is currently mapped.
func (m *Map) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.forward[id]
	return ok
}

// DeleteUUID removes id from both directions of the map. Deleting an
// unmapped id is a no-op; record deletion may race a pull that already
// removed it.
func (m *Map) DeleteUUID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.forward[id]
	if !ok {
		return
	}
	delete(m.forward, id)
	delete(m.reverse, n)
}

// Len returns the number of live mappings.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.forward)
}
