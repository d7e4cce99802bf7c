// Package state holds the in-process mirror of hub entity states.
//
// The cache has a single writer (the sync engine) and any number of
// readers. A full resync builds a new map and swaps it in atomically, so a
// reader sees either the old contents or the new contents, never a mix.
package state

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DeviceState is one hub entity and its last known state value.
// State is opaque and only ever compared for equality.
type DeviceState struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

// Reader is the read-only view of the cache handed to command handlers.
type Reader interface {
	Get(entityID string) (string, bool)
	Snapshot() []DeviceState
	Len() int
}

// Cache maps entity id to state.
//
// Writes (Replace, Apply) must come from one goroutine. Reads are safe from
// any goroutine at any time.
type Cache struct {
	current atomic.Pointer[map[string]string]

	// writeMu serialises writers. Readers never take it.
	writeMu sync.Mutex
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	c := &Cache{}
	empty := make(map[string]string)
	c.current.Store(&empty)
	return c
}

func (c *Cache) load() map[string]string {
	return *c.current.Load()
}

// Replace discards the current contents and installs states.
// Later duplicates of an entity id win.
func (c *Cache) Replace(states []DeviceState) {
	next := make(map[string]string, len(states))
	for _, s := range states {
		next[s.EntityID] = s.State
	}

	c.writeMu.Lock()
	c.current.Store(&next)
	c.writeMu.Unlock()
}

// Apply records newState for entityID. It reports whether anything
// changed: an identical value is dropped without a write.
//
// Single-entity writes copy the map so outstanding Snapshot callers and
// concurrent readers keep a stable view.
func (c *Cache) Apply(entityID, newState string) (changed bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur := c.load()
	if old, ok := cur[entityID]; ok && old == newState {
		return false
	}

	next := make(map[string]string, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[entityID] = newState
	c.current.Store(&next)
	return true
}

// Get returns the cached state for entityID.
func (c *Cache) Get(entityID string) (string, bool) {
	s, ok := c.load()[entityID]
	return s, ok
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	return len(c.load())
}

// Snapshot returns every entry sorted by entity id.
func (c *Cache) Snapshot() []DeviceState {
	cur := c.load()
	out := make([]DeviceState, 0, len(cur))
	for id, s := range cur {
		out = append(out, DeviceState{EntityID: id, State: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
