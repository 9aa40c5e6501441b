package mcpmgr

import (
	"maps"
	"sync"
	"sync/atomic"
)

// Registry maps server ids to their live Connection. Writers copy the map;
// readers load the current snapshot without locking, so status polling never
// waits on a slow connect for another id.
type Registry struct {
	writeMu sync.Mutex
	entries atomic.Pointer[map[string]*Connection]
}

func newRegistry() *Registry {
	r := &Registry{}
	empty := map[string]*Connection{}
	r.entries.Store(&empty)
	return r
}

// Get returns the connection registered for id.
func (r *Registry) Get(id string) (*Connection, bool) {
	conn, ok := (*r.entries.Load())[id]
	return conn, ok
}

// Snapshot returns the current id to connection mapping. The map must not be
// modified.
func (r *Registry) Snapshot() map[string]*Connection {
	return *r.entries.Load()
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}

func (r *Registry) put(id string, conn *Connection) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	next := maps.Clone(*r.entries.Load())
	next[id] = conn
	r.entries.Store(&next)
}

// remove deletes id only if it still maps to conn.
func (r *Registry) remove(id string, conn *Connection) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	cur := *r.entries.Load()
	if existing, ok := cur[id]; !ok || existing != conn {
		return false
	}
	next := maps.Clone(cur)
	delete(next, id)
	r.entries.Store(&next)
	return true
}

// keyedMutex hands out one mutex per server id so operations on distinct ids
// never contend. Entries are dropped once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
