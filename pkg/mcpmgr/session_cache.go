package mcpmgr

import (
	"sync"
	"time"
)

// SessionRecord is the last known status of a server together with the
// config used to reach it.
type SessionRecord struct {
	ServerID string           `json:"serverId"`
	Status   ConnectionStatus `json:"status"`
	Config   ServerConfig     `json:"config"`
	SavedAt  time.Time        `json:"savedAt"`
}

// SessionCache shadows the registry with last-known status per server id.
//
// The cache lives in memory only. It does not survive a process restart and
// is never authoritative while the registry holds an entry for the same id.
type SessionCache struct {
	mu      sync.RWMutex
	records map[string]SessionRecord
}

func newSessionCache() *SessionCache {
	return &SessionCache{records: make(map[string]SessionRecord)}
}

// Save records status and config for id, replacing any earlier record.
func (c *SessionCache) Save(id string, status ConnectionStatus, cfg ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = SessionRecord{
		ServerID: id,
		Status:   status.clone(),
		Config:   cfg.Clone(),
		SavedAt:  time.Now(),
	}
}

// Get returns the record for id.
func (c *SessionCache) Get(id string) (SessionRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

// Delete forgets id.
func (c *SessionCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
}

// All returns a copy of every record.
func (c *SessionCache) All() map[string]SessionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]SessionRecord, len(c.records))
	for id, rec := range c.records {
		out[id] = rec
	}
	return out
}
