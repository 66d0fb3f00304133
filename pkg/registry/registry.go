// Package registry keeps the URI ⇄ connection bindings created by
// REGISTER. The two directions are stored as a pair of maps updated in
// lock step, so lookups are O(1) both ways and the bi-map invariant holds
// at every exit point.
package registry

import (
	"net"
	"sync"
	"time"
)

// Registration binds one URI to one connection until it expires or the
// connection dies.
type Registration struct {
	URI          string
	Conn         net.Conn
	Addr         string
	RegisteredAt time.Time
	Expires      time.Duration
}

// Expired reports whether the registration has outlived its expiry
// interval at the given instant.
func (r *Registration) Expired(now time.Time) bool {
	return now.Sub(r.RegisteredAt) >= r.Expires
}

// Map is the bidirectional registration table. Safe for concurrent use.
type Map struct {
	mu     sync.RWMutex
	byURI  map[string]*Registration
	byConn map[net.Conn]string
}

func NewMap() *Map {
	return &Map{
		byURI:  make(map[string]*Registration),
		byConn: make(map[net.Conn]string),
	}
}

// Add installs a binding. Any previous binding for the same URI or the
// same connection is removed first so both directions stay consistent.
func (m *Map) Add(reg *Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.byURI[reg.URI]; ok {
		delete(m.byConn, old.Conn)
	}
	if oldURI, ok := m.byConn[reg.Conn]; ok {
		delete(m.byURI, oldURI)
	}
	m.byURI[reg.URI] = reg
	m.byConn[reg.Conn] = reg.URI
}

// RemoveByConn drops the binding held by conn, if any.
func (m *Map) RemoveByConn(conn net.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri, ok := m.byConn[conn]
	if !ok {
		return false
	}
	delete(m.byConn, conn)
	delete(m.byURI, uri)
	return true
}

// RemoveByURI drops the binding for uri, if any.
func (m *Map) RemoveByURI(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.byURI[uri]
	if !ok {
		return false
	}
	delete(m.byURI, uri)
	delete(m.byConn, reg.Conn)
	return true
}

// GetByURI returns the registration bound to uri, or nil.
func (m *Map) GetByURI(uri string) *Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byURI[uri]
}

// URIOf returns the URI bound to conn, or "".
func (m *Map) URIOf(conn net.Conn) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byConn[conn]
}

// Refresh re-affirms an existing registration, restarting its expiry
// clock. Returns false when the URI is not registered.
func (m *Map) Refresh(uri string, expires time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.byURI[uri]
	if !ok {
		return false
	}
	reg.RegisteredAt = time.Now()
	reg.Expires = expires
	return true
}

// Len reports the number of live bindings.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byURI)
}

// SweepExpired removes and returns every registration past its expiry.
func (m *Map) SweepExpired(now time.Time) []*Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []*Registration
	for uri, reg := range m.byURI {
		if reg.Expired(now) {
			delete(m.byURI, uri)
			delete(m.byConn, reg.Conn)
			expired = append(expired, reg)
		}
	}
	return expired
}
