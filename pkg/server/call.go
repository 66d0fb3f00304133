package server

import (
	"net"
	"sync"
	"time"

	"sipvoip-server/pkg/sipmsg"
)

// Call is one tracked dialog. TrackedURI is the callee for INVITE and the
// registrant for REGISTER; CalleeConn is nil for REGISTER because the
// server itself is the counterpart.
type Call struct {
	// mu serializes all handling for this call-id, which is what gives
	// per-call transitions a total order consistent with arrival order.
	mu sync.Mutex

	ID         string
	Type       sipmsg.CallType
	TrackedURI string
	PeerURI    string
	CallerConn net.Conn
	CalleeConn net.Conn
	State      sipmsg.CallState
	LastCSeq   int
	LastActive time.Time
}

func (c *Call) Lock()   { c.mu.Lock() }
func (c *Call) Unlock() { c.mu.Unlock() }

// Touch refreshes the idle clock. Caller holds the call lock.
func (c *Call) Touch() {
	c.LastActive = time.Now()
}

// CounterpartOf returns the other side's connection, or nil when conn is
// not part of this call.
func (c *Call) CounterpartOf(conn net.Conn) net.Conn {
	switch conn {
	case c.CallerConn:
		return c.CalleeConn
	case c.CalleeConn:
		return c.CallerConn
	}
	return nil
}

// References reports whether the call involves conn on either side.
func (c *Call) References(conn net.Conn) bool {
	return c.CallerConn == conn || c.CalleeConn == conn
}

// CallTable indexes live calls by call-id.
type CallTable struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func NewCallTable() *CallTable {
	return &CallTable{calls: make(map[string]*Call)}
}

// Get returns the call for id, or nil.
func (t *CallTable) Get(id string) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[id]
}

// Add installs a call. It returns false if the id is already taken.
func (t *CallTable) Add(call *Call) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.calls[call.ID]; exists {
		return false
	}
	t.calls[call.ID] = call
	return true
}

// Drop removes the call for id.
func (t *CallTable) Drop(id string) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

// Len reports the number of tracked calls.
func (t *CallTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Snapshot returns the current calls for iteration outside the table lock.
func (t *CallTable) Snapshot() []*Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Call, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, c)
	}
	return out
}

// KeepAlive is one outstanding OPTIONS probe.
type KeepAlive struct {
	CallID string
	Conn   net.Conn
	CSeq   int
}

// KeepAliveTable tracks probes awaiting their 200.
type KeepAliveTable struct {
	mu     sync.Mutex
	probes map[string]*KeepAlive
}

func NewKeepAliveTable() *KeepAliveTable {
	return &KeepAliveTable{probes: make(map[string]*KeepAlive)}
}

// Add records a freshly sent probe.
func (t *KeepAliveTable) Add(ka *KeepAlive) {
	t.mu.Lock()
	t.probes[ka.CallID] = ka
	t.mu.Unlock()
}

// Match consumes the probe for callID if the reply's cseq agrees,
// reporting whether the response was a keep-alive answer.
func (t *KeepAliveTable) Match(callID string, cseq int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ka, ok := t.probes[callID]
	if !ok || ka.CSeq != cseq {
		return false
	}
	delete(t.probes, callID)
	return true
}

// DropConn forgets any probe outstanding against conn.
func (t *KeepAliveTable) DropConn(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ka := range t.probes {
		if ka.Conn == conn {
			delete(t.probes, id)
		}
	}
}

// TakeOutstanding removes and returns every probe still unanswered. The
// sweep closes their connections.
func (t *KeepAliveTable) TakeOutstanding() []*KeepAlive {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*KeepAlive, 0, len(t.probes))
	for id, ka := range t.probes {
		out = append(out, ka)
		delete(t.probes, id)
	}
	return out
}
