package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipvoip-server/pkg/sipmsg"
)

func TestCallTable(t *testing.T) {
	table := NewCallTable()
	call := &Call{ID: "c1", Type: sipmsg.CallTypeInvite}

	assert.True(t, table.Add(call))
	assert.False(t, table.Add(&Call{ID: "c1"}), "duplicate call-id must be refused")
	assert.Equal(t, call, table.Get("c1"))
	assert.Equal(t, 1, table.Len())

	table.Drop("c1")
	assert.Nil(t, table.Get("c1"))
	assert.Zero(t, table.Len())
}

func TestCallCounterpart(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	call := &Call{CallerConn: a, CalleeConn: b}

	assert.Equal(t, b, call.CounterpartOf(a))
	assert.Equal(t, a, call.CounterpartOf(b))
	other, another := net.Pipe()
	defer other.Close()
	defer another.Close()
	assert.Nil(t, call.CounterpartOf(other))

	assert.True(t, call.References(a))
	assert.False(t, call.References(other))
}

func TestKeepAliveMatch(t *testing.T) {
	table := NewKeepAliveTable()
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	table.Add(&KeepAlive{CallID: "ka1", Conn: conn, CSeq: 1})

	assert.False(t, table.Match("ka1", 2), "wrong cseq must not consume the probe")
	assert.True(t, table.Match("ka1", 1))
	assert.False(t, table.Match("ka1", 1), "a probe matches only once")
}

func TestKeepAliveDropConn(t *testing.T) {
	table := NewKeepAliveTable()
	c1, p1 := net.Pipe()
	defer c1.Close()
	defer p1.Close()
	c2, p2 := net.Pipe()
	defer c2.Close()
	defer p2.Close()

	table.Add(&KeepAlive{CallID: "ka1", Conn: c1, CSeq: 1})
	table.Add(&KeepAlive{CallID: "ka2", Conn: c2, CSeq: 1})

	table.DropConn(c1)
	assert.False(t, table.Match("ka1", 1))
	assert.True(t, table.Match("ka2", 1))
}

func TestTakeOutstanding(t *testing.T) {
	table := NewKeepAliveTable()
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()
	table.Add(&KeepAlive{CallID: "ka1", Conn: conn, CSeq: 1})

	out := table.TakeOutstanding()
	require.Len(t, out, 1)
	assert.Equal(t, "ka1", out[0].CallID)
	assert.Empty(t, table.TakeOutstanding())
}
