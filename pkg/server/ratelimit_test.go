package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, banFile string) *RateLimiter {
	t.Helper()
	r, err := NewRateLimiter(time.Second, 3, 5, banFile, testLogger())
	require.NoError(t, err)
	return r
}

func TestConnectionFloodBan(t *testing.T) {
	banFile := filepath.Join(t.TempDir(), "banned.txt")
	r := newTestLimiter(t, banFile)

	for i := 0; i < 3; i++ {
		assert.False(t, r.RecordConnection("10.0.0.1"))
	}
	assert.True(t, r.RecordConnection("10.0.0.1"))
	assert.True(t, r.IsBanned("10.0.0.1"))
	assert.False(t, r.IsBanned("10.0.0.2"))

	// The ban is written out for the next process lifetime.
	data, err := os.ReadFile(banFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "10.0.0.1")
}

func TestBanSurvivesRestart(t *testing.T) {
	banFile := filepath.Join(t.TempDir(), "banned.txt")
	r := newTestLimiter(t, banFile)
	for i := 0; i < 4; i++ {
		r.RecordConnection("10.0.0.1")
	}
	require.True(t, r.IsBanned("10.0.0.1"))

	fresh := newTestLimiter(t, banFile)
	assert.True(t, fresh.IsBanned("10.0.0.1"))
	assert.False(t, fresh.IsBanned("10.0.0.2"))
}

func TestMissingBanFileIsClean(t *testing.T) {
	r := newTestLimiter(t, filepath.Join(t.TempDir(), "nonexistent.txt"))
	assert.False(t, r.IsBanned("10.0.0.1"))
}

func TestMessageWindow(t *testing.T) {
	r := newTestLimiter(t, filepath.Join(t.TempDir(), "banned.txt"))
	conn, other := net.Pipe()
	defer conn.Close()
	defer other.Close()

	for i := 0; i < 5; i++ {
		assert.False(t, r.RecordMessage(conn))
	}
	assert.True(t, r.RecordMessage(conn))

	// Forgetting the connection resets its window.
	r.DropConn(conn)
	assert.False(t, r.RecordMessage(conn))
}

func TestWindowSlides(t *testing.T) {
	r := newTestLimiter(t, filepath.Join(t.TempDir(), "banned.txt"))

	// Timestamps injected past the window do not count toward the ban.
	old := time.Now().Add(-2 * time.Second)
	r.mu.Lock()
	r.ipHits["10.0.0.9"] = []time.Time{old, old, old}
	r.mu.Unlock()

	assert.False(t, r.RecordConnection("10.0.0.9"))
	assert.False(t, r.IsBanned("10.0.0.9"))
}

func TestGCEvictsStale(t *testing.T) {
	r := newTestLimiter(t, filepath.Join(t.TempDir(), "banned.txt"))
	old := time.Now().Add(-2 * time.Second)
	conn, other := net.Pipe()
	defer conn.Close()
	defer other.Close()

	r.mu.Lock()
	r.ipHits["10.0.0.5"] = []time.Time{old}
	r.connHits[conn] = []time.Time{old}
	r.mu.Unlock()

	r.GC()

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.ipHits)
	assert.Empty(t, r.connHits)
}
