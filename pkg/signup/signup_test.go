package signup

import (
	"bytes"
	"net"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipvoip-server/pkg/userdb"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestFrameSizeCap(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, maxFrameBytes+1)), ErrFrameTooLarge)

	// A forged oversize header is rejected before allocation.
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestKeyExchange(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	pem, err := MarshalPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pub, err := ParsePublicKey(pem)
	require.NoError(t, err)

	session, wrapped, err := WrapSessionKey(pub)
	require.NoError(t, err)
	assert.Len(t, session, 32)

	unwrapped, err := UnwrapSessionKey(key, wrapped)
	require.NoError(t, err)
	assert.Equal(t, session, unwrapped)
}

func TestSessionSealOpen(t *testing.T) {
	key, _, err := func() ([]byte, []byte, error) {
		priv, err := GenerateKeyPair()
		if err != nil {
			return nil, nil, err
		}
		return WrapSessionKey(&priv.PublicKey)
	}()
	require.NoError(t, err)

	sess, err := NewSession(key)
	require.NoError(t, err)

	frame, err := sess.Seal([]byte("alice|secret99"))
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "secret99")

	plain, err := sess.Open(frame)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice|secret99"), plain)

	// Tampering breaks authentication.
	frame[len(frame)-1] ^= 0xff
	_, err = sess.Open(frame)
	assert.Error(t, err)
}

func newTestServer(t *testing.T) (*Server, *userdb.Store) {
	t.Helper()
	store, err := userdb.Open(filepath.Join(t.TempDir(), "users.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv, err := NewServer(store, testLogger())
	require.NoError(t, err)
	return srv, store
}

// runSession drives the client half of one enrollment over a pipe.
func runSession(t *testing.T, srv *Server, payload string) string {
	t.Helper()
	cs, ps := net.Pipe()
	defer cs.Close()
	done := make(chan struct{})
	go func() {
		srv.handle(ps)
		close(done)
	}()

	pubFrame, err := ReadFrame(cs)
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubFrame)
	require.NoError(t, err)

	key, wrapped, err := WrapSessionKey(pub)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(cs, wrapped))

	sess, err := NewSession(key)
	require.NoError(t, err)
	sealed, err := sess.Seal([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, WriteFrame(cs, sealed))

	replyFrame, err := ReadFrame(cs)
	require.NoError(t, err)
	reply, err := sess.Open(replyFrame)
	require.NoError(t, err)
	<-done
	return string(reply)
}

func TestEnrollmentSession(t *testing.T) {
	srv, store := newTestServer(t)

	assert.Equal(t, "SIGNUP", runSession(t, srv, "alice|secret99"))

	exists, err := store.UserExists("alice")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEnrollmentRejections(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, "malformed credentials", runSession(t, srv, "no-separator"))
	assert.Equal(t, "invalid username", runSession(t, srv, "ab|secret99"))
	assert.Equal(t, "invalid password", runSession(t, srv, "alice|x"))

	assert.Equal(t, "SIGNUP", runSession(t, srv, "alice|secret99"))
	assert.Equal(t, "username taken", runSession(t, srv, "alice|other999"))
}
