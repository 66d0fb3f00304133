package sipmsg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireMessage(body string) string {
	req := NewRequest(MethodInvite, "bob@h", "alice@h", "id-1", 1, body)
	data, _ := req.Marshal()
	return string(data)
}

func TestReadMessageWithBody(t *testing.T) {
	body := "v=0\no=- 1 2 IN IP4 127.0.0.1"
	r := strings.NewReader(wireMessage(body))

	msg, err := ReadMessage(r, 4096, 8192)
	require.NoError(t, err)
	assert.Equal(t, body, msg.GetBody())
	assert.Equal(t, len(body), msg.Hdr().ContentLength)
}

func TestReadMessageLeavesFollowingBytes(t *testing.T) {
	// Two messages back to back on one stream must come out one at a time.
	stream := wireMessage("") + wireMessage("x")
	r := strings.NewReader(stream)

	first, err := ReadMessage(r, 4096, 8192)
	require.NoError(t, err)
	assert.Empty(t, first.GetBody())

	second, err := ReadMessage(r, 4096, 8192)
	require.NoError(t, err)
	assert.Equal(t, "x", second.GetBody())
}

func TestReadMessageHeaderCap(t *testing.T) {
	r := strings.NewReader(wireMessage(""))
	_, err := ReadMessage(r, 10, 8192)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestReadMessageBodyCap(t *testing.T) {
	r := strings.NewReader(wireMessage(strings.Repeat("a", 100)))
	_, err := ReadMessage(r, 4096, 50)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
