package rtp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReassembleFragmentGroup(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5a}, 6000)
	packets, err := Fragment(PayloadTypeAudio, 99, 0x1234, payload)
	require.NoError(t, err)

	var r Reassembler
	for i, pkt := range packets {
		frame := r.Push(pkt)
		if i < len(packets)-1 {
			assert.Nil(t, frame)
		} else {
			require.NotNil(t, frame)
			assert.Equal(t, payload, frame.Payload)
			assert.EqualValues(t, 99, frame.Timestamp)
			assert.EqualValues(t, 0x1234, frame.SSRC)
		}
	}
}

func TestStandaloneMarkerIsCompleteFrame(t *testing.T) {
	pkt, err := NewPacket(PayloadTypeAudio, 5, 1, true, []byte("one"))
	require.NoError(t, err)

	var r Reassembler
	frame := r.Push(pkt)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("one"), frame.Payload)
}

func TestTimestampMismatchDiscardsPartial(t *testing.T) {
	var r Reassembler

	first, _ := NewPacket(PayloadTypeAudio, 1, 1, false, []byte("lost-"))
	assert.Nil(t, r.Push(first))

	// A new group starting before the old one finished drops the partial.
	second, _ := NewPacket(PayloadTypeAudio, 2, 1, false, []byte("keep-"))
	assert.Nil(t, r.Push(second))

	last, _ := NewPacket(PayloadTypeAudio, 2, 1, true, []byte("this"))
	frame := r.Push(last)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("keep-this"), frame.Payload)
}

func TestMarkerWithMismatchedPartial(t *testing.T) {
	var r Reassembler

	partial, _ := NewPacket(PayloadTypeAudio, 1, 1, false, []byte("stale"))
	assert.Nil(t, r.Push(partial))

	marker, _ := NewPacket(PayloadTypeAudio, 2, 1, true, []byte("fresh"))
	frame := r.Push(marker)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("fresh"), frame.Payload)
}

func TestReset(t *testing.T) {
	var r Reassembler
	partial, _ := NewPacket(PayloadTypeAudio, 1, 1, false, []byte("half"))
	assert.Nil(t, r.Push(partial))
	r.Reset()

	marker, _ := NewPacket(PayloadTypeAudio, 1, 1, true, []byte("whole"))
	frame := r.Push(marker)
	require.NotNil(t, frame)
	assert.Equal(t, []byte("whole"), frame.Payload)
}
