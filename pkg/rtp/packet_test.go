package rtp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPacketRejectsOversize(t *testing.T) {
	_, err := NewPacket(PayloadTypeAudio, 1, 2, true, make([]byte, MTU))
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	pkt, err := NewPacket(PayloadTypeAudio, 1, 2, true, make([]byte, MTU-headerSize))
	require.NoError(t, err)
	assert.EqualValues(t, 2, pkt.Header.Version)
	assert.Zero(t, pkt.Header.CSRC)
}

func TestFragmentSixThousandBytes(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 6000)
	packets, err := Fragment(PayloadTypeVideo, 777, 0x1234, payload)
	require.NoError(t, err)

	// ceil(6000 / 1488) packets, only the last one marked.
	require.Len(t, packets, 5)
	for i, pkt := range packets {
		assert.EqualValues(t, 777, pkt.Timestamp)
		assert.EqualValues(t, 0x1234, pkt.SSRC)
		assert.Equal(t, i == len(packets)-1, pkt.Marker)
	}

	var total []byte
	for _, pkt := range packets {
		assert.LessOrEqual(t, len(pkt.Payload), maxFragmentPayload)
		total = append(total, pkt.Payload...)
	}
	assert.Equal(t, payload, total)
}

func TestFragmentSmallPayloadIsSinglePacket(t *testing.T) {
	packets, err := Fragment(PayloadTypeAudio, 1, 2, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.True(t, packets[0].Marker)
}

func TestFragmentEmptyPayload(t *testing.T) {
	_, err := Fragment(PayloadTypeAudio, 1, 2, nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestParsePacketRoundTrip(t *testing.T) {
	pkt, err := NewPacket(PayloadTypeAudio, 42, 0xdeadbeef, true, []byte("payload"))
	require.NoError(t, err)
	pkt.SequenceNumber = 100

	data, err := pkt.Marshal()
	require.NoError(t, err)

	got, err := ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, pkt.Header.Timestamp, got.Header.Timestamp)
	assert.Equal(t, pkt.Header.SSRC, got.Header.SSRC)
	assert.Equal(t, pkt.Header.SequenceNumber, got.Header.SequenceNumber)
	assert.Equal(t, pkt.Header.Marker, got.Header.Marker)
	assert.Equal(t, []byte("payload"), got.Payload)
}

func TestParsePacketRejectsGarbage(t *testing.T) {
	_, err := ParsePacket([]byte{0x01, 0x02})
	assert.Error(t, err)
}
