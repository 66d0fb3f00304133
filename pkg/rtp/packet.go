// Package rtp implements the media transport leg: packet framing over the
// standard 12-byte RTP header, fragmentation of oversize payloads across
// packets sharing one timestamp, and single-slot reassembly on receive.
package rtp

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

const (
	// PayloadTypeAudio and PayloadTypeVideo are the numbers both peers
	// agree on. They deliberately differ from the RFC 3551 static table.
	PayloadTypeAudio uint8 = 7
	PayloadTypeVideo uint8 = 1

	// MTU is the ceiling for one packet including the header.
	MTU = 1500

	headerSize = 12

	maxFragmentPayload = MTU - headerSize
)

var (
	ErrPacketTooLarge = errors.New("rtp: packet exceeds MTU, use Fragment")
	ErrEmptyPayload   = errors.New("rtp: empty payload")
)

// NewPacket builds a single RTP packet. The sequence number is stamped by
// the sending endpoint, not here. Payloads that would push the packet past
// the MTU are rejected; callers with more data use Fragment.
func NewPacket(payloadType uint8, timestamp, ssrc uint32, marker bool, payload []byte) (*rtp.Packet, error) {
	if headerSize+len(payload) > MTU {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, headerSize+len(payload))
	}
	return &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			Marker:      marker,
			PayloadType: payloadType,
			Timestamp:   timestamp,
			SSRC:        ssrc,
		},
		Payload: payload,
	}, nil
}

// Fragment splits one logical payload into packets that all share the
// given timestamp and SSRC. Every fragment but the last has the marker
// clear; the last carries marker=true so the receiver knows the group is
// complete.
func Fragment(payloadType uint8, timestamp, ssrc uint32, payload []byte) ([]*rtp.Packet, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	var packets []*rtp.Packet
	for off := 0; off < len(payload); off += maxFragmentPayload {
		end := off + maxFragmentPayload
		if end > len(payload) {
			end = len(payload)
		}
		last := end == len(payload)
		pkt, err := NewPacket(payloadType, timestamp, ssrc, last, payload[off:end])
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// ParsePacket decodes a datagram into an RTP packet.
func ParsePacket(data []byte) (*rtp.Packet, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("rtp: unmarshal: %w", err)
	}
	return pkt, nil
}
