package rtp

import (
	"github.com/pion/rtp"
)

// Frame is one reassembled application payload: the concatenation of a
// fragment group's payloads in arrival order.
type Frame struct {
	PayloadType uint8
	Timestamp   uint32
	SSRC        uint32
	Payload     []byte
}

// Reassembler rebuilds frames from fragment groups. It keeps exactly one
// partial frame: fragment groups are short and latency matters more than
// recovering from reordering, so there is no reorder window.
type Reassembler struct {
	partial *Frame
}

// Push feeds one received packet in. It returns a completed frame when the
// packet closes a group, or nil while a group is still accumulating. A
// fragment whose timestamp does not match the pending partial discards the
// partial (fragment loss).
func (r *Reassembler) Push(pkt *rtp.Packet) *Frame {
	if r.partial != nil && r.partial.Timestamp != pkt.Timestamp {
		r.partial = nil
	}

	if !pkt.Marker {
		if r.partial == nil {
			r.partial = &Frame{
				PayloadType: pkt.PayloadType,
				Timestamp:   pkt.Timestamp,
				SSRC:        pkt.SSRC,
				Payload:     append([]byte(nil), pkt.Payload...),
			}
		} else {
			r.partial.Payload = append(r.partial.Payload, pkt.Payload...)
		}
		return nil
	}

	if r.partial == nil {
		// Standalone marker packet is a complete frame by itself.
		return &Frame{
			PayloadType: pkt.PayloadType,
			Timestamp:   pkt.Timestamp,
			SSRC:        pkt.SSRC,
			Payload:     append([]byte(nil), pkt.Payload...),
		}
	}
	frame := r.partial
	frame.Payload = append(frame.Payload, pkt.Payload...)
	r.partial = nil
	return frame
}

// Reset drops any pending partial frame.
func (r *Reassembler) Reset() {
	r.partial = nil
}
