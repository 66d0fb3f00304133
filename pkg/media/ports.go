// Package media binds RTP endpoints to call legs: local port allocation,
// SDP installation, and the per-medium send/receive pipelines that run
// while a call is up. Capture, codecs and playback stay behind the
// FrameSource and FrameSink interfaces.
package media

import (
	"errors"
	"math/rand"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/rtp"
)

const (
	portRangeLow  = 10000
	portRangeHigh = 60000

	// allocAttempts bounds the random probing before giving up.
	allocAttempts = 64
)

var ErrNoFreePort = errors.New("media: no free UDP port in range")

// allocateEndpoint binds an RTP endpoint on a random free port in the
// media range. Binding is the trial: a successful bind both proves the
// port free and reserves it.
func allocateEndpoint(payloadType uint8, logger *logrus.Logger) (*rtp.Endpoint, error) {
	for i := 0; i < allocAttempts; i++ {
		port := portRangeLow + rand.Intn(portRangeHigh-portRangeLow+1)
		ep, err := rtp.NewEndpoint(port, payloadType, rtp.DefaultQueueSize, logger)
		if err == nil {
			return ep, nil
		}
	}
	return nil, ErrNoFreePort
}
