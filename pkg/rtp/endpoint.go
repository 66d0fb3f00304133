package rtp

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/metrics"
)

const (
	readTimeout      = 500 * time.Millisecond
	recvBufferSize   = 2048
	DefaultQueueSize = 100
)

var ErrNoRemote = errors.New("rtp: remote address not set")

// Endpoint owns one UDP socket for a call leg. The send side stamps a
// monotonically increasing 16-bit sequence number; the receive side runs a
// loop that reassembles fragment groups into frames and parks them on a
// bounded queue.
type Endpoint struct {
	conn        *net.UDPConn
	payloadType uint8
	ssrc        uint32
	logger      *logrus.Logger

	mu     sync.Mutex
	remote *net.UDPAddr
	seq    uint16

	frames chan *Frame
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewEndpoint binds a UDP socket on the given local port.
func NewEndpoint(localPort int, payloadType uint8, queueSize int, logger *logrus.Logger) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("rtp: bind port %d: %w", localPort, err)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Endpoint{
		conn:        conn,
		payloadType: payloadType,
		ssrc:        rand.Uint32(),
		logger:      logger,
		seq:         uint16(rand.Intn(1 << 16)),
		frames:      make(chan *Frame, queueSize),
		stop:        make(chan struct{}),
	}, nil
}

// SetRemote points the send side at the negotiated peer address.
func (e *Endpoint) SetRemote(ip string, port int) error {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return fmt.Errorf("rtp: resolve remote: %w", err)
	}
	e.mu.Lock()
	e.remote = addr
	e.mu.Unlock()
	return nil
}

// LocalPort reports the bound port, for SDP advertisement.
func (e *Endpoint) LocalPort() int {
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

// SSRC identifies this sender within the call leg.
func (e *Endpoint) SSRC() uint32 {
	return e.ssrc
}

// SendFrame fragments one logical payload and sends the group. All
// fragments share the timestamp and SSRC; each gets the next sequence
// number. Socket errors are reported but leave the endpoint usable.
func (e *Endpoint) SendFrame(payload []byte, timestamp uint32) error {
	packets, err := Fragment(e.payloadType, timestamp, e.ssrc, payload)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return ErrNoRemote
	}
	for _, pkt := range packets {
		pkt.SequenceNumber = e.seq
		e.seq++ // wraps at 2^16 by type
		data, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtp: marshal: %w", err)
		}
		if _, err := e.conn.WriteToUDP(data, e.remote); err != nil {
			metrics.RTPSendErrors.Inc()
			e.logger.WithError(err).Debug("RTP send failed, packet dropped")
			continue
		}
		metrics.RTPPacketsSent.Inc()
	}
	return nil
}

// StartReceiver launches the receive loop.
func (e *Endpoint) StartReceiver() {
	e.wg.Add(1)
	go e.receiveLoop()
}

func (e *Endpoint) receiveLoop() {
	defer e.wg.Done()
	var reasm Reassembler
	buf := make([]byte, recvBufferSize)
	for {
		select {
		case <-e.stop:
			return
		default:
		}
		if err := e.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Socket closed or unrecoverable: terminate cleanly.
			return
		}
		pkt, err := ParsePacket(buf[:n])
		if err != nil {
			metrics.RTPFramesDropped.Inc()
			e.logger.WithError(err).Debug("Dropping malformed RTP packet")
			continue
		}
		metrics.RTPPacketsReceived.Inc()
		frame := reasm.Push(pkt)
		if frame == nil {
			continue
		}
		e.enqueue(frame)
	}
}

// enqueue parks a frame, evicting the oldest when the queue is full.
func (e *Endpoint) enqueue(frame *Frame) {
	for {
		select {
		case e.frames <- frame:
			metrics.RTPFramesReassembled.Inc()
			return
		default:
			select {
			case <-e.frames:
				metrics.RTPFramesDropped.Inc()
			default:
			}
		}
	}
}

// Poll returns the next reassembled frame without blocking.
func (e *Endpoint) Poll() (*Frame, bool) {
	select {
	case f := <-e.frames:
		return f, true
	default:
		return nil, false
	}
}

// Wait blocks for the next frame up to the given timeout.
func (e *Endpoint) Wait(timeout time.Duration) (*Frame, bool) {
	select {
	case f := <-e.frames:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Close stops the receive loop and releases the socket.
func (e *Endpoint) Close() error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	err := e.conn.Close()
	e.wg.Wait()
	return err
}
