package media

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/rtp"
	"sipvoip-server/pkg/sdp"
)

// videoFrameInterval paces video sends at 30 frames per second.
const videoFrameInterval = time.Second / 30

// receivePollTimeout bounds how long a receive pipeline blocks between
// stop-flag checks.
const receivePollTimeout = 100 * time.Millisecond

// FrameSource supplies outbound media payloads. Implementations sit in
// front of capture and encode; NextFrame returns ok=false when no frame
// is ready this instant, which the pipeline treats as a skipped tick.
// When the encoder lags the pacing tick, implementations hand out their
// oldest buffered frame first.
type FrameSource interface {
	NextFrame() (payload []byte, ok bool)
	// FrameInterval is the pacing the collaborator wants between sends.
	FrameInterval() time.Duration
}

// FrameSink receives inbound reassembled frames for decode and playback.
type FrameSink interface {
	Deliver(frame *rtp.Frame)
}

var ErrNotSetUp = errors.New("media: local endpoints not allocated")

// leg holds the state of one medium within a call.
type leg struct {
	endpoint *rtp.Endpoint
	ts       uint32 // outbound frame counter; each frame is one fragment group
}

// Orchestrator owns the RTP endpoints for one call and runs up to four
// pipelines (send/receive per medium) once the call is confirmed.
type Orchestrator struct {
	logger *logrus.Logger

	mu    sync.Mutex
	audio *leg
	video *leg

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewOrchestrator(logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// SetupLocal allocates the local endpoints for the requested media. It is
// called on offer (caller) or accept (callee), before the local SDP is
// produced.
func (o *Orchestrator) SetupLocal(wantAudio, wantVideo bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wantAudio && o.audio == nil {
		ep, err := allocateEndpoint(rtp.PayloadTypeAudio, o.logger)
		if err != nil {
			return err
		}
		o.audio = &leg{endpoint: ep}
	}
	if wantVideo && o.video == nil {
		ep, err := allocateEndpoint(rtp.PayloadTypeVideo, o.logger)
		if err != nil {
			o.releaseLocked()
			return err
		}
		o.video = &leg{endpoint: ep}
	}
	return nil
}

// InstallPorts writes the allocated local ports into the session offered
// or answered over SIP.
func (o *Orchestrator) InstallPorts(sess *sdp.Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.audio == nil && o.video == nil {
		return ErrNotSetUp
	}
	if o.audio != nil {
		sess.AudioPort = o.audio.endpoint.LocalPort()
		sess.AudioFormat = sdp.DefaultAudioFormat
	}
	if o.video != nil {
		sess.VideoPort = o.video.endpoint.LocalPort()
		sess.VideoFormat = sdp.DefaultVideoFormat
	}
	return nil
}

// ConnectRemote points the send side of each allocated leg at the ports
// the counterpart advertised.
func (o *Orchestrator) ConnectRemote(remote *sdp.Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.audio != nil && remote.AudioPort > 0 {
		if err := o.audio.endpoint.SetRemote(remote.IP, remote.AudioPort); err != nil {
			return err
		}
	}
	if o.video != nil && remote.VideoPort > 0 {
		if err := o.video.endpoint.SetRemote(remote.IP, remote.VideoPort); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the pipelines for every leg with a collaborator. Called
// once the call is confirmed (ACK seen from either side).
func (o *Orchestrator) Start(audioSrc FrameSource, audioSink FrameSink, videoSrc FrameSource, videoSink FrameSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	if o.audio != nil {
		if audioSrc != nil {
			o.wg.Add(1)
			go o.sendLoop(o.audio, audioSrc, audioSrc.FrameInterval())
		}
		if audioSink != nil {
			o.audio.endpoint.StartReceiver()
			o.wg.Add(1)
			go o.receiveLoop(o.audio, audioSink)
		}
	}
	if o.video != nil {
		if videoSrc != nil {
			o.wg.Add(1)
			go o.sendLoop(o.video, videoSrc, videoFrameInterval)
		}
		if videoSink != nil {
			o.video.endpoint.StartReceiver()
			o.wg.Add(1)
			go o.receiveLoop(o.video, videoSink)
		}
	}
}

// sendLoop paces the source's frames onto the wire. Each frame becomes
// one fragment group stamped with the next timestamp.
func (o *Orchestrator) sendLoop(l *leg, src FrameSource, interval time.Duration) {
	defer o.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
		}
		payload, ok := src.NextFrame()
		if !ok {
			continue
		}
		l.ts++
		if err := l.endpoint.SendFrame(payload, l.ts); err != nil {
			if errors.Is(err, rtp.ErrNoRemote) {
				return
			}
			o.logger.WithError(err).Debug("Media send failed, frame dropped")
		}
	}
}

func (o *Orchestrator) receiveLoop(l *leg, sink FrameSink) {
	defer o.wg.Done()
	for {
		select {
		case <-o.stop:
			return
		default:
		}
		frame, ok := l.endpoint.Wait(receivePollTimeout)
		if !ok {
			continue
		}
		sink.Deliver(frame)
	}
}

// Teardown signals every pipeline to stop, waits them out, and releases
// the sockets so the ports return to the pool.
func (o *Orchestrator) Teardown() {
	o.mu.Lock()
	if !o.started {
		o.releaseLocked()
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	close(o.stop)
	o.wg.Wait()

	o.mu.Lock()
	o.releaseLocked()
	o.started = false
	o.mu.Unlock()
}

// releaseLocked closes the endpoints. Caller holds o.mu.
func (o *Orchestrator) releaseLocked() {
	if o.audio != nil {
		o.audio.endpoint.Close()
		o.audio = nil
	}
	if o.video != nil {
		o.video.endpoint.Close()
		o.video = nil
	}
}

// HasAudio and HasVideo report which legs were allocated.
func (o *Orchestrator) HasAudio() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.audio != nil
}

func (o *Orchestrator) HasVideo() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.video != nil
}
