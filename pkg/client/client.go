// Package client implements the softphone's user agent: registration,
// outgoing and incoming calls, the auth retry dance, and the media
// handoff once a call is confirmed. The GUI layer sits behind the
// Callbacks struct and the media collaborator interfaces.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/media"
	"sipvoip-server/pkg/sdp"
	"sipvoip-server/pkg/sipmsg"
)

var (
	ErrNotConnected  = errors.New("client: not connected")
	ErrNotRegistered = errors.New("client: not registered")
	ErrCallActive    = errors.New("client: a call is already active")
	ErrNoCall        = errors.New("client: no active call")
	ErrBadCallState  = errors.New("client: operation not valid in current call state")
	ErrTimeout       = errors.New("client: timed out waiting for server")
)

// registerTimeout bounds the synchronous registration exchange.
const registerTimeout = 10 * time.Second

// Callbacks are the hooks the UI layer installs. Nil hooks are skipped.
// Terminal transitions always carry a short reason string.
type Callbacks struct {
	IncomingCall func(caller string)
	Ringing      func()
	Established  func()
	Ended        func(reason string)
}

// call is the client's single active dialog.
type call struct {
	id       string
	peer     string
	state    sipmsg.CallState
	cseq     int
	incoming bool

	// invite parks an incoming INVITE until the UI accepts or declines.
	// Single shot: cleared on first use.
	invite *sipmsg.Request

	// offerBody keeps the outgoing SDP so the auth retry can resend it.
	offerBody string

	orch *media.Orchestrator
}

// Client is one softphone endpoint.
type Client struct {
	serverURI string
	logger    *logrus.Logger
	callbacks Callbacks

	maxHeaderBytes int
	maxBodyBytes   int

	audioSrc  media.FrameSource
	audioSink media.FrameSink
	videoSrc  media.FrameSource
	videoSink media.FrameSink

	mu         sync.Mutex
	conn       net.Conn
	username   string
	password   string
	uri        string
	registered bool
	active     *call
	regWait    chan error
	regCallID  string
	regCSeq    int

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a client speaking to the given registrar realm.
func New(serverURI string, callbacks Callbacks, logger *logrus.Logger) *Client {
	return &Client{
		serverURI:      serverURI,
		logger:         logger,
		callbacks:      callbacks,
		maxHeaderBytes: 4096,
		maxBodyBytes:   8192,
		stop:           make(chan struct{}),
	}
}

// SetMedia installs the capture and playback collaborators used once a
// call is confirmed. Nil entries disable that pipeline.
func (c *Client) SetMedia(audioSrc media.FrameSource, audioSink media.FrameSink, videoSrc media.FrameSource, videoSink media.FrameSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioSrc, c.audioSink = audioSrc, audioSink
	c.videoSrc, c.videoSink = videoSrc, videoSink
}

// Connect dials the registrar and starts the read loop.
func (c *Client) Connect(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", addr, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(conn)
	}()
	c.logger.WithField("server", addr).Info("Connected to registrar")
	return nil
}

// Register authenticates the user with the registrar. It blocks until the
// exchange completes or times out.
func (c *Client) Register(username, password string) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.username = username
	c.password = password
	c.uri = username + "@" + c.serverURI
	c.regCallID = uuid.NewString()
	c.regCSeq = 1
	wait := make(chan error, 1)
	c.regWait = wait
	req := sipmsg.NewRequest(sipmsg.MethodRegister, c.serverURI, c.uri, c.regCallID, c.regCSeq, "")
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, req); err != nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-time.After(registerTimeout):
		return ErrTimeout
	}
}

// Invite starts a call to callee (bare user@host). Media ports are
// allocated up front so the offer can carry them.
func (c *Client) Invite(callee string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if !c.registered {
		return ErrNotRegistered
	}
	if c.active != nil {
		return ErrCallActive
	}

	orch := media.NewOrchestrator(c.logger)
	if err := orch.SetupLocal(c.audioSrc != nil || c.audioSink != nil, c.videoSrc != nil || c.videoSink != nil); err != nil {
		return err
	}
	body, err := c.localSDP(orch)
	if err != nil {
		orch.Teardown()
		return err
	}

	cl := &call{
		id:        uuid.NewString(),
		peer:      callee,
		state:     sipmsg.StateWaitingAuth,
		cseq:      1,
		orch:      orch,
		offerBody: body,
	}
	c.active = cl
	req := sipmsg.NewRequest(sipmsg.MethodInvite, callee, c.uri, cl.id, cl.cseq, body)
	return c.write(c.conn, req)
}

// Accept answers the parked incoming INVITE with a 200 carrying a local
// SDP, then waits for the remote ACK before media starts.
func (c *Client) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.active
	if cl == nil {
		return ErrNoCall
	}
	if !cl.incoming || cl.invite == nil || cl.state != sipmsg.StateRinging {
		return ErrBadCallState
	}
	invite := cl.invite
	cl.invite = nil

	remote, err := sdp.Parse(invite.Body)
	if err != nil {
		c.endCallLocked(cl, "bad remote session description")
		return err
	}
	orch := media.NewOrchestrator(c.logger)
	if err := orch.SetupLocal(remote.AudioPort > 0, remote.VideoPort > 0); err != nil {
		c.endCallLocked(cl, "no media ports")
		return err
	}
	if err := orch.ConnectRemote(remote); err != nil {
		orch.Teardown()
		c.endCallLocked(cl, "bad remote address")
		return err
	}
	cl.orch = orch

	body, err := c.localSDP(orch)
	if err != nil {
		c.endCallLocked(cl, "could not build session description")
		return err
	}
	res := sipmsg.NewResponseFromRequest(invite, sipmsg.StatusOK, c.uri)
	res.SetBody(body)
	cl.state = sipmsg.StateWaitingAck
	return c.write(c.conn, res)
}

// Decline answers the parked incoming INVITE with 603.
func (c *Client) Decline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.active
	if cl == nil {
		return ErrNoCall
	}
	if !cl.incoming || cl.invite == nil {
		return ErrBadCallState
	}
	invite := cl.invite
	cl.invite = nil
	err := c.write(c.conn, sipmsg.NewResponseFromRequest(invite, sipmsg.StatusDecline, c.uri))
	c.endCallLocked(cl, "declined")
	return err
}

// Cancel abandons an outgoing call that has not been answered yet.
func (c *Client) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.active
	if cl == nil {
		return ErrNoCall
	}
	if cl.incoming || cl.state != sipmsg.StateRinging {
		return ErrBadCallState
	}
	cl.cseq++
	cl.state = sipmsg.StateInitCancel
	req := sipmsg.NewRequest(sipmsg.MethodCancel, cl.peer, c.uri, cl.id, cl.cseq, "")
	return c.write(c.conn, req)
}

// Bye hangs up the established call. The call ends locally right away;
// the counterpart's 200 is consumed by the proxy.
func (c *Client) Bye() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.active
	if cl == nil {
		return ErrNoCall
	}
	if cl.state != sipmsg.StateInCall {
		return ErrBadCallState
	}
	cl.cseq++
	req := sipmsg.NewRequest(sipmsg.MethodBye, cl.peer, c.uri, cl.id, cl.cseq, "")
	err := c.write(c.conn, req)
	c.endCallLocked(cl, "hung up")
	return err
}

// localSDP builds the session description advertising orch's ports.
func (c *Client) localSDP(orch *media.Orchestrator) (string, error) {
	host, _, err := net.SplitHostPort(c.conn.LocalAddr().String())
	if err != nil {
		return "", fmt.Errorf("client: local address: %w", err)
	}
	sess := &sdp.Session{SessionID: sdp.GenerateSessionID(), IP: host}
	if err := orch.InstallPorts(sess); err != nil {
		return "", err
	}
	return sess.Marshal()
}

// endCallLocked tears down media, clears the active slot and surfaces the
// reason. Caller holds c.mu.
func (c *Client) endCallLocked(cl *call, reason string) {
	if c.active != cl {
		return
	}
	c.active = nil
	if cl.orch != nil {
		// Teardown waits on pipeline goroutines, keep it off the lock.
		orch := cl.orch
		go orch.Teardown()
	}
	c.logger.WithFields(logrus.Fields{"call_id": cl.id, "reason": reason}).Info("Call ended")
	if c.callbacks.Ended != nil {
		go c.callbacks.Ended(reason)
	}
}

// write marshals and sends one message on conn.
func (c *Client) write(conn net.Conn, msg sipmsg.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

// Close hangs up, disconnects and stops the read loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if cl := c.active; cl != nil {
		c.endCallLocked(cl, "client shutting down")
	}
	conn := c.conn
	c.conn = nil
	c.registered = false
	c.mu.Unlock()

	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}
