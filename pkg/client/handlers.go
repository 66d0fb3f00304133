package client

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/auth"
	"sipvoip-server/pkg/sdp"
	"sipvoip-server/pkg/sipmsg"
)

// readLoop consumes messages from the registrar until the connection
// drops.
func (c *Client) readLoop(conn net.Conn) {
	for {
		msg, err := sipmsg.ReadMessage(conn, c.maxHeaderBytes, c.maxBodyBytes)
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
			}
			c.logger.WithError(err).Warn("Connection to registrar lost")
			c.mu.Lock()
			if cl := c.active; cl != nil {
				c.endCallLocked(cl, "connection lost")
			}
			c.registered = false
			c.mu.Unlock()
			return
		}
		switch m := msg.(type) {
		case *sipmsg.Request:
			c.handleRequest(m)
		case *sipmsg.Response:
			c.handleResponse(m)
		}
	}
}

func (c *Client) handleRequest(req *sipmsg.Request) {
	switch req.Method {
	case sipmsg.MethodOptions:
		// Keep-alive probe: answer right away so the sweep spares us.
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.write(conn, sipmsg.NewResponseFromRequest(req, sipmsg.StatusOK, c.uri))
		}
	case sipmsg.MethodInvite:
		c.handleIncomingInvite(req)
	case sipmsg.MethodCancel:
		c.handleIncomingCancel(req)
	case sipmsg.MethodAck:
		c.handleIncomingAck(req)
	case sipmsg.MethodBye:
		c.handleIncomingBye(req)
	default:
		c.logger.WithField("method", req.Method).Debug("Ignoring unexpected request")
	}
}

// handleIncomingInvite rings immediately, parks the INVITE and lets the
// UI decide. A second call while one is active is declined outright.
func (c *Client) handleIncomingInvite(req *sipmsg.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		// The proxy forwards a decline only once the call is ringing, so
		// the busy answer is 180 followed by 603.
		c.write(c.conn, sipmsg.NewResponseFromRequest(req, sipmsg.StatusRinging, c.uri))
		c.write(c.conn, sipmsg.NewResponseFromRequest(req, sipmsg.StatusDecline, c.uri))
		return
	}
	cl := &call{
		id:       req.Headers.CallID,
		peer:     req.Headers.From,
		state:    sipmsg.StateRinging,
		cseq:     req.Headers.CSeq.Seq,
		incoming: true,
		invite:   req,
	}
	c.active = cl
	c.write(c.conn, sipmsg.NewResponseFromRequest(req, sipmsg.StatusRinging, c.uri))
	c.logger.WithField("caller", cl.peer).Info("Incoming call")
	if c.callbacks.IncomingCall != nil {
		go c.callbacks.IncomingCall(cl.peer)
	}
}

// handleIncomingCancel answers the cancellation and reports the INVITE
// terminated so the proxy can finish its cancel handshake.
func (c *Client) handleIncomingCancel(req *sipmsg.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.active
	if cl == nil || cl.id != req.Headers.CallID || !cl.incoming {
		return
	}
	c.write(c.conn, sipmsg.NewResponseFromRequest(req, sipmsg.StatusOK, c.uri))
	terminated := sipmsg.NewResponse(sipmsg.StatusRequestTerminated, sipmsg.MethodInvite,
		req.Headers.CSeq.Seq, cl.peer, c.uri, cl.id)
	c.write(c.conn, terminated)
	c.endCallLocked(cl, "caller cancelled")
}

// handleIncomingAck confirms our 200: the call is up, media starts.
func (c *Client) handleIncomingAck(req *sipmsg.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.active
	if cl == nil || cl.id != req.Headers.CallID || cl.state != sipmsg.StateWaitingAck {
		return
	}
	cl.state = sipmsg.StateInCall
	cl.orch.Start(c.audioSrc, c.audioSink, c.videoSrc, c.videoSink)
	c.logger.WithField("peer", cl.peer).Info("Call established")
	if c.callbacks.Established != nil {
		go c.callbacks.Established()
	}
}

func (c *Client) handleIncomingBye(req *sipmsg.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.active
	if cl == nil || cl.id != req.Headers.CallID || cl.state != sipmsg.StateInCall {
		return
	}
	c.write(c.conn, sipmsg.NewResponseFromRequest(req, sipmsg.StatusOK, c.uri))
	c.endCallLocked(cl, "peer hung up")
}

func (c *Client) handleResponse(res *sipmsg.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.Headers.CallID == c.regCallID {
		c.handleRegisterResponse(res)
		return
	}
	cl := c.active
	if cl == nil || cl.id != res.Headers.CallID {
		c.logger.WithField("call_id", res.Headers.CallID).Debug("Response for unknown call")
		return
	}
	c.handleCallResponse(cl, res)
}

// handleRegisterResponse walks the REGISTER exchange: 401 answers the
// challenge, 200 completes, anything else fails the registration. Caller
// holds c.mu.
func (c *Client) handleRegisterResponse(res *sipmsg.Response) {
	finish := func(err error) {
		if c.regWait != nil {
			c.regWait <- err
			c.regWait = nil
		}
	}
	switch res.Code {
	case sipmsg.StatusUnauthorized:
		challenge := res.Headers.Get("www-authenticate")
		creds, err := auth.ParseHeader(challenge, false)
		if err != nil {
			finish(fmt.Errorf("client: bad challenge: %w", err))
			return
		}
		response := auth.Compute(c.uri, c.password, creds.Realm, string(sipmsg.MethodRegister), creds.Nonce)
		c.regCSeq++
		req := sipmsg.NewRequest(sipmsg.MethodRegister, c.serverURI, c.uri, c.regCallID, c.regCSeq, "")
		req.Headers.Set("authorization", auth.AuthorizationHeader(c.uri, creds.Realm, creds.Nonce, response))
		if err := c.write(c.conn, req); err != nil {
			finish(err)
		}
	case sipmsg.StatusOK:
		c.registered = true
		c.logger.WithField("uri", c.uri).Info("Registered")
		finish(nil)
	default:
		finish(fmt.Errorf("client: registration rejected: %d %s", res.Code, res.Code.Reason()))
	}
}

// handleCallResponse advances the outgoing call machine. Caller holds
// c.mu.
func (c *Client) handleCallResponse(cl *call, res *sipmsg.Response) {
	switch {
	case res.Code == sipmsg.StatusUnauthorized && cl.state == sipmsg.StateWaitingAuth:
		challenge := res.Headers.Get("www-authenticate")
		creds, err := auth.ParseHeader(challenge, false)
		if err != nil {
			c.endCallLocked(cl, "bad auth challenge")
			return
		}
		response := auth.Compute(c.uri, c.password, creds.Realm, string(sipmsg.MethodInvite), creds.Nonce)
		cl.cseq++
		req := sipmsg.NewRequest(sipmsg.MethodInvite, cl.peer, c.uri, cl.id, cl.cseq, cl.offerBody)
		req.Headers.Set("authorization", auth.AuthorizationHeader(c.uri, creds.Realm, creds.Nonce, response))
		if err := c.write(c.conn, req); err != nil {
			c.endCallLocked(cl, "send failed")
		}

	case res.Code == sipmsg.StatusTrying && cl.state == sipmsg.StateWaitingAuth:
		cl.state = sipmsg.StateTrying

	case res.Code == sipmsg.StatusRinging && cl.state == sipmsg.StateTrying:
		cl.state = sipmsg.StateRinging
		if c.callbacks.Ringing != nil {
			go c.callbacks.Ringing()
		}

	case res.Code == sipmsg.StatusOK && cl.state == sipmsg.StateRinging:
		remote, err := sdp.Parse(res.Body)
		if err != nil {
			c.endCallLocked(cl, "bad remote session description")
			return
		}
		if err := cl.orch.ConnectRemote(remote); err != nil {
			c.endCallLocked(cl, "bad remote address")
			return
		}
		cl.cseq++
		ack := sipmsg.NewRequest(sipmsg.MethodAck, cl.peer, c.uri, cl.id, cl.cseq, "")
		if err := c.write(c.conn, ack); err != nil {
			c.endCallLocked(cl, "send failed")
			return
		}
		cl.state = sipmsg.StateInCall
		cl.orch.Start(c.audioSrc, c.audioSink, c.videoSrc, c.videoSink)
		c.logger.WithField("peer", cl.peer).Info("Call established")
		if c.callbacks.Established != nil {
			go c.callbacks.Established()
		}

	case res.Code == sipmsg.StatusOK && cl.state == sipmsg.StateInitCancel:
		c.endCallLocked(cl, "cancelled")

	case res.Code == sipmsg.StatusDecline:
		c.endCallLocked(cl, "declined by peer")

	case res.Code == sipmsg.StatusDoesNotExist:
		c.endCallLocked(cl, "peer unavailable")

	case res.Code == sipmsg.StatusNotFound:
		c.endCallLocked(cl, "peer not found")

	case res.Code == sipmsg.StatusForbidden:
		c.endCallLocked(cl, "authentication failed")

	default:
		c.logger.WithFields(logrus.Fields{
			"code":  int(res.Code),
			"state": string(cl.state),
		}).Debug("Ignoring response in current state")
	}
}
