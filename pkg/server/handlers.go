package server

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/auth"
	"sipvoip-server/pkg/metrics"
	"sipvoip-server/pkg/registry"
	"sipvoip-server/pkg/sipmsg"
	"sipvoip-server/pkg/userdb"
)

// handleRequest validates and dispatches one request.
func (s *Server) handleRequest(conn net.Conn, req *sipmsg.Request) {
	if !s.validateRequest(conn, req) {
		return
	}
	if !sipmsg.IsKnownMethod(req.Method) {
		s.reply(conn, req, sipmsg.StatusMethodNotAllowed)
		return
	}
	switch req.Method {
	case sipmsg.MethodRegister:
		s.handleRegister(conn, req)
	case sipmsg.MethodInvite:
		s.handleInvite(conn, req)
	case sipmsg.MethodCancel:
		s.handleCancel(conn, req)
	case sipmsg.MethodAck:
		s.handleAck(conn, req)
	case sipmsg.MethodBye:
		s.handleBye(conn, req)
	case sipmsg.MethodOptions:
		s.reply(conn, req, sipmsg.StatusOK)
	}
}

// validateRequest applies the checks every request must pass: exact
// version, all required headers, and a cseq naming the same method. A
// failing request gets an annotated error response, and an existing call
// record still observes the cseq.
func (s *Server) validateRequest(conn net.Conn, req *sipmsg.Request) bool {
	fail := func(code sipmsg.StatusCode, annotation string) bool {
		if call := s.calls.Get(req.Headers.CallID); call != nil {
			call.Lock()
			call.LastCSeq = req.Headers.CSeq.Seq
			call.Touch()
			call.Unlock()
		}
		res := sipmsg.NewResponseFromRequest(req, code, s.cfg.ServerURI)
		res.Headers.Set("warning", annotation)
		s.send(conn, res)
		return false
	}

	if req.Version != sipmsg.Version {
		return fail(sipmsg.StatusVersionNotSupported, "version: "+req.Version)
	}
	if !req.Headers.HasRequired() {
		return fail(sipmsg.StatusBadRequest, "missing: "+strings.Join(req.Headers.MissingRequired(), ", "))
	}
	if req.Headers.CSeq.Method != req.Method {
		return fail(sipmsg.StatusBadRequest, "cseq: method mismatch")
	}
	return true
}

// ensureCall finds or creates the call record for a REGISTER or INVITE,
// enforcing the record invariants: same tracked URI, same type, same
// originating connection, and a cseq advancing by exactly one.
func (s *Server) ensureCall(conn net.Conn, req *sipmsg.Request, typ sipmsg.CallType, trackedURI string) (*Call, bool) {
	call := s.calls.Get(req.Headers.CallID)
	if call == nil {
		call = &Call{
			ID:         req.Headers.CallID,
			Type:       typ,
			TrackedURI: trackedURI,
			PeerURI:    req.Headers.From,
			CallerConn: conn,
			State:      sipmsg.StateWaitingAuth,
			LastCSeq:   req.Headers.CSeq.Seq,
			LastActive: time.Now(),
		}
		if !s.calls.Add(call) {
			// Raced another worker on the same fresh call-id.
			call = s.calls.Get(req.Headers.CallID)
			if call == nil {
				s.reply(conn, req, sipmsg.StatusBadRequest)
				return nil, false
			}
		} else {
			metrics.ActiveCalls.Set(float64(s.calls.Len()))
			call.Lock()
			return call, true
		}
	}

	call.Lock()
	if call.Type != typ || call.TrackedURI != trackedURI || call.CallerConn != conn ||
		req.Headers.CSeq.Seq != call.LastCSeq+1 {
		call.Unlock()
		s.reply(conn, req, sipmsg.StatusBadRequest)
		return nil, false
	}
	call.LastCSeq = req.Headers.CSeq.Seq
	call.Touch()
	return call, true
}

// dropCall removes a call and its pending challenge. Caller holds the
// call lock.
func (s *Server) dropCall(call *Call) {
	s.calls.Drop(call.ID)
	s.challenges.Drop(call.ID)
	metrics.ActiveCalls.Set(float64(s.calls.Len()))
}

// authenticate runs the digest exchange for req's call: a request without
// Authorization gets a fresh 401 challenge, one with it is verified
// against the stored credential. Returns true only when the claimant is
// proven. Caller holds the call lock.
func (s *Server) authenticate(conn net.Conn, req *sipmsg.Request, call *Call, password string) bool {
	authz := req.Headers.Get("authorization")
	if authz == "" {
		ch := s.challenges.Create(call.ID, req.Headers.From, password, s.cfg.ServerURI, string(req.Method))
		res := sipmsg.NewResponseFromRequest(req, sipmsg.StatusUnauthorized, s.cfg.ServerURI)
		res.Headers.Set("www-authenticate", auth.ChallengeHeader(s.cfg.ServerURI, ch.Nonce))
		s.send(conn, res)
		return false
	}
	creds, err := auth.ParseHeader(authz, true)
	if err != nil {
		s.logger.WithError(err).Debug("Rejecting unparseable authorization header")
		s.reply(conn, req, sipmsg.StatusBadRequest)
		return false
	}
	if !s.challenges.Verify(call.ID, creds, password, s.cfg.ServerURI, string(req.Method)) {
		s.reply(conn, req, sipmsg.StatusForbidden)
		return false
	}
	return true
}

// lookupPassword fetches the stored credential for a user@host URI,
// answering the request itself when the user is unknown or the store
// fails.
func (s *Server) lookupPassword(conn net.Conn, req *sipmsg.Request, uri string) (string, bool) {
	password, err := s.users.GetPassword(userPart(uri))
	if err == nil {
		return password, true
	}
	if errors.Is(err, userdb.ErrUserNotFound) {
		s.reply(conn, req, sipmsg.StatusNotFound)
	} else {
		s.logger.WithError(err).Error("Credential store failure")
		s.reply(conn, req, sipmsg.StatusServiceUnavailable)
	}
	return "", false
}

func (s *Server) handleRegister(conn net.Conn, req *sipmsg.Request) {
	log := s.logger.WithFields(logrus.Fields{
		"call_id": req.Headers.CallID,
		"from":    req.Headers.From,
	})

	if req.Headers.To != s.cfg.ServerURI {
		s.reply(conn, req, sipmsg.StatusBadGateway)
		return
	}
	password, ok := s.lookupPassword(conn, req, req.Headers.From)
	if !ok {
		return
	}

	call, ok := s.ensureCall(conn, req, sipmsg.CallTypeRegister, req.Headers.From)
	if !ok {
		return
	}
	defer call.Unlock()

	// A connection renewing its own binding skips the challenge dance.
	if s.regs.URIOf(conn) == req.Headers.From {
		s.regs.Refresh(req.Headers.From, s.registerExpiry(req))
		s.reply(conn, req, sipmsg.StatusOK)
		s.dropCall(call)
		log.Debug("Registration re-affirmed")
		return
	}
	if existing := s.regs.GetByURI(req.Headers.From); existing != nil {
		s.reply(conn, req, sipmsg.StatusForbidden)
		return
	}

	if !s.authenticate(conn, req, call, password) {
		return
	}

	s.regs.Add(&registry.Registration{
		URI:          req.Headers.From,
		Conn:         conn,
		Addr:         conn.RemoteAddr().String(),
		RegisteredAt: time.Now(),
		Expires:      s.registerExpiry(req),
	})
	metrics.ActiveRegistrations.Set(float64(s.regs.Len()))
	s.reply(conn, req, sipmsg.StatusOK)
	s.dropCall(call)
	log.Info("User registered")
}

// registerExpiry honors an expires header when present.
func (s *Server) registerExpiry(req *sipmsg.Request) time.Duration {
	if v := req.Headers.Get("expires"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return s.cfg.RegisterExpiry
}

func (s *Server) handleInvite(conn net.Conn, req *sipmsg.Request) {
	log := s.logger.WithFields(logrus.Fields{
		"call_id": req.Headers.CallID,
		"from":    req.Headers.From,
		"to":      req.Headers.To,
	})

	password, ok := s.lookupPassword(conn, req, req.Headers.From)
	if !ok {
		return
	}

	call, ok := s.ensureCall(conn, req, sipmsg.CallTypeInvite, req.Headers.To)
	if !ok {
		return
	}
	defer call.Unlock()

	callee := s.regs.GetByURI(req.Headers.To)
	if callee == nil {
		s.reply(conn, req, sipmsg.StatusNotFound)
		s.dropCall(call)
		return
	}
	call.CalleeConn = callee.Conn

	if !s.authenticate(conn, req, call, password) {
		return
	}
	if req.Body == "" {
		s.reply(conn, req, sipmsg.StatusBadRequest)
		return
	}

	call.State = sipmsg.StateTrying
	s.challenges.Drop(call.ID)
	if !s.send(callee.Conn, req) {
		s.reply(conn, req, sipmsg.StatusDoesNotExist)
		s.dropCall(call)
		return
	}
	s.reply(conn, req, sipmsg.StatusTrying)
	log.Info("Call forwarded to callee")
}

func (s *Server) handleCancel(conn net.Conn, req *sipmsg.Request) {
	call := s.calls.Get(req.Headers.CallID)
	if call == nil {
		s.reply(conn, req, sipmsg.StatusBadRequest)
		return
	}
	call.Lock()
	defer call.Unlock()
	if call.State != sipmsg.StateRinging || conn != call.CallerConn {
		s.reply(conn, req, sipmsg.StatusBadRequest)
		return
	}
	call.LastCSeq = req.Headers.CSeq.Seq
	call.Touch()

	s.reply(conn, req, sipmsg.StatusOK)

	// The callee sees the cancellation as coming from the proxy.
	fwd := *req
	fwd.Headers.From = s.cfg.ServerURI
	s.send(call.CalleeConn, &fwd)
	call.State = sipmsg.StateInitCancel
}

func (s *Server) handleAck(conn net.Conn, req *sipmsg.Request) {
	call := s.calls.Get(req.Headers.CallID)
	if call == nil {
		s.reply(conn, req, sipmsg.StatusBadRequest)
		return
	}
	call.Lock()
	defer call.Unlock()
	call.LastCSeq = req.Headers.CSeq.Seq
	call.Touch()

	switch call.State {
	case sipmsg.StateWaitingAck:
		call.State = sipmsg.StateInCall
		s.send(call.CounterpartOf(conn), req)
	case sipmsg.StateTryingCancel:
		s.dropCall(call)
	default:
		s.reply(conn, req, sipmsg.StatusBadRequest)
	}
}

func (s *Server) handleBye(conn net.Conn, req *sipmsg.Request) {
	call := s.calls.Get(req.Headers.CallID)
	if call == nil {
		s.reply(conn, req, sipmsg.StatusBadRequest)
		return
	}
	call.Lock()
	defer call.Unlock()
	if call.State != sipmsg.StateInCall {
		s.reply(conn, req, sipmsg.StatusBadRequest)
		return
	}
	call.LastCSeq = req.Headers.CSeq.Seq
	call.Touch()
	s.send(call.CounterpartOf(conn), req)
	call.State = sipmsg.StateWaitingBye
}

// handleResponse proxies a response according to the legal pairings of
// the call's current state. Anything else earns the sender a 606.
func (s *Server) handleResponse(conn net.Conn, res *sipmsg.Response) {
	if res.Headers.CSeq.Method == sipmsg.MethodOptions && res.Code == sipmsg.StatusOK &&
		s.keepalives.Match(res.Headers.CallID, res.Headers.CSeq.Seq) {
		return
	}

	call := s.calls.Get(res.Headers.CallID)
	if call == nil {
		s.rejectResponse(conn, res)
		return
	}
	call.Lock()
	defer call.Unlock()
	if res.Headers.CSeq.Seq != call.LastCSeq {
		s.rejectResponse(conn, res)
		return
	}
	call.Touch()

	switch {
	case call.State == sipmsg.StateTrying && res.Code == sipmsg.StatusRinging:
		call.State = sipmsg.StateRinging
		s.send(call.CounterpartOf(conn), res)

	case call.State == sipmsg.StateRinging && res.Code == sipmsg.StatusDecline:
		s.send(call.CounterpartOf(conn), res)
		s.dropCall(call)

	case call.State == sipmsg.StateRinging && res.Code == sipmsg.StatusOK:
		call.State = sipmsg.StateWaitingAck
		s.send(call.CounterpartOf(conn), res)

	case call.State == sipmsg.StateInitCancel && res.Code == sipmsg.StatusOK:
		call.State = sipmsg.StateTryingCancel

	case call.State == sipmsg.StateTryingCancel && res.Code == sipmsg.StatusRequestTerminated:
		ack := sipmsg.NewRequest(sipmsg.MethodAck, call.TrackedURI, s.cfg.ServerURI,
			call.ID, call.LastCSeq, "")
		s.send(conn, ack)
		s.dropCall(call)

	case call.State == sipmsg.StateWaitingBye && res.Code == sipmsg.StatusOK:
		s.dropCall(call)

	default:
		s.rejectResponse(conn, res)
	}
}

// rejectResponse sends the 606 that answers an out-of-order or unmatched
// response.
func (s *Server) rejectResponse(conn net.Conn, res *sipmsg.Response) {
	reject := sipmsg.NewResponse(sipmsg.StatusNotAcceptable, res.Headers.CSeq.Method,
		res.Headers.CSeq.Seq, res.Headers.From, s.cfg.ServerURI, res.Headers.CallID)
	s.send(conn, reject)
}
