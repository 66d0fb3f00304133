package server

import (
	"net"
	"time"

	"github.com/google/uuid"

	"sipvoip-server/pkg/metrics"
	"sipvoip-server/pkg/sipmsg"
)

// startBackground launches the maintenance tasks. Each runs on its own
// ticker at the configured cadence and swallows its own failures.
func (s *Server) startBackground() {
	for name, task := range map[string]func(){
		"registration-expiry": s.sweepRegistrations,
		"idle-call-cleanup":   s.sweepIdleCalls,
		"keep-alive":          s.sweepKeepAlives,
		"window-gc":           s.sweepWindows,
	} {
		s.wg.Add(1)
		go func(name string, task func()) {
			defer s.wg.Done()
			s.logger.WithField("task", name).Debug("Background task started")
			ticker := time.NewTicker(s.cfg.BackgroundCadence)
			defer ticker.Stop()
			for {
				select {
				case <-s.stop:
					return
				case <-ticker.C:
					task()
				}
			}
		}(name, task)
	}
}

// sweepRegistrations drops bindings past their expiry.
func (s *Server) sweepRegistrations() {
	expired := s.regs.SweepExpired(time.Now())
	if len(expired) == 0 {
		return
	}
	metrics.ActiveRegistrations.Set(float64(s.regs.Len()))
	for _, reg := range expired {
		s.logger.WithField("uri", reg.URI).Info("Registration expired")
	}
}

// sweepIdleCalls removes calls with no signaling activity, except those
// already in conversation: IN_CALL lives on RTP, not SIP traffic. Each
// side still identifiable by a registration gets a 604.
func (s *Server) sweepIdleCalls() {
	now := time.Now()
	for _, call := range s.calls.Snapshot() {
		call.Lock()
		if call.State == sipmsg.StateInCall || now.Sub(call.LastActive) < s.cfg.CallIdleLimit {
			call.Unlock()
			continue
		}
		s.logger.WithField("call_id", call.ID).Info("Dropping idle call")
		for _, conn := range []net.Conn{call.CallerConn, call.CalleeConn} {
			if conn == nil {
				continue
			}
			uri := s.regs.URIOf(conn)
			if uri == "" {
				continue
			}
			note := sipmsg.NewResponse(sipmsg.StatusDoesNotExist, sipmsg.Method(call.Type),
				call.LastCSeq, uri, s.cfg.ServerURI, call.ID)
			s.send(conn, note)
		}
		s.dropCall(call)
		call.Unlock()
	}
	s.challenges.Sweep()
}

// sweepKeepAlives closes every connection that never answered the last
// probe, then probes all surviving connections afresh.
func (s *Server) sweepKeepAlives() {
	for _, ka := range s.keepalives.TakeOutstanding() {
		metrics.KeepAliveTimeouts.Inc()
		s.logger.WithField("remote", ka.Conn.RemoteAddr().String()).
			Info("Closing connection that missed keep-alive")
		s.closeConn(ka.Conn)
	}

	s.connMu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	for _, conn := range conns {
		uri := s.regs.URIOf(conn)
		if uri == "" {
			uri = "anonymous@" + s.cfg.ServerURI
		}
		callID := uuid.NewString()
		probe := sipmsg.NewRequest(sipmsg.MethodOptions, uri, s.cfg.ServerURI, callID, 1, "")
		s.keepalives.Add(&KeepAlive{CallID: callID, Conn: conn, CSeq: 1})
		s.send(conn, probe)
	}
}

// sweepWindows evicts stale rate-limit timestamps.
func (s *Server) sweepWindows() {
	s.limiter.GC()
}
