// Package server implements the registrar/proxy: the accept loop, per
// connection readers, the worker-dispatched method handlers, response
// proxying, and the background maintenance tasks.
//
// Lock order everywhere is connection set, then registrations, then the
// call lock, then the rate-limit windows.
package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/auth"
	"sipvoip-server/pkg/config"
	"sipvoip-server/pkg/metrics"
	"sipvoip-server/pkg/registry"
	"sipvoip-server/pkg/sipmsg"
	"sipvoip-server/pkg/userdb"
	"sipvoip-server/pkg/util"
)

// Server is the SIP registrar and call proxy.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger
	users  *userdb.Store

	regs       *registry.Map
	calls      *CallTable
	challenges *auth.ChallengeTable
	keepalives *KeepAliveTable
	limiter    *RateLimiter
	pool       *util.WorkerPool

	connMu sync.Mutex
	conns  map[net.Conn]bool

	listener net.Listener
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New assembles a server around the given credential store.
func New(cfg *config.Config, users *userdb.Store, logger *logrus.Logger) (*Server, error) {
	limiter, err := NewRateLimiter(cfg.RateWindow, cfg.ConnRateThreshold, cfg.MsgRateThreshold, cfg.BannedIPFile, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		users:      users,
		regs:       registry.NewMap(),
		calls:      NewCallTable(),
		challenges: auth.NewChallengeTable(auth.DefaultChallengeTTL),
		keepalives: NewKeepAliveTable(),
		limiter:    limiter,
		pool:       util.NewWorkerPool(cfg.WorkerCount, cfg.WorkerQueue, logger),
		conns:      make(map[net.Conn]bool),
		stop:       make(chan struct{}),
	}, nil
}

// Serve listens on the configured address and runs until Close. The
// background tasks start here too.
func (s *Server) Serve() error {
	addr := net.JoinHostPort(s.cfg.SIPHost, strconv.Itoa(s.cfg.SIPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.WithField("addr", addr).Info("SIP server listening")

	s.startBackground()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
			}
			s.logger.WithError(err).Warn("Accept failed")
			continue
		}
		s.admit(conn)
	}
}

// admit applies the blacklist, the connection cap and the per-IP window
// before the connection gets a reader.
func (s *Server) admit(conn net.Conn) {
	ip := peerIP(conn)

	if s.limiter.IsBanned(ip) {
		metrics.ConnectionsRejected.WithLabelValues("banned").Inc()
		conn.Close()
		return
	}

	s.connMu.Lock()
	over := len(s.conns) >= s.cfg.MaxConnections
	s.connMu.Unlock()
	if over {
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		conn.Close()
		return
	}

	if s.limiter.RecordConnection(ip) {
		metrics.ConnectionsRejected.WithLabelValues("flood").Inc()
		conn.Close()
		return
	}

	s.connMu.Lock()
	s.conns[conn] = true
	s.connMu.Unlock()
	metrics.ConnectionsActive.Inc()
	s.logger.WithField("remote", conn.RemoteAddr().String()).Debug("Connection accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(conn)
	}()
}

// readLoop pulls messages off one connection and hands them to the pool.
func (s *Server) readLoop(conn net.Conn) {
	for {
		msg, err := sipmsg.ReadMessage(conn, s.cfg.MaxHeaderBytes, s.cfg.MaxBodyBytes)
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			s.logger.WithError(err).WithField("remote", conn.RemoteAddr().String()).
				Debug("Closing connection on read failure")
			s.closeConn(conn)
			return
		}
		if s.limiter.RecordMessage(conn) {
			s.logger.WithField("remote", conn.RemoteAddr().String()).
				Warn("Closing connection for message flooding")
			s.closeConn(conn)
			return
		}
		if !s.pool.Submit(func() { s.handleMessage(conn, msg) }) {
			s.logger.Warn("Worker pool saturated, message dropped")
		}
	}
}

// handleMessage routes one parsed message inside a worker.
func (s *Server) handleMessage(conn net.Conn, msg sipmsg.Message) {
	switch m := msg.(type) {
	case *sipmsg.Request:
		metrics.SIPRequestsTotal.WithLabelValues(string(m.Method)).Inc()
		s.handleRequest(conn, m)
	case *sipmsg.Response:
		s.handleResponse(conn, m)
	}
}

// send marshals and writes one message. A write failure closes the
// connection with the full cleanup cascade.
func (s *Server) send(conn net.Conn, msg sipmsg.Message) bool {
	data, err := msg.Marshal()
	if err != nil {
		s.logger.WithError(err).Error("Refusing to send unbuildable message")
		return false
	}
	if _, err := conn.Write(data); err != nil {
		s.logger.WithError(err).Debug("Write failed, closing connection")
		// The cascade relocks call records, and the caller may be holding
		// one, so it runs off this goroutine.
		go s.closeConn(conn)
		return false
	}
	if res, ok := msg.(*sipmsg.Response); ok {
		metrics.SIPResponsesTotal.WithLabelValues(strconv.Itoa(int(res.Code))).Inc()
	}
	return true
}

// reply builds and sends a response to a request, server speaking as
// itself.
func (s *Server) reply(conn net.Conn, req *sipmsg.Request, code sipmsg.StatusCode) bool {
	return s.send(conn, sipmsg.NewResponseFromRequest(req, code, s.cfg.ServerURI))
}

// closeConn tears a connection down: registration, rate window, every
// call that references it, and pending challenges. Counterparts of live
// INVITE dialogs get a 604 notification.
func (s *Server) closeConn(conn net.Conn) {
	s.connMu.Lock()
	if !s.conns[conn] {
		s.connMu.Unlock()
		return
	}
	delete(s.conns, conn)
	s.connMu.Unlock()

	conn.Close()
	metrics.ConnectionsActive.Dec()

	if s.regs.RemoveByConn(conn) {
		metrics.ActiveRegistrations.Set(float64(s.regs.Len()))
	}
	s.keepalives.DropConn(conn)

	for _, call := range s.calls.Snapshot() {
		call.Lock()
		if !call.References(conn) {
			call.Unlock()
			continue
		}
		if call.Type == sipmsg.CallTypeInvite {
			s.notifyGone(call, conn)
		}
		s.calls.Drop(call.ID)
		s.challenges.Drop(call.ID)
		call.Unlock()
	}
	metrics.ActiveCalls.Set(float64(s.calls.Len()))

	s.limiter.DropConn(conn)
	s.logger.WithField("remote", conn.RemoteAddr().String()).Debug("Connection closed")
}

// notifyGone tells the surviving side of a call that its peer vanished.
// Caller holds the call lock.
func (s *Server) notifyGone(call *Call, deadConn net.Conn) {
	other := call.CounterpartOf(deadConn)
	if other == nil {
		return
	}
	uri := s.regs.URIOf(other)
	if uri == "" {
		return
	}
	note := sipmsg.NewResponse(sipmsg.StatusDoesNotExist, sipmsg.Method(call.Type),
		call.LastCSeq, uri, s.cfg.ServerURI, call.ID)
	s.send(other, note)
}

// Registrations exposes the registration table to tests and diagnostics.
func (s *Server) Registrations() *registry.Map { return s.regs }

// Calls exposes the call table to tests and diagnostics.
func (s *Server) Calls() *CallTable { return s.calls }

// Close stops the listener, the workers, the background tasks and every
// connection.
func (s *Server) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
		close(s.stop)
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.pool.Shutdown(s.cfg.BackgroundCadence)

	s.connMu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()
	for _, c := range conns {
		s.closeConn(c)
	}

	s.wg.Wait()
	s.logger.Info("SIP server stopped")
	return err
}

// peerIP extracts the bare IP of a connection's remote address.
func peerIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// userPart strips the host suffix off a user@host URI for credential
// store lookups.
func userPart(uri string) string {
	user, _, _ := strings.Cut(uri, "@")
	return user
}
