package signup

import (
	"crypto/rsa"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/userdb"
)

const (
	// maxConcurrent caps in-flight enrollments; the RSA handshake is the
	// expensive part and signups are rare.
	maxConcurrent = 5

	sessionDeadline = 5 * time.Second

	replyOK = "SIGNUP"
)

// Server accepts enrollment sessions and writes new users to the store.
type Server struct {
	store  *userdb.Store
	key    *rsa.PrivateKey
	pubPEM []byte
	logger *logrus.Logger

	listener net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup
	stop     chan struct{}
}

// NewServer generates the process RSA identity and prepares the listener
// state. Call Serve to start accepting.
func NewServer(store *userdb.Store, logger *logrus.Logger) (*Server, error) {
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pubPEM, err := MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Server{
		store:  store,
		key:    key,
		pubPEM: pubPEM,
		logger: logger,
		sem:    make(chan struct{}, maxConcurrent),
		stop:   make(chan struct{}),
	}, nil
}

// Serve accepts connections on addr until Close is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("signup: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.WithField("addr", addr).Info("Signup server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
			}
			s.logger.WithError(err).Warn("Signup accept failed")
			continue
		}
		select {
		case s.sem <- struct{}{}:
		default:
			// At capacity. Drop rather than queue, the client retries.
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handle(conn)
		}()
	}
}

// handle runs one enrollment session end to end.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	log := s.logger.WithField("remote", conn.RemoteAddr().String())

	if err := conn.SetDeadline(time.Now().Add(sessionDeadline)); err != nil {
		log.WithError(err).Warn("Could not set signup deadline")
		return
	}

	if err := WriteFrame(conn, s.pubPEM); err != nil {
		log.WithError(err).Debug("Failed publishing public key")
		return
	}

	wrapped, err := ReadFrame(conn)
	if err != nil {
		log.WithError(err).Debug("Failed reading wrapped session key")
		return
	}
	sessionKey, err := UnwrapSessionKey(s.key, wrapped)
	if err != nil {
		log.WithError(err).Warn("Rejecting signup with bad session key")
		return
	}
	sess, err := NewSession(sessionKey)
	if err != nil {
		log.WithError(err).Warn("Could not start AES session")
		return
	}

	frame, err := ReadFrame(conn)
	if err != nil {
		log.WithError(err).Debug("Failed reading credentials frame")
		return
	}
	plaintext, err := sess.Open(frame)
	if err != nil {
		log.WithError(err).Warn("Rejecting undecryptable credentials frame")
		return
	}

	reply := s.enroll(string(plaintext), log)
	sealed, err := sess.Seal([]byte(reply))
	if err != nil {
		log.WithError(err).Warn("Could not seal signup reply")
		return
	}
	if err := WriteFrame(conn, sealed); err != nil {
		log.WithError(err).Debug("Failed writing signup reply")
	}
}

// enroll parses `username|password` and attempts the insert, mapping each
// failure to the short reason string sent back to the client.
func (s *Server) enroll(payload string, log *logrus.Entry) string {
	username, password, ok := strings.Cut(payload, "|")
	if !ok {
		return "malformed credentials"
	}
	switch err := s.store.AddUser(username, password); err {
	case nil:
		log.WithField("username", username).Info("Signup complete")
		return replyOK
	case userdb.ErrInvalidUsername:
		return "invalid username"
	case userdb.ErrInvalidPassword:
		return "invalid password"
	case userdb.ErrUserExists:
		return "username taken"
	default:
		log.WithError(err).Error("Signup store failure")
		return "server error"
	}
}

// Close stops the listener and waits for in-flight sessions.
func (s *Server) Close() error {
	close(s.stop)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}
