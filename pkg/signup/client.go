package signup

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Enroll runs one signup session against addr. It returns nil when the
// server confirms the enrollment and an error carrying the server's
// reason string otherwise.
func Enroll(addr, username, password string) error {
	conn, err := net.DialTimeout("tcp", addr, sessionDeadline)
	if err != nil {
		return fmt.Errorf("signup: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(sessionDeadline)); err != nil {
		return fmt.Errorf("signup: set deadline: %w", err)
	}

	pubFrame, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	pub, err := ParsePublicKey(pubFrame)
	if err != nil {
		return err
	}

	sessionKey, wrapped, err := WrapSessionKey(pub)
	if err != nil {
		return err
	}
	if err := WriteFrame(conn, wrapped); err != nil {
		return err
	}
	sess, err := NewSession(sessionKey)
	if err != nil {
		return err
	}

	sealed, err := sess.Seal([]byte(username + "|" + password))
	if err != nil {
		return err
	}
	if err := WriteFrame(conn, sealed); err != nil {
		return err
	}

	replyFrame, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	reply, err := sess.Open(replyFrame)
	if err != nil {
		return err
	}
	if string(reply) != replyOK {
		return errors.New("signup: rejected: " + string(reply))
	}
	return nil
}
