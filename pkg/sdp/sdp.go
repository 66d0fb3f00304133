// Package sdp implements the session description dialect carried inside
// INVITE requests and 200 OK responses: a fixed-order subset of SDP with
// one connection address and up to two media lines.
package sdp

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

var (
	ErrMissingRequired = errors.New("sdp: missing required line")
	ErrBadLine         = errors.New("sdp: malformed line")
	ErrBadVersion      = errors.New("sdp: version must be 0")
	ErrIPMismatch      = errors.New("sdp: origin and connection addresses disagree")
	ErrNotBuildable    = errors.New("sdp: required fields missing")
)

// Default RTP/AVP format numbers both peers agree on. These are carried
// on the m= lines and match the payload types stamped on RTP packets.
const (
	DefaultAudioFormat = "7"
	DefaultVideoFormat = "1"
)

// Session is a negotiated media description. Ports of zero mean the medium
// was not offered.
type Session struct {
	Version     int
	SessionID   string
	IP          string
	AudioPort   int
	AudioFormat string
	VideoPort   int
	VideoFormat string
}

// Parse decodes a session description. It requires v=, o=, c= and at least
// one m= line, rejects any version other than 0, and insists the o= and c=
// addresses agree.
func Parse(body string) (*Session, error) {
	s := &Session{}
	seen := map[byte]bool{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || len(key) != 1 || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadLine, line)
		}
		k := strings.ToLower(key)[0]
		seen[k] = true
		switch k {
		case 'v':
			v, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrBadLine, line)
			}
			if v != 0 {
				return nil, ErrBadVersion
			}
			s.Version = v
		case 'o':
			fields := strings.Fields(value)
			if len(fields) != 5 {
				return nil, fmt.Errorf("%w: %q", ErrBadLine, line)
			}
			s.SessionID = fields[1]
			if err := s.setIP(fields[4]); err != nil {
				return nil, err
			}
		case 'c':
			fields := strings.Fields(value)
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: %q", ErrBadLine, line)
			}
			if err := s.setIP(fields[2]); err != nil {
				return nil, err
			}
		case 'm':
			if err := s.parseMedia(value); err != nil {
				return nil, err
			}
		case 's', 't', 'a', 'b':
			// tolerated, carried by fuller implementations
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadLine, line)
		}
	}
	for _, req := range []byte{'v', 'o', 'c', 'm'} {
		if !seen[req] {
			return nil, fmt.Errorf("%w: %c=", ErrMissingRequired, req)
		}
	}
	return s, nil
}

func (s *Session) setIP(ip string) error {
	if s.IP == "" {
		s.IP = ip
		return nil
	}
	if s.IP != ip {
		return ErrIPMismatch
	}
	return nil
}

func (s *Session) parseMedia(value string) error {
	fields := strings.Fields(value)
	if len(fields) < 4 {
		return fmt.Errorf("%w: m=%q", ErrBadLine, value)
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("%w: m=%q", ErrBadLine, value)
	}
	format := strings.Join(fields[3:], " ")
	switch fields[0] {
	case "audio":
		s.AudioPort = port
		s.AudioFormat = format
	case "video":
		s.VideoPort = port
		s.VideoFormat = format
	}
	return nil
}

// Marshal serializes the session in the canonical line order. At least one
// medium must be present.
func (s *Session) Marshal() (string, error) {
	if s.Version != 0 || s.SessionID == "" || s.IP == "" {
		return "", ErrNotBuildable
	}
	if s.AudioPort == 0 && s.VideoPort == 0 {
		return "", ErrNotBuildable
	}
	// A port without a format (or the reverse) would serialize to a body
	// the counterpart cannot parse back.
	if (s.AudioPort != 0) != (s.AudioFormat != "") || (s.VideoPort != 0) != (s.VideoFormat != "") {
		return "", ErrNotBuildable
	}
	lines := []string{
		fmt.Sprintf("v=%d", s.Version),
		fmt.Sprintf("o=- %s IN IP4 %s", s.SessionID, s.IP),
		fmt.Sprintf("c=IN IP4 %s", s.IP),
	}
	if s.AudioPort != 0 {
		lines = append(lines, fmt.Sprintf("m=audio %d RTP/AVP %s", s.AudioPort, s.AudioFormat))
	}
	if s.VideoPort != 0 {
		lines = append(lines, fmt.Sprintf("m=video %d RTP/AVP %s", s.VideoPort, s.VideoFormat))
	}
	return strings.Join(lines, "\n"), nil
}

const sessionIDDigits = 16

// GenerateSessionID returns a fresh numeric session identifier.
func GenerateSessionID() string {
	var b strings.Builder
	for i := 0; i < sessionIDDigits; i++ {
		b.WriteByte(byte('0' + rand.Intn(10)))
	}
	return b.String()
}
