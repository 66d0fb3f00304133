// Package signup implements the enrollment service: a framed TCP protocol
// where the server publishes an RSA public key, the client answers with an
// RSA-OAEP-wrapped AES-256 session key, and the credentials travel inside
// AES-GCM frames.
package signup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Every frame on the wire is a 4-byte big-endian length followed by that
// many bytes.
const maxFrameBytes = 64 * 1024

var ErrFrameTooLarge = errors.New("signup: frame exceeds size cap")

// WriteFrame sends one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameBytes {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("signup: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("signup: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("signup: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("signup: read frame body: %w", err)
	}
	return payload, nil
}
