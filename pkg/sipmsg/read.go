package sipmsg

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrHeaderTooLarge = errors.New("sipmsg: header section exceeds cap")
	ErrBodyTooLarge   = errors.New("sipmsg: declared body exceeds cap")
)

// ReadMessage reads exactly one SIP message off a streaming connection in
// the protocol's two stages: accumulate bytes until the CRLFCRLF header
// terminator (bounded by maxHeaderBytes), then, if content-length is
// positive, read exactly that many body bytes (bounded by maxBodyBytes).
// Exceeding either cap is a parse failure.
func ReadMessage(r io.Reader, maxHeaderBytes, maxBodyBytes int) (Message, error) {
	head, err := readHeaderSection(r, maxHeaderBytes)
	if err != nil {
		return nil, err
	}
	msg, err := parseMessage(head)
	if err != nil {
		return nil, err
	}
	cl := msg.Hdr().ContentLength
	if cl == 0 {
		return msg, nil
	}
	if cl > maxBodyBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, cl, maxBodyBytes)
	}
	body := make([]byte, cl)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("sipmsg: short body read: %w", err)
	}
	switch m := msg.(type) {
	case *Request:
		m.Body = string(body)
	case *Response:
		m.Body = string(body)
	}
	return msg, nil
}

// readHeaderSection consumes one byte at a time so nothing past the
// terminator is stolen from the stream.
func readHeaderSection(r io.Reader, maxBytes int) (string, error) {
	var b strings.Builder
	buf := make([]byte, 1)
	for b.Len() < maxBytes {
		if _, err := r.Read(buf); err != nil {
			return "", err
		}
		b.WriteByte(buf[0])
		if strings.HasSuffix(b.String(), "\r\n\r\n") {
			return b.String(), nil
		}
	}
	return "", ErrHeaderTooLarge
}
