package sipmsg

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Version is the only SIP version this stack speaks.
const Version = "SIP/2.0"

var (
	ErrNoTerminator     = errors.New("sipmsg: header section not terminated by CRLFCRLF")
	ErrBadStartLine     = errors.New("sipmsg: malformed start line")
	ErrBadHeader        = errors.New("sipmsg: malformed header line")
	ErrEmptyHeaderValue = errors.New("sipmsg: empty header value")
	ErrBadCSeq          = errors.New("sipmsg: malformed cseq header")
	ErrBadContentLength = errors.New("sipmsg: content-length does not match body")
	ErrNotBuildable     = errors.New("sipmsg: required start line fields missing")
)

var (
	requestStartLine  = regexp.MustCompile(`^[A-Z]+ sip:\S+ SIP/\d\.\d$`)
	responseStartLine = regexp.MustCompile(`^SIP/\d\.\d \d+ .+$`)
)

// CSeq is the parsed form of the cseq header: sequence number plus the
// method it numbers.
type CSeq struct {
	Seq    int
	Method Method
}

func (c CSeq) String() string {
	return fmt.Sprintf("%d %s", c.Seq, c.Method)
}

// Headers holds the required headers in typed form and everything else in
// Extra, keyed by lowercased name. To and From are stored stripped down to
// the bare user@host form.
type Headers struct {
	To            string
	From          string
	CallID        string
	CSeq          CSeq
	ContentLength int
	Extra         map[string]string
}

// Get returns a non-required header by its lowercased name.
func (h *Headers) Get(key string) string {
	if h.Extra == nil {
		return ""
	}
	return h.Extra[key]
}

// Set stores a non-required header under its lowercased name.
func (h *Headers) Set(key, value string) {
	if h.Extra == nil {
		h.Extra = make(map[string]string)
	}
	h.Extra[strings.ToLower(key)] = value
}

// HasRequired reports whether to, from, call-id and cseq are all present.
// content-length defaults to zero, so absence there is not an error.
func (h *Headers) HasRequired() bool {
	return h.To != "" && h.From != "" && h.CallID != "" && h.CSeq.Method != ""
}

// MissingRequired names the required headers that are absent, for error
// response annotations.
func (h *Headers) MissingRequired() []string {
	var missing []string
	if h.To == "" {
		missing = append(missing, "to")
	}
	if h.From == "" {
		missing = append(missing, "from")
	}
	if h.CallID == "" {
		missing = append(missing, "call-id")
	}
	if h.CSeq.Method == "" {
		missing = append(missing, "cseq")
	}
	return missing
}

// Message is either a *Request or a *Response.
type Message interface {
	Marshal() ([]byte, error)
	Hdr() *Headers
	GetBody() string
}

// Request is a parsed SIP request.
type Request struct {
	Method  Method
	URI     string
	Version string
	Headers Headers
	Body    string
}

// Response is a parsed SIP response.
type Response struct {
	Code    StatusCode
	Version string
	Headers Headers
	Body    string
}

func (r *Request) Hdr() *Headers  { return &r.Headers }
func (r *Response) Hdr() *Headers { return &r.Headers }

func (r *Request) GetBody() string  { return r.Body }
func (r *Response) GetBody() string { return r.Body }

// SetBody installs the body and keeps content-length in lock step.
func (r *Request) SetBody(body string) {
	r.Body = body
	r.Headers.ContentLength = len(body)
}

// SetBody installs the body and keeps content-length in lock step.
func (r *Response) SetBody(body string) {
	r.Body = body
	r.Headers.ContentLength = len(body)
}

// IsRequest reports whether the raw message is a request, judged by its
// start line the way the wire protocol defines it.
func IsRequest(raw string) bool {
	return !strings.HasPrefix(raw, "SIP")
}

// Parse decodes one complete SIP message: header section terminated by
// CRLFCRLF plus an optional body whose length must agree with
// content-length.
func Parse(raw string) (Message, error) {
	msg, err := parseMessage(raw)
	if err != nil {
		return nil, err
	}
	if msg.Hdr().ContentLength != len(msg.GetBody()) {
		return nil, ErrBadContentLength
	}
	return msg, nil
}

// parseMessage decodes a message without enforcing that content-length
// matches the body: the streaming reader parses the header section before
// the body has arrived.
func parseMessage(raw string) (Message, error) {
	head, body, found := strings.Cut(raw, "\r\n\r\n")
	if !found {
		return nil, ErrNoTerminator
	}
	lines := strings.Split(head, "\r\n")
	hdrs, err := parseHeaderLines(lines[1:])
	if err != nil {
		return nil, err
	}

	if IsRequest(raw) {
		req := &Request{Headers: hdrs, Body: body}
		if err := req.parseStartLine(lines[0]); err != nil {
			return nil, err
		}
		return req, nil
	}
	res := &Response{Headers: hdrs, Body: body}
	if err := res.parseStartLine(lines[0]); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Request) parseStartLine(line string) error {
	if !requestStartLine.MatchString(line) {
		return fmt.Errorf("%w: %q", ErrBadStartLine, line)
	}
	parts := strings.Split(line, " ")
	r.Method = Method(parts[0])
	r.URI = strings.TrimPrefix(parts[1], "sip:")
	r.Version = parts[2]
	return nil
}

func (r *Response) parseStartLine(line string) error {
	if !responseStartLine.MatchString(line) {
		return fmt.Errorf("%w: %q", ErrBadStartLine, line)
	}
	parts := strings.SplitN(line, " ", 3)
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadStartLine, line)
	}
	r.Version = parts[0]
	r.Code = StatusCode(code)
	return nil
}

func parseHeaderLines(lines []string) (Headers, error) {
	hdrs := Headers{Extra: make(map[string]string)}
	for _, line := range lines {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return hdrs, fmt.Errorf("%w: %q", ErrBadHeader, line)
		}
		key = strings.ToLower(key)
		if strings.TrimSpace(value) == "" {
			return hdrs, fmt.Errorf("%w: %q", ErrEmptyHeaderValue, key)
		}
		switch key {
		case "to":
			hdrs.To = stripURI(value)
		case "from":
			hdrs.From = stripURI(value)
		case "call-id":
			hdrs.CallID = value
		case "cseq":
			cseq, err := parseCSeq(value)
			if err != nil {
				return hdrs, err
			}
			hdrs.CSeq = cseq
		case "content-length":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return hdrs, fmt.Errorf("%w: %q", ErrBadHeader, line)
			}
			hdrs.ContentLength = n
		default:
			hdrs.Extra[key] = value
		}
	}
	return hdrs, nil
}

// stripURI reduces the wire form <sip:user@host> to the bare user@host
// stored internally.
func stripURI(v string) string {
	if strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">") {
		v = v[1 : len(v)-1]
	}
	return strings.TrimPrefix(v, "sip:")
}

// wrapURI is the inverse of stripURI.
func wrapURI(v string) string {
	return "<sip:" + v + ">"
}

func parseCSeq(v string) (CSeq, error) {
	parts := strings.Fields(v)
	if len(parts) != 2 {
		return CSeq{}, fmt.Errorf("%w: %q", ErrBadCSeq, v)
	}
	seq, err := strconv.Atoi(parts[0])
	if err != nil {
		return CSeq{}, fmt.Errorf("%w: %q", ErrBadCSeq, v)
	}
	return CSeq{Seq: seq, Method: Method(strings.ToUpper(parts[1]))}, nil
}

// Marshal serializes the request back to its wire form.
func (r *Request) Marshal() ([]byte, error) {
	if r.Method == "" || r.URI == "" || r.Version == "" {
		return nil, ErrNotBuildable
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s sip:%s %s\r\n", r.Method, r.URI, r.Version)
	writeHeaders(&b, &r.Headers)
	b.WriteString(r.Body)
	return []byte(b.String()), nil
}

// Marshal serializes the response back to its wire form.
func (r *Response) Marshal() ([]byte, error) {
	if r.Code == 0 || r.Version == "" {
		return nil, ErrNotBuildable
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\r\n", r.Version, r.Code, r.Code.Reason())
	writeHeaders(&b, &r.Headers)
	b.WriteString(r.Body)
	return []byte(b.String()), nil
}

func writeHeaders(b *strings.Builder, h *Headers) {
	if h.To != "" {
		fmt.Fprintf(b, "to: %s\r\n", wrapURI(h.To))
	}
	if h.From != "" {
		fmt.Fprintf(b, "from: %s\r\n", wrapURI(h.From))
	}
	if h.CallID != "" {
		fmt.Fprintf(b, "call-id: %s\r\n", h.CallID)
	}
	if h.CSeq.Method != "" {
		fmt.Fprintf(b, "cseq: %s\r\n", h.CSeq.String())
	}
	fmt.Fprintf(b, "content-length: %d\r\n", h.ContentLength)

	keys := make([]string, 0, len(h.Extra))
	for k := range h.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %s\r\n", k, h.Extra[k])
	}
	b.WriteString("\r\n")
}
