package sipmsg

// NewRequest assembles a request with the required headers filled in. The
// request URI doubles as the to header, matching how the proxy routes.
func NewRequest(method Method, toURI, fromURI, callID string, seq int, body string) *Request {
	req := &Request{
		Method:  method,
		URI:     toURI,
		Version: Version,
		Headers: Headers{
			To:     toURI,
			From:   fromURI,
			CallID: callID,
			CSeq:   CSeq{Seq: seq, Method: method},
			Extra:  make(map[string]string),
		},
	}
	if body != "" {
		req.SetBody(body)
	}
	return req
}

// NewResponseFromRequest builds a response that mirrors the request's
// dialog identity: the request's from becomes the response's to, and the
// responder names itself in from.
func NewResponseFromRequest(req *Request, code StatusCode, fromURI string) *Response {
	res := &Response{
		Code:    code,
		Version: req.Version,
		Headers: Headers{
			To:     req.Headers.From,
			From:   fromURI,
			CallID: req.Headers.CallID,
			CSeq:   req.Headers.CSeq,
			Extra:  make(map[string]string),
		},
	}
	return res
}

// NewResponse builds a response from scratch, for server-originated
// notifications that have no triggering request in hand.
func NewResponse(code StatusCode, method Method, seq int, toURI, fromURI, callID string) *Response {
	return &Response{
		Code:    code,
		Version: Version,
		Headers: Headers{
			To:     toURI,
			From:   fromURI,
			CallID: callID,
			CSeq:   CSeq{Seq: seq, Method: method},
			Extra:  make(map[string]string),
		},
	}
}
