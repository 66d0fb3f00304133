package sipmsg

// Method is a SIP request method accepted by this stack.
type Method string

const (
	MethodRegister Method = "REGISTER"
	MethodInvite   Method = "INVITE"
	MethodAck      Method = "ACK"
	MethodBye      Method = "BYE"
	MethodCancel   Method = "CANCEL"
	MethodOptions  Method = "OPTIONS"
)

// knownMethods is the subset of RFC 3261 methods this stack handles.
var knownMethods = map[Method]bool{
	MethodRegister: true,
	MethodInvite:   true,
	MethodAck:      true,
	MethodBye:      true,
	MethodCancel:   true,
	MethodOptions:  true,
}

// IsKnownMethod reports whether m is one of the methods the stack accepts.
func IsKnownMethod(m Method) bool {
	return knownMethods[m]
}

// StatusCode is a SIP response status code.
type StatusCode int

const (
	StatusTrying              StatusCode = 100
	StatusRinging             StatusCode = 180
	StatusOK                  StatusCode = 200
	StatusBadRequest          StatusCode = 400
	StatusUnauthorized        StatusCode = 401
	StatusForbidden           StatusCode = 403
	StatusNotFound            StatusCode = 404
	StatusMethodNotAllowed    StatusCode = 405
	StatusRequestTerminated   StatusCode = 487
	StatusBadGateway          StatusCode = 502
	StatusServiceUnavailable  StatusCode = 503
	StatusVersionNotSupported StatusCode = 505
	StatusDecline             StatusCode = 603
	StatusDoesNotExist        StatusCode = 604
	StatusNotAcceptable       StatusCode = 606
)

var reasonPhrases = map[StatusCode]string{
	StatusTrying:              "Trying",
	StatusRinging:             "Ringing",
	StatusOK:                  "OK",
	StatusBadRequest:          "Bad Request",
	StatusUnauthorized:        "Unauthorized",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	StatusRequestTerminated:   "Request Terminated",
	StatusBadGateway:          "Bad Gateway",
	StatusServiceUnavailable:  "Service Unavailable",
	StatusVersionNotSupported: "Version Not Supported",
	StatusDecline:             "Decline",
	StatusDoesNotExist:        "Does Not Exist Anywhere",
	StatusNotAcceptable:       "Not Acceptable",
}

// Reason returns the canonical reason phrase for the code, or an empty
// string for codes this stack never emits.
func (c StatusCode) Reason() string {
	return reasonPhrases[c]
}

// CallState tracks where a dialog is in its lifecycle. Shared by the
// registrar and the user agent so both sides walk the same machine.
type CallState string

const (
	StateWaitingAuth  CallState = "WAITING_AUTH"
	StateTrying       CallState = "TRYING"
	StateRinging      CallState = "RINGING"
	StateWaitingAck   CallState = "WAITING_ACK"
	StateInCall       CallState = "IN_CALL"
	StateWaitingBye   CallState = "WAITING_BYE"
	StateInitCancel   CallState = "INIT_CANCEL"
	StateTryingCancel CallState = "TRYING_CANCEL"
)

// CallType distinguishes the two dialog kinds tracked in the call table.
type CallType string

const (
	CallTypeRegister CallType = "REGISTER"
	CallTypeInvite   CallType = "INVITE"
)
