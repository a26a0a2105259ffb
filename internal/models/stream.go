package models

// WebSocket close codes the client cares about (RFC 6455 section 7.4.1).
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
)

// StreamEventType enumerates what a stream handle can emit.
type StreamEventType int

const (
	StreamOpened StreamEventType = iota + 1
	StreamMessage
	StreamClosed
	StreamError
)

func (t StreamEventType) String() string {
	switch t {
	case StreamOpened:
		return "open"
	case StreamMessage:
		return "message"
	case StreamClosed:
		return "close"
	case StreamError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is one lifecycle or data event from a stream handle.
//
// Data is set for StreamMessage, Code and Clean for StreamClosed, Err for
// StreamError. A handle emits StreamClosed at most once and then closes its
// event channel.
type StreamEvent struct {
	Type  StreamEventType
	Data  []byte
	Code  int
	Clean bool
	Err   error
}
