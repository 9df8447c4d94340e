package session

import "github.com/danmuck/profpipe/internal/protocol"

// State is a connection's position in the negotiation.
type State int

const (
	StateAwaitingMetadata State = iota
	StateAwaitingDirectory
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingMetadata:
		return "awaiting_metadata"
	case StateAwaitingDirectory:
		return "awaiting_directory"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Activity is the protocol side effect a packet triggers.
type Activity int

const (
	ActivityUnknown Activity = iota
	ActivityStreamMetadata
	ActivityCounterDirectory
)

// Classify maps a header code to its activity. Only the two control codes
// are recognised; everything else is payload for handlers.
func Classify(header uint32) Activity {
	switch header {
	case protocol.HeaderStreamMetadata:
		return ActivityStreamMetadata
	case protocol.HeaderCounterDirectory:
		return ActivityCounterDirectory
	default:
		return ActivityUnknown
	}
}
