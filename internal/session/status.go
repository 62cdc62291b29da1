package session

// Status is the connection lifecycle of a [Conversation]. The only legal
// path is Connecting → Connected → Disconnecting → Disconnected, with a jump
// to Disconnected from any state on failure.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Mode reflects whose audio is authoritative on the output path.
type Mode int32

const (
	ModeListening Mode = iota
	ModeSpeaking
	ModeInterrupted
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeListening:
		return "listening"
	case ModeSpeaking:
		return "speaking"
	case ModeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Source identifies the speaker of a transcript.
type Source string

const (
	SourceUser Source = "user"
	SourceAI   Source = "ai"
)

// Transcript is one finalised utterance.
type Transcript struct {
	Source Source
	Text   string
}

// Debug carries protocol traffic that has no dedicated handler: tentative
// agent responses, unknown message types and protocol violations.
type Debug struct {
	Type string
	Text string
	Err  error
}
