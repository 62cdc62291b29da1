package convai

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ── Message types (incoming) ──────────────────────────────────────────────────

const (
	typeInitiationMetadata     = "conversation_initiation_metadata"
	typeInterruption           = "interruption"
	typeAgentResponse          = "agent_response"
	typeUserTranscript         = "user_transcript"
	typeTentativeAgentResponse = "internal_tentative_agent_response"
	typeAudio                  = "audio"
	typePing                   = "ping"
	typePong                   = "pong"
)

type initiationMetadata struct {
	ConversationID         string `json:"conversation_id"`
	AgentOutputAudioFormat string `json:"agent_output_audio_format"`
	UserInputAudioFormat   string `json:"user_input_audio_format,omitempty"`
}

type eventID struct {
	EventID int64 `json:"event_id"`
}

type audioEvent struct {
	EventID     int64  `json:"event_id"`
	AudioBase64 string `json:"audio_base_64"`
}

type agentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type userTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

type tentativeAgentResponseEvent struct {
	TentativeAgentResponse string `json:"tentative_agent_response"`
}

type serverMessage struct {
	Type string `json:"type"`

	InitiationMetadata     *initiationMetadata          `json:"conversation_initiation_metadata_event,omitempty"`
	Interruption           *eventID                     `json:"interruption_event,omitempty"`
	AgentResponse          *agentResponseEvent          `json:"agent_response_event,omitempty"`
	UserTranscription      *userTranscriptionEvent      `json:"user_transcription_event,omitempty"`
	TentativeAgentResponse *tentativeAgentResponseEvent `json:"tentative_agent_response_internal_event,omitempty"`
	Audio                  *audioEvent                  `json:"audio_event,omitempty"`
	Ping                   *eventID                     `json:"ping_event,omitempty"`
}

// ── Message types (outgoing) ──────────────────────────────────────────────────

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

// ── Events ────────────────────────────────────────────────────────────────────

// ErrProtocolViolation marks a message that could not be interpreted.
var ErrProtocolViolation = errors.New("convai: protocol violation")

// EventKind classifies a decoded inbound message.
type EventKind int

const (
	// EventAudio carries a chunk of agent speech.
	EventAudio EventKind = iota + 1

	// EventInterruption tells the client to drop agent audio up to EventID.
	EventInterruption

	// EventAgentResponse carries the final text of an agent turn.
	EventAgentResponse

	// EventUserTranscript carries the recognised user utterance.
	EventUserTranscript

	// EventTentativeAgentResponse carries a provisional agent turn.
	EventTentativeAgentResponse

	// EventPing must be answered with a pong echoing EventID.
	EventPing

	// EventUnknown is a well-formed message of a type this client does not
	// interpret.
	EventUnknown

	// EventProtocolViolation is a malformed message. Err describes it.
	EventProtocolViolation
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInterruption:
		return "interruption"
	case EventAgentResponse:
		return "agent_response"
	case EventUserTranscript:
		return "user_transcript"
	case EventTentativeAgentResponse:
		return "tentative_agent_response"
	case EventPing:
		return "ping"
	case EventUnknown:
		return "unknown"
	case EventProtocolViolation:
		return "protocol_violation"
	default:
		return "invalid"
	}
}

// Event is one decoded inbound message.
type Event struct {
	Kind EventKind

	// Seq is the receipt order on this connection, starting at 1.
	Seq uint64

	// Type is the raw "type" field of the message.
	Type string

	// EventID is set for audio, interruption and ping.
	EventID int64

	// Audio is the decoded PCM16 payload of an audio event.
	Audio []byte

	// Text is set for agent responses and transcripts.
	Text string

	// Err is set for protocol violations.
	Err error
}

// decodeEvent interprets one inbound frame. It never fails; malformed input
// becomes an EventProtocolViolation.
func decodeEvent(data []byte) Event {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return violation("", fmt.Errorf("%w: %v", ErrProtocolViolation, err))
	}

	switch msg.Type {
	case typeAudio:
		if msg.Audio == nil {
			return violation(msg.Type, fmt.Errorf("%w: audio message without audio_event", ErrProtocolViolation))
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio.AudioBase64)
		if err != nil {
			return violation(msg.Type, fmt.Errorf("%w: audio payload: %v", ErrProtocolViolation, err))
		}
		return Event{Kind: EventAudio, Type: msg.Type, EventID: msg.Audio.EventID, Audio: pcm}

	case typeInterruption:
		if msg.Interruption == nil {
			return violation(msg.Type, fmt.Errorf("%w: interruption without interruption_event", ErrProtocolViolation))
		}
		return Event{Kind: EventInterruption, Type: msg.Type, EventID: msg.Interruption.EventID}

	case typePing:
		if msg.Ping == nil {
			return violation(msg.Type, fmt.Errorf("%w: ping without ping_event", ErrProtocolViolation))
		}
		return Event{Kind: EventPing, Type: msg.Type, EventID: msg.Ping.EventID}

	case typeAgentResponse:
		if msg.AgentResponse == nil {
			return violation(msg.Type, fmt.Errorf("%w: agent_response without agent_response_event", ErrProtocolViolation))
		}
		return Event{Kind: EventAgentResponse, Type: msg.Type, Text: msg.AgentResponse.AgentResponse}

	case typeUserTranscript:
		if msg.UserTranscription == nil {
			return violation(msg.Type, fmt.Errorf("%w: user_transcript without user_transcription_event", ErrProtocolViolation))
		}
		return Event{Kind: EventUserTranscript, Type: msg.Type, Text: msg.UserTranscription.UserTranscript}

	case typeTentativeAgentResponse:
		var text string
		if msg.TentativeAgentResponse != nil {
			text = msg.TentativeAgentResponse.TentativeAgentResponse
		}
		return Event{Kind: EventTentativeAgentResponse, Type: msg.Type, Text: text}

	case "":
		return violation("", fmt.Errorf("%w: message without type", ErrProtocolViolation))

	default:
		return Event{Kind: EventUnknown, Type: msg.Type}
	}
}

func violation(typ string, err error) Event {
	return Event{Kind: EventProtocolViolation, Type: typ, Err: err}
}

// ParseAudioFormat extracts the sample rate from a "pcm_<rate>" format name.
func ParseAudioFormat(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("%w: unsupported audio format %q", ErrProtocolViolation, format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%w: invalid sample rate in %q", ErrProtocolViolation, format)
	}
	return rate, nil
}
