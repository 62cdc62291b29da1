// Package avatar forwards agent speech to a lip-sync avatar renderer.
//
// A [Renderer] is the remote video service: it accepts raw PCM16 in order,
// can drop whatever it has buffered, and reports its connection state on an
// event channel. The [Forwarder] sits between the conversation and the
// renderer: it re-chunks arbitrary PCM writes into fixed-size chunks and
// sends them from its own goroutine so callers never block on the network.
package avatar

import (
	"context"
	"errors"
)

// ErrRenderer wraps failures reported by a renderer.
var ErrRenderer = errors.New("avatar: renderer failure")

// ErrClosed is returned by operations on a closed forwarder or renderer.
var ErrClosed = errors.New("avatar: closed")

// EventKind classifies renderer events.
type EventKind int

const (
	// EventConnected is sent once the renderer is ready for audio.
	EventConnected EventKind = iota + 1

	// EventDisconnected is sent when the renderer connection ends.
	EventDisconnected

	// EventError reports a renderer-side error. The connection may survive.
	EventError

	// EventMessage carries an informational text message from the renderer.
	EventMessage
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a renderer state change.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Renderer is a remote avatar that plays PCM16 audio with lip-sync.
//
// Implementations must be safe for concurrent use. Events returns the same
// channel on every call; it is closed after Close or once the connection is
// gone.
type Renderer interface {
	SendAudio(ctx context.Context, pcm []byte) error
	ClearBuffer(ctx context.Context) error
	Events() <-chan Event
	Close() error
}
