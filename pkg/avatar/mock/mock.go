// Package mock provides a test double for the avatar.Renderer interface.
//
// Renderer records every audio chunk and clear request so tests can assert
// the order in which a forwarder talks to the avatar service. Push delivers
// renderer events to whoever is reading Events().
//
// Example:
//
//	r := mock.NewRenderer()
//	fwd := avatar.NewForwarder(r)
//	fwd.Write(pcm)
//	calls := r.Calls()
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxface/pkg/avatar"
)

var _ avatar.Renderer = (*Renderer)(nil)

// Call is one recorded renderer operation. Clear is true for ClearBuffer;
// otherwise Audio holds the sent chunk.
type Call struct {
	Audio []byte
	Clear bool
}

// Renderer is a mock implementation of avatar.Renderer.
type Renderer struct {
	mu sync.Mutex

	// SendError, if non-nil, is returned from SendAudio.
	SendError error

	// ClearError, if non-nil, is returned from ClearBuffer.
	ClearError error

	// CloseError, if non-nil, is returned from Close.
	CloseError error

	calls          []Call
	callCountClose int
	events         chan avatar.Event
	closed         bool
}

// NewRenderer returns a Renderer with a buffered event channel.
func NewRenderer() *Renderer {
	return &Renderer{events: make(chan avatar.Event, 16)}
}

// SendAudio implements avatar.Renderer.
func (r *Renderer) SendAudio(_ context.Context, pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendError != nil {
		return r.SendError
	}
	r.calls = append(r.calls, Call{Audio: slices.Clone(pcm)})
	return nil
}

// ClearBuffer implements avatar.Renderer.
func (r *Renderer) ClearBuffer(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ClearError != nil {
		return r.ClearError
	}
	r.calls = append(r.calls, Call{Clear: true})
	return nil
}

// Events implements avatar.Renderer.
func (r *Renderer) Events() <-chan avatar.Event { return r.events }

// Push delivers e on the event channel. It is a no-op after Close.
func (r *Renderer) Push(e avatar.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events <- e
}

// Close implements avatar.Renderer. The event channel is closed on the first
// call.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callCountClose++
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	return r.CloseError
}

// Calls returns a copy of all recorded operations in order.
func (r *Renderer) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Chunks returns only the recorded audio chunks.
func (r *Renderer) Chunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, c := range r.calls {
		if !c.Clear {
			out = append(out, c.Audio)
		}
	}
	return out
}

// CallCountClose returns how many times Close was called.
func (r *Renderer) CallCountClose() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callCountClose
}

// Reset clears all recorded calls.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
