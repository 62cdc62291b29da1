// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "hello"}
//	text, _ := tr.Transcribe(ctx, clip)
//	calls := tr.Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/provider/stt"
)

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Block, if non-nil, is waited on before Transcribe returns. Closing it
	// releases all pending calls; a cancelled ctx returns ctx.Err().
	Block chan struct{}

	calls []audio.Frame
}

// Transcribe records clip and returns Text, Err.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Frame) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, clip)
	block := t.Block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Text, t.Err
}

// Calls returns the clips passed to Transcribe so far.
func (t *Transcriber) Calls() []audio.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]audio.Frame(nil), t.calls...)
}

// Reset clears all recorded calls.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}
