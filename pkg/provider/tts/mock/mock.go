// Package mock provides a test double for the tts.Synthesizer interface.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{pcmA, pcmB}, Rate: 16000}
//	ch, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxface/pkg/provider/tts"
)

// Ensure Provider implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Provider)(nil)

// Provider is a mock implementation of tts.Synthesizer.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted in order on the channel returned by Synthesize.
	Chunks [][]byte

	// Err, if non-nil, is returned by Synthesize instead of a channel.
	Err error

	// Rate is returned by SampleRate. Zero means 16000.
	Rate int

	texts []string
}

// Synthesize records text and returns a channel that emits Chunks.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// SampleRate implements tts.Synthesizer.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Texts returns the text passed to each Synthesize call so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = nil
}
