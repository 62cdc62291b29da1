// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer turns one reply into a stream of mono PCM16 chunks at a fixed
// sample rate, so playback and the avatar can start before synthesis ends.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"strconv"
	"strings"
)

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize starts synthesis of text and returns a channel of
	// little-endian PCM16 mono chunks. The channel is closed when synthesis
	// is complete, fails, or ctx is cancelled; callers distinguish
	// cancellation through ctx.Err().
	//
	// A non-nil error means the stream could not be started.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)

	// SampleRate is the rate of the PCM emitted by Synthesize.
	SampleRate() int
}

// RateFromFormat parses an output format name of the form "pcm_<rate>" and
// returns the rate, or 0 if the name does not carry one.
func RateFromFormat(format string) int {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
