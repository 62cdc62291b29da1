// Package stt defines the Transcriber interface for batch speech-to-text
// backends.
//
// A Transcriber turns one finished clip of speech into text. It is used by
// the push-to-talk pipeline, where the user's utterance is recorded
// completely before it is sent anywhere; streaming recognition is the job of
// the conversational endpoint and does not go through this package.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/voxface/pkg/audio"
)

// ErrEmptyClip is returned by Transcribe for a clip without samples.
var ErrEmptyClip = errors.New("stt: empty clip")

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in clip. clip must be mono PCM16;
	// its SampleRate is forwarded to the backend. An empty result with a nil
	// error means the backend heard nothing intelligible.
	Transcribe(ctx context.Context, clip audio.Frame) (string, error)
}
