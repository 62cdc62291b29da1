package pushtotalk

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxface/pkg/audio"
)

// DefaultMaxClip bounds a single recording.
const DefaultMaxClip = 60 * time.Second

// Recorder accumulates capture frames between [Recorder.Begin] and
// [Recorder.Finish]. Frames that arrive while not recording are dropped.
// Safe for concurrent use.
type Recorder struct {
	rate     int
	maxBytes int

	mu        sync.Mutex
	recording bool
	buf       []byte
	truncated bool
}

// NewRecorder returns a Recorder for mono PCM16 at rate. maxClip <= 0
// selects [DefaultMaxClip]; audio past the limit is discarded.
func NewRecorder(rate int, maxClip time.Duration) *Recorder {
	if maxClip <= 0 {
		maxClip = DefaultMaxClip
	}
	return &Recorder{
		rate:     rate,
		maxBytes: audio.SamplesPerFrame(rate, maxClip) * 2,
	}
}

// Begin starts a new recording, discarding anything not yet finished.
func (r *Recorder) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.buf = r.buf[:0]
	r.truncated = false
}

// Recording reports whether Begin was called without a matching Finish.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Add appends f if a recording is in progress. f must already be mono at the
// recorder's rate.
func (r *Recorder) Add(f audio.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	room := r.maxBytes - len(r.buf)
	if room <= 0 {
		r.truncated = true
		return
	}
	data := f.Data
	if len(data) > room {
		data = data[:room&^1]
		r.truncated = true
	}
	r.buf = append(r.buf, data...)
}

// Finish stops recording and returns the clip. truncated reports whether
// audio past the limit was dropped.
func (r *Recorder) Finish() (clip audio.Frame, truncated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	data := make([]byte, len(r.buf))
	copy(data, r.buf)
	r.buf = r.buf[:0]
	return audio.Frame{Data: data, SampleRate: r.rate, Channels: 1}, r.truncated
}

// Run feeds frames into the recorder until frames is closed or ctx is done.
func (r *Recorder) Run(ctx context.Context, frames <-chan audio.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			r.Add(f)
		}
	}
}
