package pushtotalk

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/MrWong99/voxface/pkg/audio"
)

func frame(b byte, samples int) audio.Frame {
	return audio.Frame{Data: bytes.Repeat([]byte{b, 0}, samples), SampleRate: 16000, Channels: 1}
}

func TestRecorder_OnlyWhileRecording(t *testing.T) {
	r := NewRecorder(16000, 0)

	r.Add(frame(1, 160))
	r.Begin()
	if !r.Recording() {
		t.Fatal("Recording = false after Begin")
	}
	r.Add(frame(2, 160))
	r.Add(frame(3, 160))
	clip, truncated := r.Finish()
	r.Add(frame(4, 160))

	if r.Recording() {
		t.Error("Recording = true after Finish")
	}
	if truncated {
		t.Error("unexpected truncation")
	}
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Errorf("clip format = %d Hz x %d", clip.SampleRate, clip.Channels)
	}
	want := append(frame(2, 160).Data, frame(3, 160).Data...)
	if !bytes.Equal(clip.Data, want) {
		t.Errorf("clip holds %d bytes, want the two recorded frames (%d bytes)", len(clip.Data), len(want))
	}
}

func TestRecorder_BeginDiscardsUnfinished(t *testing.T) {
	r := NewRecorder(16000, 0)
	r.Begin()
	r.Add(frame(1, 160))
	r.Begin()
	r.Add(frame(2, 160))
	clip, _ := r.Finish()
	if !bytes.Equal(clip.Data, frame(2, 160).Data) {
		t.Error("clip kept audio from before the second Begin")
	}
}

func TestRecorder_Truncates(t *testing.T) {
	r := NewRecorder(16000, 15*time.Millisecond) // 240 samples
	r.Begin()
	r.Add(frame(1, 160))
	r.Add(frame(2, 160))
	r.Add(frame(3, 160))
	clip, truncated := r.Finish()
	if !truncated {
		t.Error("expected truncation")
	}
	if got := clip.Duration(); got != 15*time.Millisecond {
		t.Errorf("clip duration = %v, want 15ms", got)
	}
}

func TestRecorder_FinishReturnsCopy(t *testing.T) {
	r := NewRecorder(16000, 0)
	r.Begin()
	r.Add(frame(1, 10))
	clip, _ := r.Finish()
	r.Begin()
	r.Add(frame(9, 10))
	if clip.Data[0] != 1 {
		t.Error("finished clip was overwritten by the next recording")
	}
}

func TestRecorder_Run(t *testing.T) {
	r := NewRecorder(16000, 0)
	r.Begin()

	frames := make(chan audio.Frame, 2)
	frames <- frame(1, 160)
	frames <- frame(2, 160)
	close(frames)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), frames)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after frames closed")
	}
	clip, _ := r.Finish()
	if got := clip.Duration(); got != 20*time.Millisecond {
		t.Errorf("clip duration = %v, want 20ms", got)
	}
}
