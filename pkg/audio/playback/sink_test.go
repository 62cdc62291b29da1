package playback_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/audio/mock"
	"github.com/MrWong99/voxface/pkg/audio/playback"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func frame(rate int, samples ...int16) audio.Frame {
	return audio.FrameFromSamples(samples, rate)
}

func TestSink_FIFOAcrossFrames(t *testing.T) {
	s := playback.New(16000)
	s.Enqueue(frame(16000, 1, 2, 3))
	s.Enqueue(frame(16000, 4, 5))

	out := make([]int16, 4)
	if n := s.Fill(out); n != 4 {
		t.Fatalf("Fill consumed %d, want 4", n)
	}
	want := []int16{1, 2, 3, 4}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}

	out = make([]int16, 4)
	if n := s.Fill(out); n != 1 {
		t.Fatalf("second Fill consumed %d, want 1", n)
	}
	if out[0] != 5 || out[1] != 0 || out[3] != 0 {
		t.Errorf("out = %v, want [5 0 0 0]", out)
	}
}

func TestSink_IgnoresForeignRate(t *testing.T) {
	s := playback.New(16000)
	s.Enqueue(frame(24000, 1, 2, 3))
	if q := s.Queued(); q != 0 {
		t.Errorf("Queued = %v, want 0", q)
	}
}

func TestSink_Clear(t *testing.T) {
	s := playback.New(16000)
	s.Enqueue(frame(16000, 9, 9, 9, 9))
	out := make([]int16, 2)
	s.Fill(out) // leave the head frame half consumed
	s.Enqueue(frame(16000, 8, 8))

	s.Clear()

	if q := s.Queued(); q != 0 {
		t.Fatalf("Queued after Clear = %v, want 0", q)
	}
	out = make([]int16, 4)
	if n := s.Fill(out); n != 0 {
		t.Fatalf("Fill after Clear consumed %d, want 0", n)
	}
	for _, v := range out {
		if v != 0 {
			t.Fatalf("stale audio after Clear: %v", out)
		}
	}
	select {
	case <-s.Drained():
		t.Error("Clear must not signal drained")
	default:
	}
}

func TestSink_DrainedIsEdgeTriggered(t *testing.T) {
	s := playback.New(16000)
	out := make([]int16, 8)

	// Underrun without prior audio never signals.
	s.Fill(out)
	select {
	case <-s.Drained():
		t.Fatal("drained signalled without audio")
	default:
	}

	s.Enqueue(frame(16000, 1, 2, 3))
	s.Fill(out)
	select {
	case <-s.Drained():
	default:
		t.Fatal("expected drained signal after queue emptied")
	}

	// Further underruns do not re-signal.
	s.Fill(out)
	select {
	case <-s.Drained():
		t.Fatal("drained signalled twice for one utterance")
	default:
	}
}

func TestSink_Queued(t *testing.T) {
	s := playback.New(16000)
	s.Enqueue(audio.FrameFromSamples(make([]int16, 320), 16000))
	s.Enqueue(audio.FrameFromSamples(make([]int16, 160), 16000))
	if got := s.Queued(); got != 30*time.Millisecond {
		t.Errorf("Queued = %v, want 30ms", got)
	}
	s.Fill(make([]int16, 160))
	if got := s.Queued(); got != 20*time.Millisecond {
		t.Errorf("Queued after fill = %v, want 20ms", got)
	}
}

func TestSink_SetGain(t *testing.T) {
	s := playback.New(16000)
	s.SetGain(0.5)
	s.Enqueue(frame(16000, 1000, -1000))
	out := make([]int16, 2)
	s.Fill(out)
	if out[0] != 500 || out[1] != -500 {
		t.Errorf("out = %v, want [500 -500]", out)
	}

	s.SetGain(7)
	if g := s.Gain(); g != 1 {
		t.Errorf("gain clamped to %f, want 1", g)
	}
	s.SetGain(-1)
	if g := s.Gain(); g != 0 {
		t.Errorf("gain clamped to %f, want 0", g)
	}
}

func TestSink_FadeGainTo(t *testing.T) {
	clk := newFakeClock()
	s := playback.New(16000, playback.WithClock(clk.Now))

	s.FadeGainTo(0, 2*time.Second)
	if g := s.Gain(); g != 1 {
		t.Fatalf("gain at fade start = %f, want 1", g)
	}

	clk.Advance(500 * time.Millisecond)
	if g := s.Gain(); math.Abs(g-0.75) > 1e-9 {
		t.Errorf("gain at 25%% = %f, want 0.75", g)
	}

	clk.Advance(time.Second)
	if g := s.Gain(); math.Abs(g-0.25) > 1e-9 {
		t.Errorf("gain at 75%% = %f, want 0.25", g)
	}

	clk.Advance(time.Second)
	if g := s.Gain(); g != 0 {
		t.Errorf("gain after fade = %f, want 0", g)
	}
}

func TestSink_SetGainCancelsFade(t *testing.T) {
	clk := newFakeClock()
	s := playback.New(16000, playback.WithClock(clk.Now))
	s.FadeGainTo(0, 2*time.Second)
	clk.Advance(400 * time.Millisecond)

	s.SetGain(0.8)
	clk.Advance(5 * time.Second)
	if g := s.Gain(); g != 0.8 {
		t.Errorf("gain = %f, want 0.8 after cancelled fade", g)
	}
}

func TestSink_FadeAppliedWithinBlock(t *testing.T) {
	clk := newFakeClock()
	s := playback.New(1000, playback.WithClock(clk.Now))
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = 10000
	}
	s.Enqueue(audio.FrameFromSamples(samples, 1000))

	s.FadeGainTo(0, 100*time.Millisecond)
	out := make([]int16, 100) // exactly the fade length at 1 kHz
	s.Fill(out)

	if out[0] != 10000 {
		t.Errorf("first sample = %d, want 10000", out[0])
	}
	for i := 1; i < len(out); i++ {
		if out[i] > out[i-1] {
			t.Fatalf("fade not monotonic at %d: %d > %d", i, out[i], out[i-1])
		}
	}
	if out[99] > 200 {
		t.Errorf("last sample = %d, want near silence", out[99])
	}
}

func TestSink_Level(t *testing.T) {
	s := playback.New(16000)
	s.Enqueue(frame(16000, 16384, -16384, 16384, -16384))
	s.Fill(make([]int16, 4))
	if got := s.Level(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Level = %f, want 0.5", got)
	}
	s.Fill(make([]int16, 4))
	if got := s.Level(); got != 0 {
		t.Errorf("Level during silence = %f, want 0", got)
	}
}

func TestSink_ConcurrentClearAndFill(t *testing.T) {
	s := playback.New(16000)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		out := make([]int16, 160)
		for {
			select {
			case <-stop:
				return
			default:
				s.Fill(out)
			}
		}
	}()

	for range 200 {
		s.Enqueue(audio.FrameFromSamples(make([]int16, 320), 16000))
		s.Clear()
	}
	close(stop)
	wg.Wait()

	if q := s.Queued(); q != 0 {
		t.Errorf("Queued = %v, want 0", q)
	}
}

func TestPump_WritesBlocksAndCloses(t *testing.T) {
	spk := &mock.Speaker{}
	s := playback.New(16000)
	s.Enqueue(audio.FrameFromSamples(make([]int16, 320), 16000))

	p, err := playback.StartPump(t.Context(), s, spk, playback.WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("StartPump: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for spk.Stream().WriteCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("pump did not write")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !spk.Stream().Closed() {
		t.Error("expected stream to be closed")
	}
	if len(spk.OpenCalls) != 1 || spk.OpenCalls[0].SampleRate != 16000 || spk.OpenCalls[0].Channels != 1 {
		t.Errorf("unexpected open calls: %+v", spk.OpenCalls)
	}
	// 5 ms at 16 kHz is 80 samples = 160 bytes.
	if got := len(spk.Stream().Writes[0]); got != 160 {
		t.Errorf("block size = %d bytes, want 160", got)
	}
}

func TestPump_OpenFailure(t *testing.T) {
	spk := &mock.Speaker{OpenError: &audio.DeviceUnavailableError{Reason: audio.ReasonNotFound, Device: "out"}}
	_, err := playback.StartPump(t.Context(), playback.New(16000), spk)
	if err == nil {
		t.Fatal("expected error")
	}
}
