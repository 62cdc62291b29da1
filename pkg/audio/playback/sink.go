// Package playback owns the agent-audio output path: a FIFO [Sink] pulled
// sample by sample by the device, and a [Pump] that drives a sink into an
// [audio.Speaker] at a fixed cadence.
package playback

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxface/pkg/audio"
)

// Option configures a [Sink] during construction.
type Option func(*Sink)

// WithGain sets the initial gain. Default 1.
func WithGain(g float64) Option {
	return func(s *Sink) { s.gain = clampGain(g) }
}

// WithClock overrides the time source used to evaluate gain ramps.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// ramp is a linear gain transition evaluated against wall-clock time.
type ramp struct {
	from, to float64
	start    time.Time
	dur      time.Duration
}

func (r *ramp) at(t time.Time) (float64, bool) {
	el := t.Sub(r.start)
	if el >= r.dur {
		return r.to, true
	}
	if el <= 0 {
		return r.from, false
	}
	return r.from + (r.to-r.from)*float64(el)/float64(r.dur), false
}

// Sink is the playback queue. The producer (session event goroutine) calls
// [Sink.Enqueue] and [Sink.Clear]; the consumer (device pump) calls
// [Sink.Fill]. A single mutex guards the queue, the cursor into the head
// frame and the gain state, so a Clear is observed atomically by Fill.
//
// All exported methods are safe for concurrent use.
type Sink struct {
	rate int
	now  func() time.Time

	mu      sync.Mutex
	queue   [][]int16
	head    []int16
	cursor  int
	pending int // samples remaining across head and queue
	gain    float64
	fade    *ramp
	active  bool // audio was queued since the last drain

	drained chan struct{}
	level   atomic.Uint64 // float64 bits of the last filled block's RMS
}

// New creates a Sink for mono PCM at sampleRate.
func New(sampleRate int, opts ...Option) *Sink {
	s := &Sink{
		rate:    sampleRate,
		now:     time.Now,
		gain:    1,
		drained: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SampleRate returns the rate frames must be enqueued at.
func (s *Sink) SampleRate() int { return s.rate }

// Enqueue appends f to the queue. Frames at a different rate than the sink
// are ignored; resampling is the caller's job.
func (s *Sink) Enqueue(f audio.Frame) {
	if f.SampleRate != s.rate || len(f.Data) < 2 {
		return
	}
	samples := f.Samples()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, samples)
	s.pending += len(samples)
	s.active = true
}

// Clear drops all queued and in-progress audio. It does not signal drained.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.head = nil
	s.cursor = 0
	s.pending = 0
	s.active = false
}

// SetGain sets the gain instantly, cancelling any running fade.
func (s *Sink) SetGain(g float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fade = nil
	s.gain = clampGain(g)
}

// FadeGainTo ramps the gain linearly from its current value to target over
// d. A later SetGain or FadeGainTo replaces the ramp.
func (s *Sink) FadeGainTo(target float64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cur := s.gainLocked(now)
	if d <= 0 {
		s.fade = nil
		s.gain = clampGain(target)
		return
	}
	s.fade = &ramp{from: cur, to: clampGain(target), start: now, dur: d}
}

// Gain returns the current gain, including fade progress.
func (s *Sink) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gainLocked(s.now())
}

// gainLocked evaluates the ramp at t and retires it once complete.
func (s *Sink) gainLocked(t time.Time) float64 {
	if s.fade == nil {
		return s.gain
	}
	g, done := s.fade.at(t)
	s.gain = g
	if done {
		s.fade = nil
	}
	return g
}

// Queued returns the duration of audio not yet pulled by the device.
func (s *Sink) Queued() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.pending) * time.Second / time.Duration(s.rate)
}

// Drained delivers one signal each time the queue runs empty after having
// held audio. Signals coalesce if nobody is listening.
func (s *Sink) Drained() <-chan struct{} { return s.drained }

// Level returns the RMS level (0..1) of the most recently filled block.
func (s *Sink) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Fill copies queued samples into out with the current gain applied and
// zero-fills the remainder. It returns the number of queued samples
// consumed. Fill is the device-side pull and never blocks on I/O.
func (s *Sink) Fill(out []int16) int {
	s.mu.Lock()
	now := s.now()
	g0 := s.gainLocked(now)
	g1 := g0
	if s.fade != nil && len(out) > 0 {
		// Interpolate across the block so a fade has no per-block steps.
		end := now.Add(time.Duration(len(out)) * time.Second / time.Duration(s.rate))
		g1, _ = s.fade.at(end)
	}

	n := 0
	for n < len(out) {
		if s.cursor >= len(s.head) {
			if len(s.queue) == 0 {
				break
			}
			s.head = s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.cursor = 0
			continue
		}
		g := g0
		if g1 != g0 {
			g = g0 + (g1-g0)*float64(n)/float64(len(out))
		}
		out[n] = clampSample(float64(s.head[s.cursor]) * g)
		s.cursor++
		n++
	}
	s.pending -= n
	for i := n; i < len(out); i++ {
		out[i] = 0
	}

	signal := false
	if s.active && s.pending == 0 {
		s.active = false
		s.head = nil
		s.cursor = 0
		signal = true
	}
	s.mu.Unlock()

	s.level.Store(math.Float64bits(audio.Level(out)))
	if signal {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	}
	return n
}

func clampGain(g float64) float64 {
	return min(max(g, 0), 1)
}

func clampSample(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
