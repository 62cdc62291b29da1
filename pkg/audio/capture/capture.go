// Package capture turns a [audio.Microphone] into a stream of fixed-duration
// mono frames at the session's capture rate.
//
// A [Source] requests the target rate from the device. When the device
// delivers another rate or channel layout, frames are converted with
// [audio.Converter] (downmix, then the anti-aliasing resampler). The source
// holds at most one device frame in memory; when the consumer lags, the
// oldest undelivered frame is dropped rather than blocking the device.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxface/pkg/audio"
)

const (
	// DefaultSampleRate is the capture rate the conversational endpoint expects.
	DefaultSampleRate = 16000

	// DefaultFrameDuration is the length of each emitted frame.
	DefaultFrameDuration = 20 * time.Millisecond

	// defaultBuffer is the capacity of the frame channel.
	defaultBuffer = 8
)

// ErrAlreadyStarted is returned by [Source.Start] on a second call.
var ErrAlreadyStarted = errors.New("capture: source already started")

// ErrStopped is returned by [Source.Start] after [Source.Stop].
var ErrStopped = errors.New("capture: source stopped")

// Option configures a [Source].
type Option func(*Source)

// WithSampleRate sets the target capture rate. Default 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.rate = rate }
}

// WithFrameDuration sets the emitted frame length. Default 20 ms.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) { s.frameDur = d }
}

// WithBuffer sets the frame channel capacity. Default 8.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

// Source owns one microphone stream.
type Source struct {
	mic      audio.Microphone
	rate     int
	frameDur time.Duration
	buffer   int
	log      *slog.Logger

	mu      sync.Mutex
	stream  audio.InputStream
	started bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error

	level   atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Source for mic. Nothing is acquired until [Source.Start].
func New(mic audio.Microphone, opts ...Option) *Source {
	s := &Source{
		mic:      mic,
		rate:     DefaultSampleRate,
		frameDur: DefaultFrameDuration,
		buffer:   defaultBuffer,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start acquires the microphone and begins emitting frames. ctx bounds the
// acquisition only; the stream runs until [Source.Stop].
//
// Acquisition failures are returned as [*audio.DeviceUnavailableError].
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrAlreadyStarted
	}
	select {
	case <-s.done:
		return nil, ErrStopped
	default:
	}

	stream, err := s.mic.Open(ctx, audio.Format{SampleRate: s.rate, Channels: 1})
	if err != nil {
		var due *audio.DeviceUnavailableError
		if !errors.As(err, &due) {
			reason := audio.ReasonNotFound
			if errors.Is(err, audio.ErrPermissionDenied) {
				reason = audio.ReasonPermissionDenied
			}
			err = &audio.DeviceUnavailableError{Reason: reason, Device: "microphone", Err: err}
		}
		return nil, fmt.Errorf("capture: open microphone: %w", err)
	}
	s.stream = stream
	s.started = true

	native := stream.Format()
	if native.SampleRate <= 0 {
		native.SampleRate = s.rate
	}
	native.Channels = max(native.Channels, 1)
	if native.SampleRate != s.rate || native.Channels != 1 {
		s.log.Info("capture: device format differs from target, converting",
			"device", native.String(),
			"target", audio.Format{SampleRate: s.rate, Channels: 1}.String(),
		)
	}

	out := make(chan audio.Frame, s.buffer)
	s.wg.Add(1)
	go s.read(native, out)
	return out, nil
}

func (s *Source) read(native audio.Format, out chan audio.Frame) {
	defer s.wg.Done()
	defer close(out)

	conv := audio.Converter{Target: audio.Format{SampleRate: s.rate, Channels: 1}, Logger: s.log}
	buf := make([]byte, audio.SamplesPerFrame(native.SampleRate, s.frameDur)*native.Channels*2)
	var seq int64

	for {
		if _, err := io.ReadFull(s.stream, buf); err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("capture: microphone read failed", "err", err)
			}
			return
		}

		raw := make([]byte, len(buf))
		copy(raw, buf)
		f := conv.Convert(audio.Frame{
			Data:       raw,
			SampleRate: native.SampleRate,
			Channels:   native.Channels,
			Timestamp:  time.Duration(seq) * s.frameDur,
		})
		seq++
		if len(f.Data) == 0 {
			continue
		}
		s.level.Store(math.Float64bits(audio.LevelPCM(f.Data)))
		s.deliver(out, f)
	}
}

// deliver sends f, evicting the oldest queued frame when the consumer lags.
func (s *Source) deliver(out chan audio.Frame, f audio.Frame) {
	select {
	case out <- f:
		return
	default:
	}
	select {
	case <-out:
		s.dropped.Add(1)
	default:
	}
	select {
	case out <- f:
	default:
		s.dropped.Add(1)
	}
}

// Level returns the RMS level (0..1) of the last captured frame.
func (s *Source) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Dropped returns how many frames were discarded because the consumer lagged.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Stop releases the microphone and waits for the reader goroutine to exit.
// Stop is idempotent; calling it before Start is a no-op.
func (s *Source) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		stream := s.stream
		s.mu.Unlock()
		if stream == nil {
			return
		}
		s.stopErr = stream.Close()
		s.wg.Wait()
		s.level.Store(0)
	})
	return s.stopErr
}
