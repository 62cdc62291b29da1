package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxface/pkg/audio"
)

// DefaultInterval is the pull cadence of a [Pump].
const DefaultInterval = 20 * time.Millisecond

// PumpOption configures a [Pump].
type PumpOption func(*Pump)

// WithInterval sets the pull cadence.
func WithInterval(d time.Duration) PumpOption {
	return func(p *Pump) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(l *slog.Logger) PumpOption {
	return func(p *Pump) { p.log = l }
}

// Pump pulls fixed-size blocks from a [Sink] and writes them to an
// [audio.OutputStream]. It stands in for the device callback of platforms
// that expose playback as a blocking writer.
type Pump struct {
	sink     *Sink
	stream   audio.OutputStream
	interval time.Duration
	log      *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// StartPump opens spk at the sink's rate and starts pulling from sink.
func StartPump(ctx context.Context, sink *Sink, spk audio.Speaker, opts ...PumpOption) (*Pump, error) {
	p := &Pump{
		sink:     sink,
		interval: DefaultInterval,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	stream, err := spk.Open(ctx, audio.Format{SampleRate: sink.SampleRate(), Channels: 1})
	if err != nil {
		return nil, fmt.Errorf("playback: open speaker: %w", err)
	}
	p.stream = stream

	p.wg.Add(1)
	go p.run()
	return p, nil
}

func (p *Pump) run() {
	defer p.wg.Done()

	buf := make([]int16, audio.SamplesPerFrame(p.sink.SampleRate(), p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		p.sink.Fill(buf)
		if _, err := p.stream.Write(audio.EncodePCM16(buf)); err != nil {
			select {
			case <-p.done:
			default:
				p.log.Warn("playback: speaker write failed, stopping pump", "err", err)
			}
			return
		}
	}
}

// Close stops the pump and releases the output stream. Close is idempotent
// and returns only after the pull goroutine has exited.
func (p *Pump) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		// Closing the stream unblocks a Write stuck on a full device buffer.
		p.closeErr = p.stream.Close()
		p.wg.Wait()
	})
	return p.closeErr
}
