package avatar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultChunkSize is the number of bytes per renderer write.
	DefaultChunkSize = 6000

	defaultQueue       = 64
	defaultSendTimeout = 5 * time.Second
)

// Option is a functional option for [NewForwarder].
type Option func(*Forwarder)

// WithChunkSize overrides [DefaultChunkSize]. Non-positive values are ignored.
func WithChunkSize(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithQueue sets how many complete chunks may wait for the renderer.
func WithQueue(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.queue = n
		}
	}
}

// WithSendTimeout bounds each renderer call.
func WithSendTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.sendTimeout = d
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) { f.log = l }
}

// WithErrorHandler is called from the send goroutine when a renderer call
// fails.
func WithErrorHandler(fn func(error)) Option {
	return func(f *Forwarder) { f.onError = fn }
}

type chunk struct {
	gen  uint64
	data []byte
}

// Forwarder re-chunks PCM and streams it to a [Renderer] in write order.
//
// Write, Flush and Clear never block on the renderer. When the renderer falls
// more than the queue size behind, new chunks are dropped and counted.
type Forwarder struct {
	r           Renderer
	chunkSize   int
	queue       int
	sendTimeout time.Duration
	log         *slog.Logger
	onError     func(error)

	mu      sync.Mutex
	pending []byte
	closed  bool

	// gen is bumped by Clear. Chunks stamped with an older generation are
	// skipped by the send loop.
	gen atomic.Uint64

	out     chan chunk
	clearCh chan struct{}
	dropped atomic.Int64
	sent    atomic.Int64

	events    chan Event
	visible   atomic.Bool
	watchDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewForwarder starts a forwarder for r.
func NewForwarder(r Renderer, opts ...Option) *Forwarder {
	f := &Forwarder{
		r:           r,
		chunkSize:   DefaultChunkSize,
		queue:       defaultQueue,
		sendTimeout: defaultSendTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	f.out = make(chan chunk, f.queue)
	f.clearCh = make(chan struct{}, 1)
	f.events = make(chan Event, 16)
	f.watchDone = make(chan struct{})
	f.ctx, f.cancel = context.WithCancel(context.Background())

	f.wg.Add(1)
	go f.sendLoop()
	go f.watchLoop(r.Events())
	return f
}

// Events re-emits renderer events after the forwarder has acted on them.
// The channel is closed once the renderer's event stream ends. Events are
// dropped when nobody reads them.
func (f *Forwarder) Events() <-chan Event { return f.events }

// Visible reports whether the renderer is connected.
func (f *Forwarder) Visible() bool { return f.visible.Load() }

// watchLoop primes the renderer on connect and tracks visibility.
func (f *Forwarder) watchLoop(in <-chan Event) {
	defer close(f.watchDone)
	defer close(f.events)
	if in == nil {
		return
	}
	for e := range in {
		switch e.Kind {
		case EventConnected:
			f.visible.Store(true)
			if err := f.Prime(); err != nil {
				f.log.Debug("avatar: prime skipped", "err", err)
			}
		case EventDisconnected:
			f.visible.Store(false)
		}
		select {
		case f.events <- e:
		default:
		}
	}
	f.visible.Store(false)
}

// ChunkSize returns the configured chunk size in bytes.
func (f *Forwarder) ChunkSize() int { return f.chunkSize }

// Write appends pcm and queues every complete chunk.
func (f *Forwarder) Write(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.pending = append(f.pending, pcm...)
	for len(f.pending) >= f.chunkSize {
		data := make([]byte, f.chunkSize)
		copy(data, f.pending)
		f.enqueueLocked(data)
		f.pending = f.pending[f.chunkSize:]
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return nil
}

// Flush queues the partial chunk, if any. Call it at the end of an utterance.
func (f *Forwarder) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if len(f.pending) > 0 {
		f.enqueueLocked(f.pending)
		f.pending = nil
	}
	return nil
}

// Prime queues one chunk of silence. The renderer starts its playback clock
// on the first audio it receives.
func (f *Forwarder) Prime() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.enqueueLocked(make([]byte, f.chunkSize))
	return nil
}

// Clear drops the partial chunk and every queued chunk, then asks the
// renderer to drop its own buffer.
func (f *Forwarder) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.pending = nil
	f.gen.Add(1)
	select {
	case f.clearCh <- struct{}{}:
	default:
	}
	return nil
}

// Dropped returns the number of chunks discarded because the queue was full.
func (f *Forwarder) Dropped() int64 { return f.dropped.Load() }

// Sent returns the number of chunks delivered to the renderer.
func (f *Forwarder) Sent() int64 { return f.sent.Load() }

func (f *Forwarder) enqueueLocked(data []byte) {
	select {
	case f.out <- chunk{gen: f.gen.Load(), data: data}:
	default:
		if f.dropped.Add(1) == 1 {
			f.log.Warn("avatar: renderer is falling behind, dropping audio")
		}
	}
}

func (f *Forwarder) sendLoop() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.clearCh:
			f.clearRemote()
		case c := <-f.out:
			// A Clear issued before this chunk was queued must reach the
			// renderer first.
			select {
			case <-f.clearCh:
				f.clearRemote()
			default:
			}
			if c.gen != f.gen.Load() {
				continue
			}
			f.send(c.data)
		}
	}
}

func (f *Forwarder) send(data []byte) {
	ctx, cancel := context.WithTimeout(f.ctx, f.sendTimeout)
	defer cancel()
	if err := f.r.SendAudio(ctx, data); err != nil {
		f.fail(fmt.Errorf("avatar: send audio: %w", err))
		return
	}
	f.sent.Add(1)
}

func (f *Forwarder) clearRemote() {
	ctx, cancel := context.WithTimeout(f.ctx, f.sendTimeout)
	defer cancel()
	if err := f.r.ClearBuffer(ctx); err != nil {
		f.fail(fmt.Errorf("avatar: clear buffer: %w", err))
	}
}

func (f *Forwarder) fail(err error) {
	if errors.Is(err, context.Canceled) && f.ctx.Err() != nil {
		return
	}
	f.log.Warn("avatar: renderer call failed", "err", err)
	if f.onError != nil {
		f.onError(err)
	}
}

// Close stops the send goroutine and closes the renderer. Queued chunks are
// discarded. Close is idempotent.
func (f *Forwarder) Close() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.pending = nil
		f.mu.Unlock()

		f.cancel()
		f.wg.Wait()
		err = f.r.Close()
		<-f.watchDone
	})
	return err
}
