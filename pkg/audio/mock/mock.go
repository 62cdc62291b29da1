// Package mock provides in-memory mock implementations of the
// [audio.Microphone], [audio.InputStream], [audio.Speaker] and
// [audio.OutputStream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := mock.NewInputStream(audio.Format{SampleRate: 16000, Channels: 1})
//	mic := &mock.Microphone{OpenResult: in}
//	in.Push(pcm)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxface/pkg/audio"
)

// ─── InputStream ─────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream] fed by [InputStream.Push].
// Read blocks until data is pushed or the stream is closed.
type InputStream struct {
	format audio.Format
	data   chan []byte
	rest   []byte // only touched by the single reader
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex

	// CloseError is returned by Close.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewInputStream returns a stream reporting format f.
func NewInputStream(f audio.Format) *InputStream {
	return &InputStream{
		format: f,
		data:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// Push queues pcm for delivery to Read.
func (s *InputStream) Push(pcm []byte) {
	select {
	case s.data <- pcm:
	case <-s.done:
	}
}

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format { return s.format }

// Read implements [audio.InputStream].
func (s *InputStream) Read(p []byte) (int, error) {
	if len(s.rest) == 0 {
		select {
		case b := <-s.data:
			s.rest = b
		case <-s.done:
			return 0, io.EOF
		}
	}
	n := copy(p, s.rest)
	s.rest = s.rest[n:]
	return n, nil
}

// Close implements [audio.InputStream]. Unblocks a pending Read.
func (s *InputStream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	err := s.CloseError
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return err
}

// Closed reports whether Close has been called at least once.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ─── Microphone ──────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenResult is returned by Open.
	OpenResult audio.InputStream

	// OpenError is returned by Open.
	OpenError error

	// OpenCalls records the format requested by each Open call.
	OpenCalls []audio.Format
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, want audio.Format) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, want)
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	return m.OpenResult, nil
}

// ─── OutputStream ────────────────────────────────────────────────────────────

// OutputStream is a mock [audio.OutputStream] that records writes.
type OutputStream struct {
	mu sync.Mutex

	// WriteError is returned by Write.
	WriteError error

	// CloseError is returned by Close.
	CloseError error

	// Writes holds a copy of every buffer passed to Write.
	Writes [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Write implements [audio.OutputStream].
func (o *OutputStream) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.WriteError != nil {
		return 0, o.WriteError
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	o.Writes = append(o.Writes, cp)
	return len(p), nil
}

// Close implements [audio.OutputStream].
func (o *OutputStream) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseError
}

// WriteCount returns the number of recorded writes.
func (o *OutputStream) WriteCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Writes)
}

// Closed reports whether Close has been called at least once.
func (o *OutputStream) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose > 0
}

// ─── Speaker ─────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil a fresh [OutputStream] is
	// created and stored here.
	OpenResult *OutputStream

	// OpenError is returned by Open.
	OpenError error

	// OpenCalls records the format of each Open call.
	OpenCalls []audio.Format
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, f audio.Format) (audio.OutputStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, f)
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	if s.OpenResult == nil {
		s.OpenResult = &OutputStream{}
	}
	return s.OpenResult, nil
}

// Stream returns the stream handed out by Open, or nil.
func (s *Speaker) Stream() *OutputStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenResult
}
