package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxface/internal/session"
	"github.com/MrWong99/voxface/pkg/avatar"
	avatarmock "github.com/MrWong99/voxface/pkg/avatar/mock"
)

func quietPolicy() session.RetryPolicy {
	return session.RetryPolicy{
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		MaxBackoff: time.Millisecond,
		Logger:     slog.New(slog.DiscardHandler),
	}
}

// scriptedDial hands out the renderers in order, failing whenever the next
// entry is nil.
type scriptedDial struct {
	mu        sync.Mutex
	renderers []*avatarmock.Renderer
	calls     int
}

func (d *scriptedDial) dial(context.Context) (avatar.Renderer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i >= len(d.renderers) || d.renderers[i] == nil {
		return nil, errors.New("avatar service unreachable")
	}
	return d.renderers[i], nil
}

func (d *scriptedDial) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDialRedialing_RetriesFirstConnection(t *testing.T) {
	m := avatarmock.NewRenderer()
	d := &scriptedDial{renderers: []*avatarmock.Renderer{nil, nil, m}}

	r, err := dialRedialing(t.Context(), d.dial, quietPolicy(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("dialRedialing: %v", err)
	}
	defer r.Close()

	if got := d.count(); got != 3 {
		t.Errorf("dial called %d times, want 3", got)
	}
	if err := r.SendAudio(t.Context(), []byte{1, 0}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if n := len(m.Chunks()); n != 1 {
		t.Errorf("renderer got %d chunks, want 1", n)
	}
}

func TestDialRedialing_GivesUp(t *testing.T) {
	d := &scriptedDial{}
	_, err := dialRedialing(t.Context(), d.dial, quietPolicy(), slog.New(slog.DiscardHandler))
	if !errors.Is(err, session.ErrConnectionLost) {
		t.Fatalf("got %v, want ErrConnectionLost", err)
	}
	if got := d.count(); got != 3 {
		t.Errorf("dial called %d times, want 3", got)
	}
}

func TestDialRedialing_ReconnectsAfterDrop(t *testing.T) {
	first, second := avatarmock.NewRenderer(), avatarmock.NewRenderer()
	d := &scriptedDial{renderers: []*avatarmock.Renderer{first, nil, second}}

	r, err := dialRedialing(t.Context(), d.dial, quietPolicy(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("dialRedialing: %v", err)
	}
	fwd := avatar.NewForwarder(r, avatar.WithChunkSize(4))
	defer fwd.Close()

	first.Push(avatar.Event{Kind: avatar.EventConnected})
	waitUntil(t, "first renderer visible", fwd.Visible)

	// The service drops the connection.
	first.Push(avatar.Event{Kind: avatar.EventDisconnected})
	waitUntil(t, "renderer hidden", func() bool { return !fwd.Visible() })
	_ = first.Close()

	waitUntil(t, "redial", func() bool { return d.count() == 3 })
	second.Push(avatar.Event{Kind: avatar.EventConnected})
	waitUntil(t, "second renderer visible", fwd.Visible)

	if err := fwd.Write([]byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Prime on reconnect, then the written chunk.
	waitUntil(t, "audio on the new renderer", func() bool { return len(second.Chunks()) == 2 })
}

func TestDialRedialing_Close(t *testing.T) {
	m := avatarmock.NewRenderer()
	d := &scriptedDial{renderers: []*avatarmock.Renderer{m}}
	r, err := dialRedialing(t.Context(), d.dial, quietPolicy(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("dialRedialing: %v", err)
	}

	for range 2 {
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if err := r.SendAudio(context.Background(), []byte{0, 0}); !errors.Is(err, avatar.ErrClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
	if _, ok := <-r.Events(); ok {
		t.Error("events channel still open after Close")
	}
	if got := d.count(); got != 1 {
		t.Errorf("dial called %d times after Close, want 1", got)
	}
}
