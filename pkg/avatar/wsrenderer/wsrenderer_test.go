package wsrenderer_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxface/pkg/avatar"
	"github.com/MrWong99/voxface/pkg/avatar/wsrenderer"
	"github.com/coder/websocket"
)

type frame struct {
	typ  websocket.MessageType
	data string
}

func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, ch <-chan avatar.Event) avatar.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return avatar.Event{}
}

func TestRenderer_SendsAudioAndSkip(t *testing.T) {
	t.Parallel()

	frames := make(chan frame, 8)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			return
		}
		for {
			typ, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			frames <- frame{typ, string(data)}
		}
	})

	r, err := wsrenderer.Dial(t.Context(), wsrenderer.Config{
		URL:         wsURL(srv),
		Header:      http.Header{"X-Api-Key": []string{"k"}},
		InitMessage: []byte(`{"faceId":"f1"}`),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer r.Close()

	if e := nextEvent(t, r.Events()); e.Kind != avatar.EventConnected {
		t.Fatalf("first event = %v, want connected", e.Kind)
	}
	if err := r.SendAudio(t.Context(), []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := r.ClearBuffer(t.Context()); err != nil {
		t.Fatalf("ClearBuffer: %v", err)
	}

	want := []frame{
		{websocket.MessageText, `{"faceId":"f1"}`},
		{websocket.MessageBinary, "\x01\x02\x03\x04"},
		{websocket.MessageText, "SKIP"},
	}
	for i, w := range want {
		select {
		case got := <-frames:
			if got != w {
				t.Errorf("frame %d = %v %q, want %v %q", i, got.typ, got.data, w.typ, w.data)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}
}

func TestRenderer_EventsFromServer(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageText, []byte("START"))
		_ = conn.Write(ctx, websocket.MessageText, []byte("ERROR: invalid face id"))
	})

	r, err := wsrenderer.Dial(t.Context(), wsrenderer.Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer r.Close()

	events := r.Events()
	if e := nextEvent(t, events); e.Kind != avatar.EventConnected {
		t.Fatalf("event 0 = %v", e.Kind)
	}
	if e := nextEvent(t, events); e.Kind != avatar.EventMessage || e.Text != "START" {
		t.Errorf("event 1 = %+v", e)
	}
	e := nextEvent(t, events)
	if e.Kind != avatar.EventError || !errors.Is(e.Err, avatar.ErrRenderer) {
		t.Errorf("event 2 = %+v", e)
	}
	if e := nextEvent(t, events); e.Kind != avatar.EventDisconnected {
		t.Errorf("event 3 = %v, want disconnected", e.Kind)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected events channel to be closed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestRenderer_CloseIdempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	r, err := wsrenderer.Dial(t.Context(), wsrenderer.Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := r.SendAudio(t.Context(), []byte{0}); !errors.Is(err, avatar.ErrClosed) {
		t.Errorf("SendAudio after Close: got %v, want ErrClosed", err)
	}
	// Only the connected event, then the channel closes without a
	// disconnected event.
	if e := nextEvent(t, r.Events()); e.Kind != avatar.EventConnected {
		t.Errorf("event = %v", e.Kind)
	}
	if _, ok := <-r.Events(); ok {
		t.Error("unexpected event after Close")
	}
}

func TestDial_RequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := wsrenderer.Dial(t.Context(), wsrenderer.Config{}); err == nil {
		t.Fatal("expected error")
	}
}
