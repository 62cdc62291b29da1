// Package wsrenderer is an [avatar.Renderer] that talks to a lip-sync avatar
// service over a websocket.
//
// Audio is sent as binary messages of raw PCM16 (16 kHz mono). The text
// command "SKIP" asks the service to drop everything it has buffered. Text
// messages from the service are surfaced as events; messages beginning with
// "ERROR" become [avatar.EventError].
package wsrenderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxface/pkg/avatar"
	"github.com/coder/websocket"
)

var _ avatar.Renderer = (*Renderer)(nil)

const clearCommand = "SKIP"

// Config describes the avatar endpoint.
type Config struct {
	// URL is the websocket endpoint of the renderer session.
	URL string

	// Header is sent with the upgrade request (e.g. an API key).
	Header http.Header

	// InitMessage, when set, is sent as the first text message. Avatar
	// services typically expect a session token or face id here.
	InitMessage []byte

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Renderer is a websocket avatar session.
type Renderer struct {
	ws     *websocket.Conn
	log    *slog.Logger
	events chan avatar.Event

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// Dial connects to the avatar service and sends the init message. An
// [avatar.EventConnected] is queued before Dial returns.
func Dial(ctx context.Context, cfg Config) (*Renderer, error) {
	if cfg.URL == "" {
		return nil, errors.New("wsrenderer: url is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ws, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		HTTPClient: cfg.HTTPClient,
		HTTPHeader: cfg.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("wsrenderer: dial: %w", err)
	}
	if len(cfg.InitMessage) > 0 {
		if err := ws.Write(ctx, websocket.MessageText, cfg.InitMessage); err != nil {
			ws.CloseNow()
			return nil, fmt.Errorf("wsrenderer: send init: %w", err)
		}
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &Renderer{
		ws:     ws,
		log:    log,
		events: make(chan avatar.Event, 16),
		ctx:    rctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.emit(avatar.Event{Kind: avatar.EventConnected})
	go r.readLoop()
	return r, nil
}

// SendAudio sends one binary PCM message.
func (r *Renderer) SendAudio(ctx context.Context, pcm []byte) error {
	return r.write(ctx, websocket.MessageBinary, pcm)
}

// ClearBuffer sends the SKIP command.
func (r *Renderer) ClearBuffer(ctx context.Context) error {
	return r.write(ctx, websocket.MessageText, []byte(clearCommand))
}

func (r *Renderer) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	if r.closing.Load() {
		return avatar.ErrClosed
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.ws.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("wsrenderer: write: %w", err)
	}
	return nil
}

// Events implements [avatar.Renderer].
func (r *Renderer) Events() <-chan avatar.Event { return r.events }

func (r *Renderer) readLoop() {
	defer close(r.done)
	defer close(r.events)

	for {
		typ, data, err := r.ws.Read(r.ctx)
		if err != nil {
			if !r.closing.Load() {
				r.log.Warn("wsrenderer: connection lost", "err", err)
				r.emit(avatar.Event{Kind: avatar.EventDisconnected, Err: err})
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		msg := strings.TrimSpace(string(data))
		if strings.HasPrefix(strings.ToUpper(msg), "ERROR") {
			r.emit(avatar.Event{Kind: avatar.EventError, Text: msg, Err: fmt.Errorf("%w: %s", avatar.ErrRenderer, msg)})
			continue
		}
		r.emit(avatar.Event{Kind: avatar.EventMessage, Text: msg})
	}
}

// emit never blocks; a consumer that stops reading loses events.
func (r *Renderer) emit(e avatar.Event) {
	select {
	case r.events <- e:
	default:
		r.log.Debug("wsrenderer: event dropped", "kind", e.Kind.String())
	}
}

// Close ends the session. The events channel is closed once the read loop
// has exited. Close is idempotent.
func (r *Renderer) Close() error {
	r.once.Do(func() {
		r.closing.Store(true)
		r.cancel()
		r.writeMu.Lock()
		r.ws.Close(websocket.StatusNormalClosure, "session ended")
		r.writeMu.Unlock()
		<-r.done
	})
	return nil
}
