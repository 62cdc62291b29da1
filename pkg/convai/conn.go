// Package convai implements the client side of the ElevenLabs Conversational
// AI websocket protocol.
//
// [Dial] opens the duplex connection and blocks until the server's
// conversation_initiation_metadata handshake arrives, which yields the
// conversation ID and the sample rate of the agent's audio. After that a
// single receive goroutine decodes every inbound message into an [Event]
// and hands it to the [Handler] in arrival order. Outbound audio is sent as
// one {"user_audio_chunk": <base64>} message per capture frame.
//
// Usage:
//
//	conn, err := convai.Dial(ctx, convai.Config{AgentID: "agent_123"}, handler)
//	if err != nil { ... }
//	defer conn.Close()
//	conn.SendAudio(pcm)
package convai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	// DefaultBaseURL is the public ElevenLabs websocket origin.
	DefaultBaseURL = "wss://api.elevenlabs.io"

	conversationPath = "/v1/convai/conversation"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second

	// readLimit bounds a single inbound message. Audio events carry base64
	// PCM and routinely exceed the library's 32 KiB default.
	readLimit = 4 << 20
)

var (
	// ErrHandshakeFailed matches every [*HandshakeError].
	ErrHandshakeFailed = errors.New("convai: handshake failed")

	// ErrNotConnected is returned by send operations outside the Connected state.
	ErrNotConnected = errors.New("convai: not connected")
)

// HandshakeError reports why a connection never reached Connected.
type HandshakeError struct {
	// Stage is "dial", "read" or "metadata".
	Stage string
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("convai: handshake failed during %s: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrHandshakeFailed) hold for every HandshakeError.
func (e *HandshakeError) Is(target error) bool { return target == ErrHandshakeFailed }

// Status is the connection lifecycle state.
type Status int32

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Config selects the endpoint and tunes the connection.
type Config struct {
	// AgentID identifies a public agent. Ignored when SignedURL is set.
	AgentID string

	// SignedURL is a pre-signed websocket URL for a private agent.
	SignedURL string

	// BaseURL overrides the websocket origin. Default [DefaultBaseURL].
	BaseURL string

	// APIKey is sent as xi-api-key when dialling by AgentID.
	APIKey string

	// HandshakeTimeout bounds the wait for the initiation metadata.
	HandshakeTimeout time.Duration

	// HTTPClient is used for the websocket upgrade.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// URL returns the websocket URL the config dials.
func (c Config) URL() (string, error) {
	if c.SignedURL != "" {
		return c.SignedURL, nil
	}
	if c.AgentID == "" {
		return "", errors.New("convai: agent id or signed url required")
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return base + conversationPath + "?agent_id=" + url.QueryEscape(c.AgentID), nil
}

// Handler receives inbound traffic. HandleEvent is called sequentially from
// the receive goroutine in arrival order. HandleClose is called at most once,
// when the connection is lost without [Conn.Close] having been called.
type Handler interface {
	HandleEvent(Event)
	HandleClose(error)
}

// HandlerFuncs adapts plain functions to [Handler]. Nil fields are no-ops.
type HandlerFuncs struct {
	OnEvent func(Event)
	OnClose func(error)
}

// HandleEvent implements [Handler].
func (h HandlerFuncs) HandleEvent(e Event) {
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}

// HandleClose implements [Handler].
func (h HandlerFuncs) HandleClose(err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

// Conn is an established conversation.
type Conn struct {
	ws             *websocket.Conn
	handler        Handler
	log            *slog.Logger
	conversationID string
	agentRate      int

	ctx    context.Context
	cancel context.CancelFunc
	status atomic.Int32

	writeMu sync.Mutex

	// dispatchMu serialises handler calls against Close, so no event is
	// delivered once Close has returned.
	dispatchMu sync.Mutex
	closed     bool
	seq        uint64

	closing   atomic.Bool
	loopDone  chan struct{}
	closeOnce sync.Once
}

// Dial connects and performs the handshake. It returns once the initiation
// metadata has been received, or a [*HandshakeError] if the connection
// fails, closes or sends anything else first.
func Dial(ctx context.Context, cfg Config, h Handler) (*Conn, error) {
	if h == nil {
		h = HandlerFuncs{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	wsURL, err := cfg.URL()
	if err != nil {
		return nil, &HandshakeError{Stage: "dial", Err: err}
	}

	opts := &websocket.DialOptions{HTTPClient: cfg.HTTPClient}
	if cfg.SignedURL == "" && cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{}
		opts.HTTPHeader.Set("xi-api-key", cfg.APIKey)
	}
	ws, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, &HandshakeError{Stage: "dial", Err: err}
	}
	ws.SetReadLimit(readLimit)

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	meta, err := readMetadata(ctx, ws, timeout)
	if err != nil {
		ws.CloseNow()
		return nil, err
	}
	rate, err := ParseAudioFormat(meta.AgentOutputAudioFormat)
	if err != nil {
		ws.Close(websocket.StatusPolicyViolation, "unsupported audio format")
		return nil, &HandshakeError{Stage: "metadata", Err: err}
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:             ws,
		handler:        h,
		log:            log.With("conversation_id", meta.ConversationID),
		conversationID: meta.ConversationID,
		agentRate:      rate,
		ctx:            connCtx,
		cancel:         cancel,
		loopDone:       make(chan struct{}),
	}
	c.status.Store(int32(StatusConnected))
	c.log.Debug("convai: connected", "agent_rate", rate)

	go c.receiveLoop()
	return c, nil
}

func readMetadata(ctx context.Context, ws *websocket.Conn, timeout time.Duration) (*initiationMetadata, error) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, data, err := ws.Read(hctx)
	if err != nil {
		return nil, &HandshakeError{Stage: "read", Err: err}
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &HandshakeError{Stage: "metadata", Err: fmt.Errorf("%w: %v", ErrProtocolViolation, err)}
	}
	if msg.Type != typeInitiationMetadata || msg.InitiationMetadata == nil {
		return nil, &HandshakeError{
			Stage: "metadata",
			Err:   fmt.Errorf("%w: unexpected first message type %q", ErrProtocolViolation, msg.Type),
		}
	}
	return msg.InitiationMetadata, nil
}

// ConversationID returns the server-assigned conversation identifier.
func (c *Conn) ConversationID() string { return c.conversationID }

// AgentSampleRate returns the sample rate of inbound agent audio.
func (c *Conn) AgentSampleRate() int { return c.agentRate }

// Status returns the current lifecycle state.
func (c *Conn) Status() Status { return Status(c.status.Load()) }

// receiveLoop reads and dispatches messages until the connection ends.
// HandleClose runs after loopDone is closed so the handler may call Close.
func (c *Conn) receiveLoop() {
	err := c.readLoop()
	close(c.loopDone)
	if err != nil {
		c.lost(err)
	}
}

func (c *Conn) readLoop() error {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.closing.Load() {
				return nil
			}
			return err
		}
		c.dispatch(decodeEvent(data))
	}
}

func (c *Conn) dispatch(evt Event) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if c.closed {
		return
	}
	c.seq++
	evt.Seq = c.seq
	c.handler.HandleEvent(evt)
}

// lost handles an unexpected end of the connection.
func (c *Conn) lost(err error) {
	c.dispatchMu.Lock()
	if c.closed {
		c.dispatchMu.Unlock()
		return
	}
	c.closed = true
	c.dispatchMu.Unlock()

	c.status.Store(int32(StatusDisconnected))
	c.cancel()
	c.ws.CloseNow()
	c.log.Warn("convai: connection lost", "err", err)
	c.handler.HandleClose(err)
}

// SendAudio sends one capture frame of PCM16 as a user_audio_chunk.
func (c *Conn) SendAudio(pcm []byte) error {
	return c.writeJSON(userAudioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)})
}

// SendPong answers a ping.
func (c *Conn) SendPong(eventID int64) error {
	return c.writeJSON(pongMessage{Type: typePong, EventID: eventID})
}

func (c *Conn) writeJSON(v any) error {
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("convai: marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, defaultWriteTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("convai: write: %w", err)
	}
	return nil
}

// Close ends the conversation. It is idempotent and returns only after the
// receive goroutine has stopped reading, so no event is delivered afterwards.
// Close must not be called from inside [Handler.HandleEvent]; calling it from
// [Handler.HandleClose] is fine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.status.CompareAndSwap(int32(StatusConnected), int32(StatusDisconnecting))

		c.dispatchMu.Lock()
		c.closed = true
		c.dispatchMu.Unlock()

		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "conversation ended")
		<-c.loopDone
		c.status.Store(int32(StatusDisconnected))
	})
	return nil
}
