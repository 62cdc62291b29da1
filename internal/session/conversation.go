// Package session implements the voice conversation state machine.
//
// A [Conversation] wires a microphone capture source, a conversational
// transport, a playback sink and an optional avatar forwarder together. It
// owns the interruption watermark: once the agent reports an interruption
// with event id N, no agent audio with an id ≤ N reaches playback or the
// avatar, even if it was already being resampled.
//
// A Conversation is single-use. Create a new one for every connection
// attempt; [Supervise] does this automatically.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxface/internal/observe"
	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/audio/capture"
	"github.com/MrWong99/voxface/pkg/audio/playback"
	"github.com/MrWong99/voxface/pkg/avatar"
	"github.com/MrWong99/voxface/pkg/convai"
)

// Default conversation parameters.
const (
	DefaultCaptureRate   = 16000
	DefaultPlaybackRate  = 16000
	DefaultAvatarRate    = 16000
	DefaultFrameDuration = 20 * time.Millisecond
	DefaultFadeDuration  = 2 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a Conversation that was
	// started before.
	ErrAlreadyStarted = errors.New("session: conversation already started")

	// ErrNotConnected is returned by Wait when the conversation never
	// connected.
	ErrNotConnected = errors.New("session: not connected")

	// ErrConnectionLost is reported when the transport closed without End
	// being called.
	ErrConnectionLost = errors.New("session: connection lost")
)

// Config describes one conversation.
type Config struct {
	// AgentID selects the conversational agent. Ignored when SignedURL is set.
	AgentID string

	// SignedURL is a pre-authorised conversation URL.
	SignedURL string

	// CaptureRate is the rate microphone audio is sent at. Default 16000.
	CaptureRate int

	// PlaybackRate is the rate of the playback sink. Default 16000.
	PlaybackRate int

	// AvatarRate is the rate audio is forwarded to the avatar. Default 16000.
	AvatarRate int

	// FrameDuration is the capture frame length. Default 20ms.
	FrameDuration time.Duration

	// FadeDuration is the gain ramp applied after an interruption.
	// Default 2s.
	FadeDuration time.Duration

	// Volume is the playback gain in [0,1]. Zero means full volume; use
	// [Conversation.SetVolume] to mute.
	Volume float64

	// Handlers receives callbacks. Nil means [NopHandlers].
	Handlers Handlers
}

func (c Config) withDefaults() Config {
	if c.CaptureRate <= 0 {
		c.CaptureRate = DefaultCaptureRate
	}
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = DefaultPlaybackRate
	}
	if c.AvatarRate <= 0 {
		c.AvatarRate = DefaultAvatarRate
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.FadeDuration <= 0 {
		c.FadeDuration = DefaultFadeDuration
	}
	if c.Volume <= 0 {
		c.Volume = 1
	}
	c.Volume = min(c.Volume, 1)
	if c.Handlers == nil {
		c.Handlers = NopHandlers{}
	}
	return c
}

// Deps are the collaborators of a [Conversation].
type Deps struct {
	Dialer     Dialer
	Microphone audio.Microphone

	// Speaker is optional. Without it the sink is filled by nobody and
	// agent audio only reaches the avatar and OnAudioFrame.
	Speaker audio.Speaker

	// Avatar is optional. The forwarder outlives the conversation; End
	// clears it but does not close it.
	Avatar *avatar.Forwarder
}

// Option is a functional option for [New].
type Option func(*Conversation)

// WithLogger sets the logger. Default is [observe.Logger] of the Start
// context.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) { c.log = l }
}

// WithMetrics sets the metric instruments. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Conversation) { c.metrics = m }
}

// WithSink replaces the playback sink created by Start. The sink's rate
// overrides Config.PlaybackRate.
func WithSink(s *playback.Sink) Option {
	return func(c *Conversation) { c.sink = s }
}

// Conversation is one voice session.
//
// All exported methods are safe for concurrent use.
type Conversation struct {
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics

	// set by Start before ready is closed, read-only afterwards
	cfg       Config
	h         Handlers
	capture   *capture.Source
	transport Transport
	sink      *playback.Sink
	pump      *playback.Pump
	agentRate int

	started   atomic.Bool
	live      atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	startDone chan struct{}

	status     atomic.Int32
	mode       atomic.Int32
	watermark  atomic.Int64
	volume     atomic.Uint64
	inputLevel atomic.Uint64

	// deliverMu makes the watermark re-check and the hand-off to playback
	// atomic with respect to an interruption.
	deliverMu sync.Mutex
	toSink    audio.Converter
	toAvatar  audio.Converter

	// afterConvert runs between conversion and delivery; tests use it to
	// land an interruption there.
	afterConvert func(eventID int64)

	fadeMu    sync.Mutex
	fadeGen   uint64
	fading    bool
	fadeTimer *time.Timer

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	endOnce sync.Once
	endErr  error
	done    chan struct{}
}

// Handle is returned by a successful Start.
type Handle struct {
	ConversationID  string
	AgentSampleRate int

	c *Conversation
}

// End ends the conversation. See [Conversation.End].
func (h *Handle) End(ctx context.Context) error { return h.c.End(ctx) }

// Done is closed once the conversation is fully torn down.
func (h *Handle) Done() <-chan struct{} { return h.c.done }

// Wait blocks until the conversation ended. See [Conversation.Wait].
func (h *Handle) Wait(ctx context.Context) error { return h.c.Wait(ctx) }

// New creates an idle Conversation.
func New(deps Deps, opts ...Option) *Conversation {
	c := &Conversation{
		deps:      deps,
		ready:     make(chan struct{}),
		startDone: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.watermark.Store(-1)
	c.volume.Store(math.Float64bits(1))
	return c
}

// Start acquires the microphone, completes the transport handshake and
// opens playback, in that order. It returns once the conversation is
// connected or failed. A failure releases everything acquired so far.
func (c *Conversation) Start(ctx context.Context, cfg Config) (*Handle, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	defer close(c.startDone)

	ctx, span := observe.StartSpan(ctx, "session.start")
	defer span.End()

	cfg = cfg.withDefaults()
	c.cfg = cfg
	c.h = cfg.Handlers
	if c.log == nil {
		c.log = observe.Logger(ctx)
	}
	c.log = c.log.With("agent_id", cfg.AgentID)
	// SetVolume may run concurrently from the moment c is reachable.
	c.fadeMu.Lock()
	c.volume.Store(math.Float64bits(cfg.Volume))
	if c.sink == nil {
		c.sink = playback.New(cfg.PlaybackRate, playback.WithGain(cfg.Volume))
	} else {
		c.sink.SetGain(cfg.Volume)
	}
	c.fadeMu.Unlock()
	c.setStatus(StatusConnecting)

	c.capture = capture.New(c.deps.Microphone,
		capture.WithSampleRate(cfg.CaptureRate),
		capture.WithFrameDuration(cfg.FrameDuration),
		capture.WithLogger(c.log),
	)
	frames, err := c.capture.Start(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, c.failStart(ctx, "capture", err)
	}

	dialStart := time.Now()
	tr, err := c.deps.Dialer.Dial(ctx, cfg.AgentID, cfg.SignedURL, convai.HandlerFuncs{
		OnEvent: c.handleEvent,
		OnClose: c.handleClose,
	})
	if err != nil {
		_ = c.capture.Stop()
		span.RecordError(err)
		return nil, c.failStart(ctx, "handshake", err)
	}
	c.metrics.HandshakeDuration.Record(ctx, time.Since(dialStart).Seconds())

	c.transport = tr
	c.agentRate = tr.AgentSampleRate()
	c.toSink = audio.Converter{Target: audio.Format{SampleRate: c.sink.SampleRate(), Channels: 1}, Logger: c.log}
	c.toAvatar = audio.Converter{Target: audio.Format{SampleRate: cfg.AvatarRate, Channels: 1}, Logger: c.log}
	c.readyOnce.Do(func() { close(c.ready) })

	if c.deps.Speaker != nil {
		pump, err := playback.StartPump(ctx, c.sink, c.deps.Speaker,
			playback.WithInterval(cfg.FrameDuration),
			playback.WithLogger(c.log),
		)
		if err != nil {
			_ = tr.Close()
			_ = c.capture.Stop()
			span.RecordError(err)
			return nil, c.failStart(ctx, "playback", err)
		}
		c.pump = pump
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.wg.Add(2)
	go c.sendLoop(frames)
	go c.watchDrained(runCtx)
	if c.deps.Avatar != nil {
		c.wg.Add(1)
		go c.watchAvatar(runCtx, c.deps.Avatar.Events())
	}

	c.live.Store(true)
	c.metrics.RecordSessionStart(ctx, "ok", "")
	c.metrics.ActiveSessions.Add(ctx, 1)
	c.log.Info("session: connected",
		"conversation_id", tr.ConversationID(),
		"agent_rate", c.agentRate,
		"playback_rate", c.sink.SampleRate(),
	)
	c.setStatus(StatusConnected)
	c.h.OnConnect(tr.ConversationID())

	return &Handle{
		ConversationID:  tr.ConversationID(),
		AgentSampleRate: c.agentRate,
		c:               c,
	}, nil
}

func (c *Conversation) failStart(ctx context.Context, stage string, err error) error {
	c.readyOnce.Do(func() { close(c.ready) })
	err = fmt.Errorf("session: start %s: %w", stage, err)
	c.metrics.RecordSessionStart(ctx, "failed", stage)
	c.log.Warn("session: start failed", "stage", stage, "err", err)
	c.setStatus(StatusDisconnected)
	c.h.OnError(err)
	close(c.done)
	return err
}

// End stops capture, closes the transport, stops playback and clears the
// avatar, in that order, and waits until all of it is released or ctx is
// done. End is idempotent and a no-op on a conversation that never
// connected.
func (c *Conversation) End(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}
	select {
	case <-c.startDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !c.live.Load() {
		return nil
	}
	go c.teardown(nil)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the conversation has ended. It returns nil after End,
// an error wrapping [ErrConnectionLost] after an unexpected close, and
// [ErrNotConnected] when Start was never called or failed.
func (c *Conversation) Wait(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotConnected
	}
	select {
	case <-c.startDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !c.live.Load() {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return c.endErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the conversation has ended or failed to start.
func (c *Conversation) Done() <-chan struct{} { return c.done }

// Status returns the connection status.
func (c *Conversation) Status() Status { return Status(c.status.Load()) }

// Mode returns the current conversation mode.
func (c *Conversation) Mode() Mode { return Mode(c.mode.Load()) }

// ConversationID returns the id assigned by the agent, or "" before the
// handshake completed.
func (c *Conversation) ConversationID() string {
	if !c.live.Load() {
		return ""
	}
	return c.transport.ConversationID()
}

// SetVolume sets the playback gain, clamped to [0,1]. It applies at once
// unless an interruption fade is running, in which case it becomes the gain
// restored when the fade ends.
func (c *Conversation) SetVolume(v float64) {
	v = min(max(v, 0), 1)
	c.volume.Store(math.Float64bits(v))

	c.fadeMu.Lock()
	defer c.fadeMu.Unlock()
	if c.sink != nil && !c.fading {
		c.sink.SetGain(v)
	}
}

// Volume returns the configured playback gain.
func (c *Conversation) Volume() float64 { return math.Float64frombits(c.volume.Load()) }

// InputLevel returns the RMS level (0..1) of the last frame sent upstream.
func (c *Conversation) InputLevel() float64 {
	return math.Float64frombits(c.inputLevel.Load())
}

// OutputLevel returns the RMS level (0..1) of the last block played.
func (c *Conversation) OutputLevel() float64 {
	if c.Status() != StatusConnected {
		return 0
	}
	return c.sink.Level()
}

// AvatarVisible reports whether the avatar renderer is connected.
func (c *Conversation) AvatarVisible() bool {
	return c.deps.Avatar != nil && c.deps.Avatar.Visible()
}

// ── Transport events ─────────────────────────────────────────────────────────

func (c *Conversation) handleEvent(ev convai.Event) {
	<-c.ready
	switch c.Status() {
	case StatusDisconnecting, StatusDisconnected:
		return
	}

	switch ev.Kind {
	case convai.EventAudio:
		c.handleAudio(ev)
	case convai.EventInterruption:
		c.handleInterruption(ev.EventID)
	case convai.EventAgentResponse:
		c.h.OnTranscript(Transcript{Source: SourceAI, Text: ev.Text})
	case convai.EventUserTranscript:
		c.h.OnTranscript(Transcript{Source: SourceUser, Text: ev.Text})
	case convai.EventTentativeAgentResponse:
		c.h.OnDebug(Debug{Type: "tentative_agent_response", Text: ev.Text})
	case convai.EventPing:
		c.handlePing(ev.EventID)
	case convai.EventProtocolViolation:
		c.metrics.ProtocolViolations.Add(context.Background(), 1)
		c.log.Warn("session: protocol violation", "type", ev.Type, "seq", ev.Seq, "err", ev.Err)
		c.h.OnDebug(Debug{Type: "protocol_violation", Text: ev.Type, Err: ev.Err})
	default:
		c.h.OnDebug(Debug{Type: ev.Type, Text: ev.Text})
	}
}

func (c *Conversation) stale(eventID int64) bool {
	return eventID <= c.watermark.Load()
}

func (c *Conversation) handleAudio(ev convai.Event) {
	ctx := context.Background()
	if c.stale(ev.EventID) {
		c.metrics.StaleFramesDropped.Add(ctx, 1)
		return
	}
	if len(ev.Audio) < 2 {
		return
	}

	in := audio.Frame{Data: ev.Audio, SampleRate: c.agentRate, Channels: 1}
	play := c.toSink.Convert(in)
	var face audio.Frame
	if c.deps.Avatar != nil {
		face = c.toAvatar.Convert(in)
	}
	if c.afterConvert != nil {
		c.afterConvert(ev.EventID)
	}

	c.deliverMu.Lock()
	if c.stale(ev.EventID) {
		c.deliverMu.Unlock()
		c.metrics.StaleFramesDropped.Add(ctx, 1)
		return
	}
	c.sink.Enqueue(play)
	if c.deps.Avatar != nil && len(face.Data) > 0 {
		if err := c.deps.Avatar.Write(face.Data); err != nil {
			c.log.Debug("session: avatar write skipped", "err", err)
		}
	}
	c.deliverMu.Unlock()

	c.metrics.AgentFramesPlayed.Add(ctx, 1)
	c.h.OnAudioFrame(ev.Audio)
	c.cancelFade()
	c.setMode(ModeSpeaking)
}

func (c *Conversation) handleInterruption(eventID int64) {
	c.deliverMu.Lock()
	for {
		cur := c.watermark.Load()
		if eventID <= cur || c.watermark.CompareAndSwap(cur, eventID) {
			break
		}
	}
	c.sink.Clear()
	if c.deps.Avatar != nil {
		if err := c.deps.Avatar.Clear(); err != nil {
			c.log.Debug("session: avatar clear skipped", "err", err)
		}
	}
	c.deliverMu.Unlock()

	c.metrics.Interruptions.Add(context.Background(), 1)
	c.log.Debug("session: interrupted", "event_id", eventID, "watermark", c.watermark.Load())
	c.setMode(ModeInterrupted)
	c.startFade()
}

func (c *Conversation) handlePing(eventID int64) {
	if err := c.transport.SendPong(eventID); err != nil {
		c.log.Warn("session: pong failed", "event_id", eventID, "err", err)
		c.h.OnError(fmt.Errorf("session: pong %d: %w", eventID, err))
		return
	}
	c.metrics.PingsAnswered.Add(context.Background(), 1)
}

func (c *Conversation) handleClose(err error) {
	<-c.startDone
	if !c.live.Load() {
		return
	}
	c.log.Warn("session: transport closed", "err", err)
	c.teardown(fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

// ── Fade ─────────────────────────────────────────────────────────────────────

func (c *Conversation) startFade() {
	c.fadeMu.Lock()
	defer c.fadeMu.Unlock()
	c.fadeGen++
	gen := c.fadeGen
	if c.fadeTimer != nil {
		c.fadeTimer.Stop()
	}
	c.fading = true
	c.sink.FadeGainTo(0, c.cfg.FadeDuration)
	c.fadeTimer = time.AfterFunc(c.cfg.FadeDuration, func() { c.finishFade(gen) })
}

func (c *Conversation) finishFade(gen uint64) {
	c.fadeMu.Lock()
	if gen != c.fadeGen || !c.fading {
		c.fadeMu.Unlock()
		return
	}
	c.fading = false
	c.sink.SetGain(c.Volume())
	c.fadeMu.Unlock()

	if c.mode.CompareAndSwap(int32(ModeInterrupted), int32(ModeListening)) {
		c.h.OnModeChange(ModeListening)
	}
}

// cancelFade restores the volume when agent audio resumes mid-fade.
func (c *Conversation) cancelFade() {
	c.fadeMu.Lock()
	defer c.fadeMu.Unlock()
	if !c.fading {
		return
	}
	c.fadeGen++
	c.fading = false
	if c.fadeTimer != nil {
		c.fadeTimer.Stop()
	}
	c.sink.SetGain(c.Volume())
}

// ── Background loops ─────────────────────────────────────────────────────────

func (c *Conversation) sendLoop(frames <-chan audio.Frame) {
	defer c.wg.Done()
	ctx := context.Background()
	for f := range frames {
		if c.Status() != StatusConnected {
			continue
		}
		if err := c.transport.SendAudio(f.Data); err != nil {
			c.log.Debug("session: send audio failed", "err", err)
			continue
		}
		c.inputLevel.Store(math.Float64bits(audio.LevelPCM(f.Data)))
		c.metrics.CaptureFramesSent.Add(ctx, 1)
	}
}

func (c *Conversation) watchDrained(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.sink.Drained():
			if c.mode.CompareAndSwap(int32(ModeSpeaking), int32(ModeListening)) {
				c.h.OnModeChange(ModeListening)
			}
		}
	}
}

func (c *Conversation) watchAvatar(ctx context.Context, events <-chan avatar.Event) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case avatar.EventDisconnected:
				c.log.Warn("session: avatar disconnected", "err", e.Err)
				c.h.OnError(fmt.Errorf("session: avatar disconnected: %w", errors.Join(avatar.ErrRenderer, e.Err)))
			case avatar.EventError:
				c.h.OnError(e.Err)
			default:
				c.h.OnDebug(Debug{Type: "avatar_" + e.Kind.String(), Text: e.Text})
			}
		}
	}
}

// ── State ────────────────────────────────────────────────────────────────────

func (c *Conversation) setStatus(s Status) {
	if Status(c.status.Swap(int32(s))) != s {
		c.h.OnStatusChange(s)
	}
}

func (c *Conversation) setMode(m Mode) {
	if Mode(c.mode.Swap(int32(m))) != m {
		c.h.OnModeChange(m)
	}
}

func (c *Conversation) stopFade() {
	c.fadeMu.Lock()
	defer c.fadeMu.Unlock()
	c.fadeGen++
	c.fading = false
	if c.fadeTimer != nil {
		c.fadeTimer.Stop()
	}
}

// teardown releases producers before consumers. It runs once; cause is nil
// for a deliberate End.
func (c *Conversation) teardown(cause error) {
	c.endOnce.Do(func() {
		c.setStatus(StatusDisconnecting)

		if err := c.capture.Stop(); err != nil {
			c.log.Debug("session: stop capture", "err", err)
		}
		if err := c.transport.Close(); err != nil {
			c.log.Debug("session: close transport", "err", err)
		}
		c.stopFade()
		if c.pump != nil {
			if err := c.pump.Close(); err != nil {
				c.log.Debug("session: close playback", "err", err)
			}
		}
		c.sink.Clear()
		if c.deps.Avatar != nil {
			_ = c.deps.Avatar.Clear()
		}
		c.cancel()
		c.wg.Wait()

		c.inputLevel.Store(0)
		c.endErr = cause
		c.metrics.ActiveSessions.Add(context.Background(), -1)
		c.setStatus(StatusDisconnected)
		if cause != nil {
			c.log.Warn("session: disconnected", "err", cause)
		} else {
			c.log.Info("session: ended")
		}
		c.h.OnDisconnect(cause)
		close(c.done)
	})
}
