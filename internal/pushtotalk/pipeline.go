// Package pushtotalk runs the cascaded push-to-talk mode: a recorded clip is
// transcribed, answered by a language model, synthesized, and played through
// the same playback sink and avatar forwarder as a realtime conversation.
package pushtotalk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxface/internal/observe"
	"github.com/MrWong99/voxface/internal/resilience"
	"github.com/MrWong99/voxface/internal/session"
	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/audio/playback"
	"github.com/MrWong99/voxface/pkg/avatar"
	"github.com/MrWong99/voxface/pkg/provider/llm"
	"github.com/MrWong99/voxface/pkg/provider/stt"
	"github.com/MrWong99/voxface/pkg/provider/tts"
)

// Defaults for the reply request.
const (
	DefaultSystemPrompt = "You are a friendly assistant. Keep answers short and conversational; they will be spoken aloud."
	DefaultMaxTokens    = 150
	DefaultTemperature  = 0.7
)

// ErrNoSpeech is returned when the transcript of a clip is empty.
var ErrNoSpeech = errors.New("pushtotalk: no speech in clip")

// Deps are the collaborators of a [Pipeline]. STT, LLM and TTS are required;
// Sink and Avatar are optional outputs, and at least one must be set.
type Deps struct {
	STT stt.Transcriber
	LLM llm.Completer
	TTS tts.Synthesizer

	Sink   *playback.Sink
	Avatar *avatar.Forwarder
}

// Config tunes a [Pipeline].
type Config struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	// AvatarRate is the PCM rate the avatar renderer expects. Default 16000.
	AvatarRate int

	// Breaker configures the circuit breaker wrapped around each
	// collaborator that is not already a resilience fallback.
	Breaker resilience.CircuitBreakerConfig

	// Handlers receives transcripts, mode changes and reply audio. Nil means
	// session.NopHandlers.
	Handlers session.Handlers
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.AvatarRate <= 0 {
		c.AvatarRate = session.DefaultAvatarRate
	}
	if c.Handlers == nil {
		c.Handlers = session.NopHandlers{}
	}
	return c
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to observe.Logger of the turn's
// context.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Result summarises one completed turn.
type Result struct {
	UserText  string
	ReplyText string

	// Audio is the duration of synthesized reply audio.
	Audio time.Duration
}

// Pipeline answers push-to-talk turns. Turns are serialised; starting a new
// one interrupts the turn in flight.
type Pipeline struct {
	cfg     Config
	stt     stt.Transcriber
	llm     llm.Completer
	tts     tts.Synthesizer
	sink    *playback.Sink
	avatar  *avatar.Forwarder
	log     *slog.Logger
	metrics *observe.Metrics

	turnMu sync.Mutex

	mu         sync.Mutex
	cancelTurn context.CancelFunc
	mode       session.Mode
}

// New creates a Pipeline.
func New(deps Deps, cfg Config, opts ...Option) (*Pipeline, error) {
	var errs []error
	if deps.STT == nil {
		errs = append(errs, errors.New("pushtotalk: STT is required"))
	}
	if deps.LLM == nil {
		errs = append(errs, errors.New("pushtotalk: LLM is required"))
	}
	if deps.TTS == nil {
		errs = append(errs, errors.New("pushtotalk: TTS is required"))
	}
	if deps.Sink == nil && deps.Avatar == nil {
		errs = append(errs, errors.New("pushtotalk: a playback sink or an avatar is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg.withDefaults(),
		sink:    deps.Sink,
		avatar:  deps.Avatar,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}

	fb := resilience.FallbackConfig{CircuitBreaker: p.cfg.Breaker, Metrics: p.metrics, Logger: p.log}
	p.stt = guardSTT(deps.STT, fb)
	p.llm = guardLLM(deps.LLM, fb)
	p.tts = guardTTS(deps.TTS, fb)
	return p, nil
}

func guardSTT(t stt.Transcriber, cfg resilience.FallbackConfig) stt.Transcriber {
	if g, ok := t.(*resilience.STTFallback); ok {
		return g
	}
	return resilience.NewSTTFallback(t, "stt", cfg)
}

func guardLLM(c llm.Completer, cfg resilience.FallbackConfig) llm.Completer {
	if g, ok := c.(*resilience.LLMFallback); ok {
		return g
	}
	return resilience.NewLLMFallback(c, "llm", cfg)
}

func guardTTS(s tts.Synthesizer, cfg resilience.FallbackConfig) tts.Synthesizer {
	if g, ok := s.(*resilience.TTSFallback); ok {
		return g
	}
	return resilience.NewTTSFallback(s, "tts", cfg)
}

// Mode returns the current output mode.
func (p *Pipeline) Mode() session.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *Pipeline) setMode(m session.Mode) {
	p.mu.Lock()
	changed := p.mode != m
	p.mode = m
	p.mu.Unlock()
	if changed {
		p.cfg.Handlers.OnModeChange(m)
	}
}

// Interrupt cancels the turn in flight, if any, and silences both outputs.
func (p *Pipeline) Interrupt() {
	p.mu.Lock()
	cancel := p.cancelTurn
	p.cancelTurn = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.silence()
}

func (p *Pipeline) silence() {
	if p.sink != nil {
		p.sink.Clear()
	}
	if p.avatar != nil {
		_ = p.avatar.Clear()
	}
}

// Turn transcribes clip, asks the model for a reply, and streams the
// synthesized reply to the outputs. It returns once synthesis has finished;
// playback may still be draining.
//
// A turn in flight is interrupted first. An interrupted turn returns
// context.Canceled.
func (p *Pipeline) Turn(ctx context.Context, clip audio.Frame) (*Result, error) {
	p.Interrupt()

	p.turnMu.Lock()
	defer p.turnMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancelTurn = cancel
	p.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "pushtotalk.turn")
	defer span.End()
	log := p.log
	if log == nil {
		log = observe.Logger(ctx)
	}

	res, err := p.turn(ctx, clip, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNoSpeech) {
			p.cfg.Handlers.OnError(err)
		}
		p.setMode(session.ModeListening)
		return res, err
	}
	span.SetAttributes(
		attribute.Int("user_chars", len(res.UserText)),
		attribute.Int("reply_chars", len(res.ReplyText)),
		attribute.Float64("reply_audio_s", res.Audio.Seconds()),
	)
	return res, nil
}

func (p *Pipeline) turn(ctx context.Context, clip audio.Frame, log *slog.Logger) (*Result, error) {
	res := &Result{}
	if len(clip.Data) < 2 {
		return res, stt.ErrEmptyClip
	}

	text, err := p.stt.Transcribe(ctx, clip)
	if err != nil {
		return res, fmt.Errorf("pushtotalk: transcribe: %w", err)
	}
	res.UserText = strings.TrimSpace(text)
	if res.UserText == "" {
		return res, ErrNoSpeech
	}
	p.cfg.Handlers.OnTranscript(session.Transcript{Source: session.SourceUser, Text: res.UserText})
	log.Info("pushtotalk: transcribed", "clip", clip.Duration(), "chars", len(res.UserText))

	req := llm.UserTurn(p.cfg.SystemPrompt, res.UserText)
	req.MaxTokens = p.cfg.MaxTokens
	req.Temperature = p.cfg.Temperature
	reply, err := p.llm.Complete(ctx, req)
	if err != nil {
		return res, fmt.Errorf("pushtotalk: complete: %w", err)
	}
	if reply != nil {
		res.ReplyText = strings.TrimSpace(reply.Content)
	}
	if res.ReplyText == "" {
		return res, errors.New("pushtotalk: complete: empty reply")
	}
	p.cfg.Handlers.OnTranscript(session.Transcript{Source: session.SourceAI, Text: res.ReplyText})

	chunks, err := p.tts.Synthesize(ctx, res.ReplyText)
	if err != nil {
		return res, fmt.Errorf("pushtotalk: synthesize: %w", err)
	}
	res.Audio = p.play(ctx, chunks, p.tts.SampleRate(), log)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if p.sink == nil {
		p.setMode(session.ModeListening)
	}
	log.Info("pushtotalk: replied", "chars", len(res.ReplyText), "audio", res.Audio)
	return res, nil
}

// play forwards synthesized chunks to the outputs and returns the total
// duration played.
func (p *Pipeline) play(ctx context.Context, chunks <-chan []byte, rate int, log *slog.Logger) time.Duration {
	defer func() { go audio.Drain(chunks) }()

	var toSink audio.Converter
	if p.sink != nil {
		toSink = audio.Converter{Target: audio.Format{SampleRate: p.sink.SampleRate(), Channels: 1}, Logger: log}
	}
	toAvatar := audio.Converter{Target: audio.Format{SampleRate: p.cfg.AvatarRate, Channels: 1}, Logger: log}

	var total time.Duration
	carry := []byte(nil)
	for {
		select {
		case <-ctx.Done():
			return total
		case pcm, ok := <-chunks:
			if !ok {
				if p.avatar != nil {
					_ = p.avatar.Flush()
				}
				return total
			}
			// Chunks may split a sample.
			pcm = append(carry, pcm...)
			n := len(pcm) &^ 1
			carry = append([]byte(nil), pcm[n:]...)
			if n == 0 {
				continue
			}
			f := audio.Frame{Data: pcm[:n], SampleRate: rate, Channels: 1, Timestamp: total}
			total += f.Duration()

			p.setMode(session.ModeSpeaking)
			if p.sink != nil {
				p.sink.Enqueue(toSink.Convert(f))
			}
			if p.avatar != nil {
				_ = p.avatar.Write(toAvatar.Convert(f).Data)
			}
			p.cfg.Handlers.OnAudioFrame(f.Data)
		}
	}
}

// WatchDrained flips the mode back to listening whenever the sink runs dry.
// It returns when ctx is done. Without a sink it returns at once.
func (p *Pipeline) WatchDrained(ctx context.Context) {
	if p.sink == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.sink.Drained():
			p.mu.Lock()
			speaking := p.mode == session.ModeSpeaking
			p.mu.Unlock()
			if speaking {
				p.setMode(session.ModeListening)
			}
		}
	}
}
