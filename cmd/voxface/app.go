package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxface/internal/config"
	"github.com/MrWong99/voxface/internal/health"
	"github.com/MrWong99/voxface/internal/observe"
	"github.com/MrWong99/voxface/internal/pushtotalk"
	"github.com/MrWong99/voxface/internal/resilience"
	"github.com/MrWong99/voxface/internal/session"
	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/audio/capture"
	"github.com/MrWong99/voxface/pkg/audio/playback"
	"github.com/MrWong99/voxface/pkg/avatar"
	"github.com/MrWong99/voxface/pkg/convai"
)

// app holds the long-lived pieces shared by both modes.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics
	mic     audio.Microphone
	spk     audio.Speaker
	avatar  *avatar.Forwarder
	health  *health.Handler

	stdin  io.Reader
	stdout io.Writer

	// exactly one of these is set, depending on the mode
	conv atomic.Pointer[session.Conversation]
	sink atomic.Pointer[playback.Sink]
}

// setVolume applies a hot-reloaded volume to whatever is playing.
func (a *app) setVolume(v float64) {
	if c := a.conv.Load(); c != nil {
		c.SetVolume(v)
	}
	if s := a.sink.Load(); s != nil {
		s.SetGain(v)
	}
	a.log.Info("volume changed", "volume", v)
}

// ── Conversation mode ────────────────────────────────────────────────────────

// runConversation keeps a conversation with the configured agent alive until
// ctx is done, reconnecting with a fresh retry budget whenever the
// connection drops.
func (a *app) runConversation(ctx context.Context) error {
	c := a.cfg.Conversation
	apiKey := c.ResolveAPIKey()

	a.health.Add(health.Conversation(func() session.Status {
		if conv := a.conv.Load(); conv != nil {
			return conv.Status()
		}
		return session.StatusDisconnected
	}))

	dialer := &session.ConvaiDialer{
		BaseURL:          c.BaseURL,
		APIKey:           apiKey,
		HandshakeTimeout: c.HandshakeTimeout,
		Logger:           a.log,
	}
	handlers := newConsoleHandlers(a.log, a.stdout)

	start := func(ctx context.Context) (*session.Conversation, error) {
		var signedURL string
		if c.SignedURL {
			u, err := convai.FetchSignedURL(ctx, nil, c.APIURL, apiKey, c.AgentID)
			if err != nil {
				return nil, err
			}
			signedURL = u
		}

		conv := session.New(session.Deps{
			Dialer:     dialer,
			Microphone: a.mic,
			Speaker:    a.spk,
			Avatar:     a.avatar,
		}, session.WithLogger(a.log), session.WithMetrics(a.metrics))
		a.conv.Store(conv)

		_, err := conv.Start(ctx, session.Config{
			AgentID:       c.AgentID,
			SignedURL:     signedURL,
			CaptureRate:   c.CaptureRate,
			PlaybackRate:  c.PlaybackRate,
			AvatarRate:    a.cfg.Avatar.SampleRate,
			FrameDuration: c.FrameDuration,
			FadeDuration:  c.FadeDuration,
			Handlers:      handlers,
		})
		if err != nil {
			var dev *audio.DeviceUnavailableError
			if errors.As(err, &dev) {
				a.log.Error("microphone unavailable", "remediation", dev.Remediation())
			}
			return nil, err
		}
		// Config.Volume treats zero as full volume; SetVolume mutes.
		conv.SetVolume(c.EffectiveVolume())
		fmt.Fprintln(a.stdout, "connected; start talking (Ctrl+C to quit)")
		return conv, nil
	}

	policy := session.RetryPolicy{
		MaxRetries: c.Retry.MaxRetries,
		Backoff:    c.Retry.Backoff,
		MaxBackoff: c.Retry.MaxBackoff,
		Logger:     a.log,
		Metrics:    a.metrics,
	}
	return session.Supervise(ctx, policy, start)
}

// ── Push-to-talk mode ────────────────────────────────────────────────────────

// runPushToTalk records between two presses of Enter and plays the reply.
// A new recording interrupts the reply in progress.
func (a *app) runPushToTalk(ctx context.Context) error {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(a.cfg, reg, resilience.FallbackConfig{
		Metrics: a.metrics,
		Logger:  a.log,
	})
	if err != nil {
		return err
	}

	c := a.cfg.Conversation
	var sink *playback.Sink
	if a.spk != nil {
		sink = playback.New(c.PlaybackRate, playback.WithGain(c.EffectiveVolume()))
		pump, err := playback.StartPump(ctx, sink, a.spk,
			playback.WithInterval(c.FrameDuration),
			playback.WithLogger(a.log),
		)
		if err != nil {
			return fmt.Errorf("open speaker: %w", err)
		}
		defer pump.Close()
		a.sink.Store(sink)
	}

	p := a.cfg.PushToTalk
	pipeline, err := pushtotalk.New(pushtotalk.Deps{
		STT:    providers.STT,
		LLM:    providers.LLM,
		TTS:    providers.TTS,
		Sink:   sink,
		Avatar: a.avatar,
	}, pushtotalk.Config{
		SystemPrompt: p.SystemPrompt,
		MaxTokens:    p.MaxTokens,
		Temperature:  p.Temperature,
		AvatarRate:   a.cfg.Avatar.SampleRate,
		Handlers:     newConsoleHandlers(a.log, a.stdout),
	}, pushtotalk.WithLogger(a.log), pushtotalk.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	go pipeline.WatchDrained(ctx)

	src := capture.New(a.mic,
		capture.WithSampleRate(c.CaptureRate),
		capture.WithFrameDuration(c.FrameDuration),
		capture.WithLogger(a.log),
	)
	frames, err := src.Start(ctx)
	if err != nil {
		var dev *audio.DeviceUnavailableError
		if errors.As(err, &dev) {
			a.log.Error("microphone unavailable", "remediation", dev.Remediation())
		}
		return err
	}
	defer src.Stop()

	rec := pushtotalk.NewRecorder(c.CaptureRate, p.MaxClip)
	go rec.Run(ctx, frames)

	return a.pushToTalkLoop(ctx, rec, pipeline)
}

func (a *app) pushToTalkLoop(ctx context.Context, rec *pushtotalk.Recorder, pipeline *pushtotalk.Pipeline) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.stdin)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(a.stdout, "press Enter to talk, Enter again to send, q to quit")
	for {
		select {
		case <-ctx.Done():
			pipeline.Interrupt()
			return nil
		case line, ok := <-lines:
			if !ok || line == "q" {
				pipeline.Interrupt()
				return nil
			}
			if !rec.Recording() {
				pipeline.Interrupt()
				rec.Begin()
				fmt.Fprintln(a.stdout, "recording...")
				continue
			}
			clip, truncated := rec.Finish()
			if truncated {
				a.log.Warn("recording hit the length limit and was truncated")
			}
			fmt.Fprintf(a.stdout, "sending %s of audio\n", clip.Duration().Round(10*time.Millisecond))
			go func() {
				res, err := pipeline.Turn(ctx, clip)
				switch {
				case errors.Is(err, pushtotalk.ErrNoSpeech):
					fmt.Fprintln(a.stdout, "(no speech detected)")
				case err != nil:
					// Reported through the handlers.
				default:
					a.log.Debug("turn finished", "reply_audio", res.Audio)
				}
			}()
		}
	}
}
