// Command voxface runs a realtime voice conversation with an ElevenLabs
// conversational agent, optionally driving a lip-synced avatar, or a local
// push-to-talk STT → LLM → TTS loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxface/internal/config"
	"github.com/MrWong99/voxface/internal/health"
	"github.com/MrWong99/voxface/internal/observe"
	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/audio/ffmpeg"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxface.yaml", "path to the YAML configuration file")
	pushToTalk := flag.Bool("push-to-talk", false, "run the local STT → LLM → TTS loop instead of the conversational agent")
	flag.Parse()

	var overrides []config.Override
	if *pushToTalk {
		overrides = append(overrides, func(c *config.Config) { c.PushToTalk.Enabled = true })
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath, overrides...)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxface: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxface: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(os.Stderr, cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	slog.Info("voxface starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"mode", modeName(cfg),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	// Created after InitProvider so the instruments bind to the Prometheus
	// bridge.
	metrics := observe.DefaultMetrics()

	// ── Audio devices ─────────────────────────────────────────────────────────
	mic := &ffmpeg.Microphone{
		Binary:      cfg.Audio.FFmpegBinary,
		InputFormat: cfg.Audio.InputFormat,
		Device:      cfg.Audio.Device,
		Logger:      logger,
	}
	var spk audio.Speaker
	if !cfg.Audio.DisablePlayback {
		spk = &ffmpeg.Speaker{Binary: cfg.Audio.FFplayBinary, Logger: logger}
	}

	// ── Avatar (optional) ─────────────────────────────────────────────────────
	fwd, err := dialAvatar(ctx, cfg.Avatar, cfg.Conversation.Retry, logger)
	if err != nil {
		// The conversation runs without a face rather than not at all.
		slog.Warn("avatar unavailable, continuing without it", "err", err)
	}
	if fwd != nil {
		defer fwd.Close()
	}

	// ── Health & ops server ───────────────────────────────────────────────────
	hh := health.New()
	if fwd != nil {
		hh.Add(health.Avatar(fwd.Visible))
	}
	mux := http.NewServeMux()
	hh.Register(mux)
	mux.Handle("GET /metrics", tel.MetricsHandler())
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	rt := &app{
		cfg:     cfg,
		log:     logger,
		metrics: metrics,
		mic:     mic,
		spk:     spk,
		avatar:  fwd,
		health:  hh,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VolumeChanged {
			rt.setVolume(d.NewVolume)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
		}
	}, config.WithOverrides(overrides...), config.WithLogger(logger))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// Ending the voice session cancels gctx, which stops the server.
		defer stop()
		if cfg.PushToTalk.Enabled {
			return rt.runPushToTalk(gctx)
		}
		return rt.runConversation(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func modeName(cfg *config.Config) string {
	if cfg.PushToTalk.Enabled {
		return "push-to-talk"
	}
	return "conversation"
}
