package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxface/internal/config"
	"github.com/MrWong99/voxface/internal/resilience"
	"github.com/MrWong99/voxface/internal/session"
	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxface/pkg/provider/llm/mock"
	"github.com/MrWong99/voxface/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxface/pkg/provider/stt/mock"
	"github.com/MrWong99/voxface/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxface/pkg/provider/tts/mock"
)

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_JSONAndLevelVar(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	log := newLogger(&buf, config.LogFormatJSON, level)

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	level.Set(slog.LevelDebug)
	log.Debug("shown", "k", "v")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if got := reg.Names("stt"); !slices.Equal(got, []string{"openai", "whisper"}) {
		t.Errorf("stt providers = %v", got)
	}
	if got := reg.Names("tts"); !slices.Equal(got, []string{"elevenlabs"}) {
		t.Errorf("tts providers = %v", got)
	}
	llms := reg.Names("llm")
	for _, want := range []string{"openai", "anyllm", "ollama", "anthropic"} {
		if !slices.Contains(llms, want) {
			t.Errorf("llm providers %v missing %q", llms, want)
		}
	}
}

func TestRegisterBuiltinProviders_Factories(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"}); err != nil {
		t.Errorf("whisper: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "openai"}); err == nil {
		t.Error("openai stt without key should fail")
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai llm: %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "anyllm", Options: map[string]any{"backend": "nope"}}); err == nil {
		t.Error("anyllm with unknown backend should fail")
	}
	syn, err := reg.CreateTTS(config.ProviderEntry{
		Name:    "elevenlabs",
		APIKey:  "xi-test",
		Options: map[string]any{"output_format": "pcm_24000"},
	})
	if err != nil {
		t.Fatalf("elevenlabs: %v", err)
	}
	if syn.SampleRate() != 24000 {
		t.Errorf("elevenlabs rate = %d, want 24000", syn.SampleRate())
	}
}

func mockRegistry(ttsRates map[string]int) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Transcriber, error) {
		return &sttmock.Transcriber{Text: "hello"}, nil
	})
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Transcriber, error) {
		return &sttmock.Transcriber{Err: errors.New("down")}, nil
	})
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Completer, error) {
		return &llmmock.Provider{}, nil
	})
	for name, rate := range ttsRates {
		reg.RegisterTTS(name, func(config.ProviderEntry) (tts.Synthesizer, error) {
			return &ttsmock.Provider{Rate: rate}, nil
		})
	}
	return reg
}

func sttClip() audio.Frame {
	return audio.Frame{Data: make([]byte, 3200), SampleRate: 16000}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "broken"},
		STTFallbacks: []config.ProviderEntry{{Name: "mock"}},
		LLM:          config.ProviderEntry{Name: "mock"},
		TTS:          config.ProviderEntry{Name: "a"},
		TTSFallbacks: []config.ProviderEntry{{Name: "b"}},
	}}
	ps, err := buildProviders(cfg, mockRegistry(map[string]int{"a": 16000, "b": 16000}), resilience.FallbackConfig{})
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if got := ps.STT.Group().Names(); !slices.Equal(got, []string{"broken", "mock"}) {
		t.Errorf("stt group = %v", got)
	}
	if got := ps.TTS.Group().Names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("tts group = %v", got)
	}

	text, err := ps.STT.Transcribe(context.Background(), sttClip())
	if err != nil || text != "hello" {
		t.Errorf("Transcribe through fallback = %q, %v", text, err)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	tests := []struct {
		name string
		p    config.ProvidersConfig
		want string
	}{
		{
			name: "unregistered primary",
			p: config.ProvidersConfig{
				STT: config.ProviderEntry{Name: "nope"},
			},
			want: `stt/"nope"`,
		},
		{
			name: "tts rate mismatch",
			p: config.ProvidersConfig{
				STT:          config.ProviderEntry{Name: "mock"},
				LLM:          config.ProviderEntry{Name: "mock"},
				TTS:          config.ProviderEntry{Name: "a"},
				TTSFallbacks: []config.ProviderEntry{{Name: "c"}},
			},
			want: "24000 Hz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Providers: tt.p}
			_, err := buildProviders(cfg, mockRegistry(map[string]int{"a": 16000, "c": 24000}), resilience.FallbackConfig{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestConsoleHandlers_PrintsTranscripts(t *testing.T) {
	var out bytes.Buffer
	h := newConsoleHandlers(slog.New(slog.DiscardHandler), &out)
	h.OnTranscript(session.Transcript{Source: session.SourceUser, Text: "hi there"})
	h.OnTranscript(session.Transcript{Source: session.SourceAI, Text: "hello!"})

	want := "   you: hi there\n agent: hello!\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}
