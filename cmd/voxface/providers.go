package main

import (
	"fmt"
	"log/slog"
	"slices"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxface/internal/config"
	"github.com/MrWong99/voxface/internal/resilience"
	"github.com/MrWong99/voxface/pkg/provider/llm"
	"github.com/MrWong99/voxface/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/voxface/pkg/provider/llm/openai"
	"github.com/MrWong99/voxface/pkg/provider/stt"
	sttopenai "github.com/MrWong99/voxface/pkg/provider/stt/openai"
	"github.com/MrWong99/voxface/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxface/pkg/provider/tts"
	"github.com/MrWong99/voxface/pkg/provider/tts/elevenlabs"
)

// registerBuiltinProviders wires the provider implementations that ship with
// voxface into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		return sttopenai.New(entry.Key(), opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Completer, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(entry.Key(), entry.Model, opts...)
	})

	// Every other backend goes through any-llm-go, either by its own name or
	// as "anyllm" with options.backend.
	for _, backend := range anyllm.Backends {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Completer, error) {
			return newAnyLLM(backend, entry)
		})
	}
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Completer, error) {
		backend := entry.StringOption("backend")
		if !slices.Contains(anyllm.Backends, backend) {
			return nil, fmt.Errorf("anyllm: options.backend %q is not one of %v", backend, anyllm.Backends)
		}
		return newAnyLLM(backend, entry)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := entry.StringOption("voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if outputFmt := entry.StringOption("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.Key(), opts...)
	})

	for _, kind := range []string{"stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func newAnyLLM(backend string, entry config.ProviderEntry) (llm.Completer, error) {
	var opts []anyllmlib.Option
	if key := entry.Key(); key != "" {
		opts = append(opts, anyllmlib.WithAPIKey(key))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(backend, entry.Model, opts...)
}

// pushToTalkProviders are the guarded collaborators of the push-to-talk
// pipeline.
type pushToTalkProviders struct {
	STT *resilience.STTFallback
	LLM *resilience.LLMFallback
	TTS *resilience.TTSFallback
}

// buildProviders instantiates the configured providers and their fallbacks.
// Each kind is wrapped in a fallback group so a failing primary trips its
// circuit breaker and the next entry takes over.
func buildProviders(cfg *config.Config, reg *config.Registry, fb resilience.FallbackConfig) (*pushToTalkProviders, error) {
	ps := &pushToTalkProviders{}
	p := cfg.Providers

	sttCfg := fb
	sttCfg.Kind = "stt"
	primarySTT, err := reg.CreateSTT(p.STT)
	if err != nil {
		return nil, err
	}
	ps.STT = resilience.NewSTTFallback(primarySTT, p.STT.Name, sttCfg)
	for _, e := range p.STTFallbacks {
		t, err := reg.CreateSTT(e)
		if err != nil {
			return nil, err
		}
		ps.STT.AddFallback(e.Name, t)
	}

	llmCfg := fb
	llmCfg.Kind = "llm"
	primaryLLM, err := reg.CreateLLM(p.LLM)
	if err != nil {
		return nil, err
	}
	ps.LLM = resilience.NewLLMFallback(primaryLLM, p.LLM.Name, llmCfg)
	for _, e := range p.LLMFallbacks {
		c, err := reg.CreateLLM(e)
		if err != nil {
			return nil, err
		}
		ps.LLM.AddFallback(e.Name, c)
	}

	ttsCfg := fb
	ttsCfg.Kind = "tts"
	primaryTTS, err := reg.CreateTTS(p.TTS)
	if err != nil {
		return nil, err
	}
	ps.TTS = resilience.NewTTSFallback(primaryTTS, p.TTS.Name, ttsCfg)
	for _, e := range p.TTSFallbacks {
		s, err := reg.CreateTTS(e)
		if err != nil {
			return nil, err
		}
		if err := ps.TTS.AddFallback(e.Name, s); err != nil {
			return nil, err
		}
	}

	slog.Info("providers created",
		"stt", ps.STT.Group().Names(),
		"llm", ps.LLM.Group().Names(),
		"tts", ps.TTS.Group().Names(),
	)
	return ps, nil
}
