package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/provider/llm"
	"github.com/MrWong99/voxface/pkg/provider/stt"
	"github.com/MrWong99/voxface/pkg/provider/tts"
)

// ── STT ──────────────────────────────────────────────────────────────────────

// STTFallback implements [stt.Transcriber] with failover across backends.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Kind = "stt"
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Group exposes the underlying group, e.g. for breaker inspection.
func (f *STTFallback) Group() *FallbackGroup[stt.Transcriber] { return f.group }

// Transcribe implements stt.Transcriber.
func (f *STTFallback) Transcribe(ctx context.Context, clip audio.Frame) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, clip)
	})
}

// ── LLM ──────────────────────────────────────────────────────────────────────

// LLMFallback implements [llm.Completer] with failover across backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Completer]
}

var _ llm.Completer = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Completer, primaryName string, cfg FallbackConfig) *LLMFallback {
	cfg.Kind = "llm"
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional completer.
func (f *LLMFallback) AddFallback(name string, c llm.Completer) {
	f.group.AddFallback(name, c)
}

// Group exposes the underlying group.
func (f *LLMFallback) Group() *FallbackGroup[llm.Completer] { return f.group }

// Complete implements llm.Completer.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, c llm.Completer) (*llm.Response, error) {
		return c.Complete(ctx, req)
	})
}

// ── TTS ──────────────────────────────────────────────────────────────────────

// TTSFallback implements [tts.Synthesizer] with failover across backends.
// Only starting the stream is covered; once audio flows, a backend that
// stops early just ends the stream.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	cfg.Kind = "tts"
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesizer. Every entry must emit the
// primary's sample rate.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) error {
	if got, want := s.SampleRate(), f.SampleRate(); got != want {
		return fmt.Errorf("resilience: tts fallback %q emits %d Hz, primary emits %d Hz", name, got, want)
	}
	f.group.AddFallback(name, s)
	return nil
}

// Group exposes the underlying group.
func (f *TTSFallback) Group() *FallbackGroup[tts.Synthesizer] { return f.group }

// Synthesize implements tts.Synthesizer.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, s tts.Synthesizer) (<-chan []byte, error) {
		return s.Synthesize(ctx, text)
	})
}

// SampleRate implements tts.Synthesizer.
func (f *TTSFallback) SampleRate() int {
	return f.group.Primary().SampleRate()
}
