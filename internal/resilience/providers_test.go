package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxface/pkg/audio"
	"github.com/MrWong99/voxface/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxface/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voxface/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voxface/pkg/provider/tts/mock"
)

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Text: "hello there"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	clip := audio.Frame{Data: []byte{1, 0, 2, 0}, SampleRate: 16000, Channels: 1}
	text, err := fb.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(primary.Calls()), len(secondary.Calls()))
	}
	if names := fb.Group().Names(); len(names) != 2 || names[0] != "whisper" {
		t.Errorf("names = %v", names)
	}
}

func TestLLMFallback_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{Response: &llm.Response{Content: "from primary"}}
	secondary := &llmmock.Provider{Response: &llm.Response{Content: "from secondary"}}

	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("anthropic", secondary)

	resp, err := fb.Complete(context.Background(), llm.UserTurn("sys", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(secondary.Calls()) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{Err: errTest}, "a", FallbackConfig{})
	fb.AddFallback("b", &llmmock.Provider{Err: errTest})
	if _, err := fb.Complete(context.Background(), llm.UserTurn("", "hi")); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	primary := &ttsmock.Provider{Err: errors.New("primary down")}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	if err := fb.AddFallback("backup", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	ch, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var chunks [][]byte
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 || string(chunks[0]) != "fallback-audio" {
		t.Errorf("chunks = %q", chunks)
	}
	if got := secondary.Texts(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("secondary texts = %v", got)
	}
}

func TestTTSFallback_RateMismatch(t *testing.T) {
	fb := NewTTSFallback(&ttsmock.Provider{Rate: 16000}, "a", FallbackConfig{})
	if err := fb.AddFallback("b", &ttsmock.Provider{Rate: 24000}); err == nil {
		t.Fatal("expected error for a fallback with a different sample rate")
	}
	if fb.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d, want 16000", fb.SampleRate())
	}
	if n := len(fb.Group().Names()); n != 1 {
		t.Errorf("group has %d entries, want 1", n)
	}
}
