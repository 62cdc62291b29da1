package audio_test

import (
	"testing"

	"github.com/MrWong99/voxface/pkg/audio"
)

func TestDownmix_Stereo(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := audio.EncodePCM16([]int16{100, 200, -100, -200})
	got := audio.DecodePCM16(audio.Downmix(stereo, 2))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_NoOverflow(t *testing.T) {
	stereo := audio.EncodePCM16([]int16{32767, 32767, -32768, -32768})
	got := audio.DecodePCM16(audio.Downmix(stereo, 2))
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", got)
	}
}

func TestDownmix_FourChannels(t *testing.T) {
	pcm := audio.EncodePCM16([]int16{100, 200, 300, 400})
	got := audio.DecodePCM16(audio.Downmix(pcm, 4))
	if len(got) != 1 || got[0] != 250 {
		t.Errorf("got %v, want [250]", got)
	}
}

func TestConverter_NoOp(t *testing.T) {
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.Frame{
		Data:       audio.EncodePCM16([]int16{100, 200}),
		SampleRate: 16000,
		Channels:   1,
	}
	result := conv.Convert(frame)
	if &result.Data[0] != &frame.Data[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestConverter_StereoDownsample(t *testing.T) {
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	stereo := make([]int16, 960*2) // 20 ms at 48 kHz stereo
	frame := audio.Frame{Data: audio.EncodePCM16(stereo), SampleRate: 48000, Channels: 2}

	result := conv.Convert(frame)
	if result.SampleRate != 16000 || result.Channels != 1 {
		t.Fatalf("unexpected format: %dHz %dch", result.SampleRate, result.Channels)
	}
	if got := len(result.Samples()); got != 320 {
		t.Errorf("got %d samples, want 320", got)
	}
}

func TestConverter_UpsampleFallback(t *testing.T) {
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.Frame{
		Data:       audio.EncodePCM16([]int16{1000, 2000, 3000, 4000}),
		SampleRate: 8000,
		Channels:   1,
	}
	result := conv.Convert(frame)
	got := result.Samples()
	if len(got) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
}

func TestConverter_MisalignedFrame(t *testing.T) {
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.Frame{
		Data:       []byte{1, 2, 3}, // odd, invalid for int16 PCM
		SampleRate: 48000,
		Channels:   1,
	}
	if result := conv.Convert(frame); len(result.Data) != 0 {
		t.Errorf("expected empty data for misaligned frame, got %d bytes", len(result.Data))
	}
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("%+v: got %q, want %q", tt.f, got, tt.want)
		}
	}
}
