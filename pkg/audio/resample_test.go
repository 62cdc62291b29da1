package audio_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/voxface/pkg/audio"
)

func randomSamples(r *rand.Rand, n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(r.IntN(65536) - 32768)
	}
	return s
}

func TestResample_Identity(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, rate := range []int{8000, 16000, 22050, 24000, 44100, 48000} {
		in := randomSamples(r, 257)
		out, err := audio.Resample(in, rate, rate)
		if err != nil {
			t.Fatalf("rate %d: unexpected error: %v", rate, err)
		}
		if len(out) != len(in) {
			t.Fatalf("rate %d: length %d, want %d", rate, len(out), len(in))
		}
		for i := range in {
			if out[i] != in[i] {
				t.Fatalf("rate %d: sample %d changed: %d -> %d", rate, i, in[i], out[i])
			}
		}
	}
}

func TestResample_RejectsUpsampling(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	_, err := audio.Resample(in, 8000, 16000)
	if !errors.Is(err, audio.ErrUpsampleRequested) {
		t.Fatalf("expected ErrUpsampleRequested, got %v", err)
	}
}

func TestResample_InvalidRates(t *testing.T) {
	if _, err := audio.Resample([]int16{1}, 0, 16000); err == nil {
		t.Error("expected error for zero source rate")
	}
	if _, err := audio.Resample([]int16{1}, 16000, -1); err == nil {
		t.Error("expected error for negative target rate")
	}
}

func TestResample_DecimationLength(t *testing.T) {
	for _, n := range []int{3, 4, 5, 100, 959, 960, 961, 4801} {
		out, err := audio.Resample(make([]int16, n), 48000, 16000)
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if len(out) != n/3 {
			t.Errorf("n=%d: got %d samples, want %d", n, len(out), n/3)
		}
	}
}

func TestResample_AmplitudeBound(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	// Full-scale square wave maximises FIR overshoot.
	square := make([]int16, 2000)
	for i := range square {
		if (i/7)%2 == 0 {
			square[i] = math.MaxInt16
		} else {
			square[i] = math.MinInt16
		}
	}
	inputs := [][]int16{square, randomSamples(r, 3000)}

	pairs := [][2]int{{48000, 16000}, {24000, 16000}, {44100, 16000}, {22050, 8000}}
	for _, in := range inputs {
		for _, p := range pairs {
			out, err := audio.Resample(in, p[0], p[1])
			if err != nil {
				t.Fatalf("%d->%d: %v", p[0], p[1], err)
			}
			for i, s := range out {
				if int(s) < math.MinInt16 || int(s) > math.MaxInt16 {
					t.Fatalf("%d->%d: sample %d out of range: %d", p[0], p[1], i, s)
				}
			}
		}
	}
}

func TestResample_PreservesDC(t *testing.T) {
	in := make([]int16, 480)
	for i := range in {
		in[i] = 1000
	}
	out, err := audio.Resample(in, 48000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	// Away from the zero-padded edges the normalised kernel passes DC unchanged.
	for i := 10; i < len(out)-10; i++ {
		if out[i] != 1000 {
			t.Fatalf("sample %d: got %d, want 1000", i, out[i])
		}
	}
}

func TestResample_AttenuatesAboveCutoff(t *testing.T) {
	// 12 kHz is above the destination Nyquist and would alias to 4 kHz.
	const n = 4800
	high := make([]int16, n)
	low := make([]int16, n)
	for i := range n {
		high[i] = int16(10000 * math.Sin(2*math.Pi*12000*float64(i)/48000))
		low[i] = int16(10000 * math.Sin(2*math.Pi*1000*float64(i)/48000))
	}
	outHigh, _ := audio.Resample(high, 48000, 16000)
	outLow, _ := audio.Resample(low, 48000, 16000)

	if lh, ll := audio.Level(outHigh[20:len(outHigh)-20]), audio.Level(outLow[20:len(outLow)-20]); lh*10 > ll {
		t.Errorf("12 kHz level %.4f not attenuated relative to 1 kHz level %.4f", lh, ll)
	}
}

func TestResampleFrame(t *testing.T) {
	f := audio.FrameFromSamples(make([]int16, 480), 24000)
	out, err := audio.ResampleFrame(f, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Errorf("unexpected format %dHz %dch", out.SampleRate, out.Channels)
	}
	if got := len(out.Samples()); got != 320 {
		t.Errorf("got %d samples, want 320", got)
	}

	same, err := audio.ResampleFrame(f, 24000)
	if err != nil {
		t.Fatal(err)
	}
	if &same.Data[0] != &f.Data[0] {
		t.Error("expected passthrough for equal rates")
	}
}
