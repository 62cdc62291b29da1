package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxface/pkg/audio"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", make([]int16, 64), 0},
		{"full scale negative", []int16{-32768, -32768}, 1},
		{"half scale", []int16{16384, -16384, 16384, -16384}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audio.Level(tt.samples); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestLevelPCM(t *testing.T) {
	pcm := audio.EncodePCM16([]int16{16384, -16384})
	if got := audio.LevelPCM(pcm); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("got %f, want 0.5", got)
	}
}
