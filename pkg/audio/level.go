package audio

import "math"

// Level returns the RMS of samples normalised to 0..1 (full scale = 1).
// Returns 0 for an empty slice.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return min(math.Sqrt(sum/float64(len(samples)))/32768.0, 1)
}

// LevelPCM is [Level] over little-endian PCM bytes.
func LevelPCM(pcm []byte) float64 {
	return Level(DecodePCM16(pcm))
}
