package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	// FilterTaps is the length of the anti-aliasing kernel. Odd, so the
	// kernel has a centre tap and zero group-delay skew.
	FilterTaps = 31

	// cutoffRatio places the low-pass cutoff below the destination Nyquist.
	cutoffRatio = 0.45
)

// ErrUpsampleRequested is returned by [Resample] when toRate exceeds
// fromRate. It indicates a configuration defect at the call site.
var ErrUpsampleRequested = errors.New("audio: upsampling is not supported")

// kernels memoises low-pass kernels per rate pair.
var kernels sync.Map // map[[2]int][]float64

// Resample converts mono PCM samples from fromRate to toRate.
//
// The signal is first low-pass filtered at the original rate with a
// Hamming-windowed sinc kernel (cutoff 0.45*toRate) and then decimated by
// linear interpolation. Output samples are rounded and clamped to the int16
// range. Equal rates return samples unchanged.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate {
		return samples, nil
	}
	if toRate > fromRate {
		return nil, fmt.Errorf("%w: %d -> %d", ErrUpsampleRequested, fromRate, toRate)
	}

	filtered := convolve(samples, lowPassKernel(fromRate, toRate))

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := filtered[idx]
		s1 := s0
		if idx+1 < len(filtered) {
			s1 = filtered[idx+1]
		}
		out[i] = clamp16(math.Round(s0 + (s1-s0)*frac))
	}
	return out, nil
}

// ResampleFrame resamples a mono frame to toRate. The returned frame keeps
// the input timestamp.
func ResampleFrame(f Frame, toRate int) (Frame, error) {
	if f.SampleRate == toRate {
		return f, nil
	}
	out, err := Resample(f.Samples(), f.SampleRate, toRate)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Data:       EncodePCM16(out),
		SampleRate: toRate,
		Channels:   1,
		Timestamp:  f.Timestamp,
	}, nil
}

// lowPassKernel returns the normalised kernel for the rate pair, building it
// on first use.
func lowPassKernel(fromRate, toRate int) []float64 {
	key := [2]int{fromRate, toRate}
	if k, ok := kernels.Load(key); ok {
		return k.([]float64)
	}
	k, _ := kernels.LoadOrStore(key, buildKernel(FilterTaps, cutoffRatio*float64(toRate)/float64(fromRate)))
	return k.([]float64)
}

// buildKernel designs a windowed-sinc low-pass filter. fc is the cutoff as a
// fraction of the sampling rate.
func buildKernel(taps int, fc float64) []float64 {
	h := make([]float64, taps)
	mid := (taps - 1) / 2
	var sum float64
	for n := range h {
		m := float64(n - mid)
		var v float64
		if m == 0 {
			v = 2 * fc
		} else {
			v = math.Sin(2*math.Pi*fc*m) / (math.Pi * m)
		}
		v *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/float64(taps-1))
		h[n] = v
		sum += v
	}
	for n := range h {
		h[n] /= sum
	}
	return h
}

// convolve applies kernel h centred on each sample. Positions outside the
// input contribute nothing.
func convolve(x []int16, h []float64) []float64 {
	mid := len(h) / 2
	y := make([]float64, len(x))
	for i := range x {
		var acc float64
		for k, c := range h {
			j := i + k - mid
			if j < 0 || j >= len(x) {
				continue
			}
			acc += c * float64(x[j])
		}
		y[i] = acc
	}
	return y
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
