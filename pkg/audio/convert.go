package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable format, e.g. "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Converter normalises frames from a device to mono at Target.SampleRate.
// Downsampling goes through [Resample]. A device that delivers a lower rate
// than requested is upsampled by linear interpolation with a one-time
// warning, so a misconfigured device degrades quality instead of stopping
// capture.
//
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Target Format
	Logger *slog.Logger

	warnedMismatch sync.Once
	warnedUpsample sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to mono at the target rate. If the source format
// already matches, the frame is returned unchanged (zero allocation). Frames
// with an odd byte count are dropped (empty Data).
func (c *Converter) Convert(frame Frame) Frame {
	log := c.logger()
	channels := max(frame.Channels, 1)

	if len(frame.Data)%(2*channels) != 0 {
		c.warnedCorrupt.Do(func() {
			log.Warn("audio converter: PCM data not aligned to frame size, dropping",
				"bytes", len(frame.Data),
				"format", formatString(frame.SampleRate, channels),
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: 1, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == c.Target.SampleRate && channels == 1 {
		return frame
	}

	c.warnedMismatch.Do(func() {
		log.Info("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, channels),
			"to", formatString(c.Target.SampleRate, 1),
		)
	})

	// Downmix first so the filter runs over one channel.
	pcm := frame.Data
	if channels > 1 {
		pcm = Downmix(pcm, channels)
	}

	samples := DecodePCM16(pcm)
	out, err := Resample(samples, frame.SampleRate, c.Target.SampleRate)
	if errors.Is(err, ErrUpsampleRequested) {
		c.warnedUpsample.Do(func() {
			log.Warn("audio converter: device rate below target, using linear upsampling",
				"device_rate", frame.SampleRate,
				"target_rate", c.Target.SampleRate,
			)
		})
		out = resampleLinear(samples, frame.SampleRate, c.Target.SampleRate)
	} else if err != nil {
		log.Warn("audio converter: resample failed, dropping frame", "err", err)
		return Frame{SampleRate: c.Target.SampleRate, Channels: 1, Timestamp: frame.Timestamp}
	}

	return Frame{
		Data:       EncodePCM16(out),
		SampleRate: c.Target.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

func (c *Converter) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Downmix averages interleaved channels into mono. Uses int32 arithmetic to
// prevent overflow.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := int16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// resampleLinear interpolates between neighbouring samples without
// filtering. Only used to raise the rate of an under-delivering device.
func resampleLinear(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
