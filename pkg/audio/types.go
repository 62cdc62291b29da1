package audio

import (
	"encoding/binary"
	"time"
)

// Frame is a single block of PCM audio flowing through the pipeline.
// Frames are the atomic unit of audio transport: read from the microphone,
// sent to the conversational endpoint, decoded from agent audio and pulled
// by the playback device.
type Frame struct {
	// Data holds signed 16-bit little-endian PCM. Inside the session pipeline
	// it is always mono.
	Data []byte

	// SampleRate in Hz (16000 for capture, negotiated for agent audio).
	SampleRate int

	// Channels is 1 for everything past the capture converter. Device glue
	// may deliver more and rely on [Converter] to downmix.
	Channels int

	// Timestamp marks when this frame was captured or received, relative to
	// stream start.
	Timestamp time.Duration
}

// Samples decodes the frame's PCM bytes. A trailing odd byte is ignored.
func (f Frame) Samples() []int16 {
	return DecodePCM16(f.Data)
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	if f.SampleRate <= 0 {
		return 0
	}
	n := len(f.Data) / (2 * ch)
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// FrameFromSamples builds a mono frame at rate from samples.
func FrameFromSamples(samples []int16, rate int) Frame {
	return Frame{Data: EncodePCM16(samples), SampleRate: rate, Channels: 1}
}

// EncodePCM16 converts samples to little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM16 converts little-endian bytes to samples.
func DecodePCM16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesPerFrame returns how many mono samples fit in d at rate.
func SamplesPerFrame(rate int, d time.Duration) int {
	return int(int64(rate) * int64(d) / int64(time.Second))
}
