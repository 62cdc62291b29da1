// Package ffmpeg implements [audio.Microphone] and [audio.Speaker] on top of
// the ffmpeg and ffplay command-line tools. Capture runs
// `ffmpeg -f <input> -i <device> ... -f s16le -` and reads raw PCM from its
// stdout; playback pipes raw PCM into `ffplay -nodisp -f s16le -i -`.
//
// Both binaries must be on PATH (or configured explicitly).
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/voxface/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
)

// Microphone captures from a system input device through ffmpeg.
type Microphone struct {
	// Binary is the ffmpeg executable. Default "ffmpeg".
	Binary string

	// InputFormat is the ffmpeg demuxer (pulse, alsa, avfoundation, dshow).
	// Empty selects the platform default.
	InputFormat string

	// Device is the demuxer-specific device name. Empty selects the
	// platform default.
	Device string

	Logger *slog.Logger
}

// MicArgs builds the ffmpeg argument list for capturing f from device.
func MicArgs(goos, inputFormat, device string, f audio.Format) ([]string, error) {
	if inputFormat == "" || device == "" {
		defFormat, defDevice, err := defaultInput(goos)
		if err != nil {
			return nil, err
		}
		if inputFormat == "" {
			inputFormat = defFormat
		}
		if device == "" {
			device = defDevice
		}
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", inputFormat, "-i", device,
		"-ac", strconv.Itoa(max(f.Channels, 1)),
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le", "-",
	}, nil
}

func defaultInput(goos string) (format, device string, err error) {
	switch goos {
	case "linux":
		return "pulse", "default", nil
	case "darwin":
		return "avfoundation", ":0", nil
	default:
		return "", "", fmt.Errorf("ffmpeg: no default capture device for %s; configure input format and device", goos)
	}
}

// Open starts ffmpeg and blocks until the first audio arrives, the process
// exits, or ctx is done. An early exit is classified from ffmpeg's stderr
// into an [*audio.DeviceUnavailableError].
func (m *Microphone) Open(ctx context.Context, want audio.Format) (audio.InputStream, error) {
	bin := m.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}

	if _, err := exec.LookPath(bin); err != nil {
		return nil, &audio.DeviceUnavailableError{Reason: audio.ReasonNotFound, Device: bin, Err: err}
	}
	args, err := MicArgs(runtime.GOOS, m.InputFormat, m.Device, want)
	if err != nil {
		return nil, &audio.DeviceUnavailableError{Reason: audio.ReasonNotFound, Device: m.Device, Err: err}
	}

	cmd := exec.Command(bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, &audio.DeviceUnavailableError{Reason: audio.ReasonNotFound, Device: bin, Err: err}
	}
	log.Debug("ffmpeg: capture started", "pid", cmd.Process.Pid, "args", strings.Join(args, " "))

	s := &inputStream{cmd: cmd, r: bufio.NewReaderSize(stdout, 8192), format: audio.Format{SampleRate: want.SampleRate, Channels: max(want.Channels, 1)}}

	ready := make(chan error, 1)
	go func() {
		_, err := s.r.Peek(1)
		ready <- err
	}()

	select {
	case err := <-ready:
		if err == nil {
			return s, nil
		}
		_ = cmd.Wait()
		msg := stderr.String()
		device := m.Device
		if device == "" {
			device = "default"
		}
		return nil, &audio.DeviceUnavailableError{
			Reason: Classify(msg),
			Device: device,
			Err:    fmt.Errorf("ffmpeg exited: %s", strings.TrimSpace(msg)),
		}
	case <-ctx.Done():
		s.Close()
		<-ready
		return nil, ctx.Err()
	}
}

// Classify maps ffmpeg's stderr output to an unavailability reason.
func Classify(stderr string) audio.UnavailableReason {
	lower := strings.ToLower(stderr)
	for _, marker := range []string{
		"permission denied",
		"operation not permitted",
		"not authorized",
		"access denied",
		"access is denied",
	} {
		if strings.Contains(lower, marker) {
			return audio.ReasonPermissionDenied
		}
	}
	return audio.ReasonNotFound
}

type inputStream struct {
	cmd    *exec.Cmd
	r      *bufio.Reader
	format audio.Format

	once sync.Once
}

func (s *inputStream) Format() audio.Format { return s.format }

func (s *inputStream) Read(p []byte) (int, error) { return s.r.Read(p) }

// Close kills ffmpeg and reaps it. The exit status of a killed process is
// not an error.
func (s *inputStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}

// Speaker plays through ffplay.
type Speaker struct {
	// Binary is the ffplay executable. Default "ffplay".
	Binary string

	// Volume is ffplay's -volume (0..100). Zero means 100.
	Volume int

	Logger *slog.Logger
}

// SpeakerArgs builds the ffplay argument list for playing f from stdin.
func SpeakerArgs(f audio.Format, volume int) []string {
	layout := "mono"
	if f.Channels == 2 {
		layout = "stereo"
	}
	if volume <= 0 || volume > 100 {
		volume = 100
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostats",
		"-volume", strconv.Itoa(volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", strconv.Itoa(f.SampleRate),
		"-i", "-",
	}
}

// Open starts ffplay with f as the input format.
func (sp *Speaker) Open(_ context.Context, f audio.Format) (audio.OutputStream, error) {
	bin := sp.Binary
	if bin == "" {
		bin = "ffplay"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, &audio.DeviceUnavailableError{Reason: audio.ReasonNotFound, Device: bin, Err: err}
	}

	args := SpeakerArgs(f, sp.Volume)
	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffplay: stdin pipe: %w", err)
	}
	cmd.Stdout = io.Discard
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, &audio.DeviceUnavailableError{Reason: audio.ReasonNotFound, Device: bin, Err: err}
	}
	log := sp.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Debug("ffplay: playback started", "pid", cmd.Process.Pid, "format", f.String())
	return &outputStream{cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

type outputStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	once sync.Once
}

func (o *outputStream) Write(p []byte) (int, error) {
	n, err := o.stdin.Write(p)
	if err != nil {
		if msg := strings.TrimSpace(o.stderr.String()); msg != "" {
			return n, fmt.Errorf("ffplay: %w (%s)", err, msg)
		}
		return n, fmt.Errorf("ffplay: %w", err)
	}
	return n, nil
}

func (o *outputStream) Close() error {
	var err error
	o.once.Do(func() {
		err = o.stdin.Close()
		if errors.Is(err, io.ErrClosedPipe) {
			err = nil
		}
		if o.cmd.Process != nil {
			_ = o.cmd.Process.Kill()
		}
		_ = o.cmd.Wait()
	})
	return err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
