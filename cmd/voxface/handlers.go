package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxface/internal/session"
)

// consoleHandlers logs session callbacks and prints transcripts for the
// person at the keyboard.
type consoleHandlers struct {
	log *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

var _ session.Handlers = (*consoleHandlers)(nil)

func newConsoleHandlers(log *slog.Logger, out io.Writer) *consoleHandlers {
	return &consoleHandlers{log: log, out: out}
}

func (h *consoleHandlers) OnConnect(conversationID string) {
	h.log.Info("conversation connected", "conversation_id", conversationID)
}

func (h *consoleHandlers) OnDisconnect(err error) {
	if err != nil {
		h.log.Warn("conversation disconnected", "err", err)
		return
	}
	h.log.Info("conversation ended")
}

func (h *consoleHandlers) OnError(err error) {
	h.log.Error("conversation error", "err", err)
}

func (h *consoleHandlers) OnDebug(d session.Debug) {
	h.log.Debug("conversation debug", "type", d.Type, "text", d.Text, "err", d.Err)
}

func (h *consoleHandlers) OnTranscript(t session.Transcript) {
	who := "you"
	if t.Source == session.SourceAI {
		who = "agent"
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, "%6s: %s\n", who, t.Text)
}

func (h *consoleHandlers) OnModeChange(m session.Mode) {
	h.log.Debug("mode changed", "mode", m)
}

func (h *consoleHandlers) OnStatusChange(s session.Status) {
	h.log.Debug("status changed", "status", s)
}

func (h *consoleHandlers) OnAudioFrame([]byte) {}
