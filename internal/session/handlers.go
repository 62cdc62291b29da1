package session

// Handlers receives conversation callbacks.
//
// Callbacks run on the goroutine that observed the event (the transport
// receive loop, the playback drain watcher, the fade timer) and must return
// quickly. Implementations must be safe for concurrent use.
type Handlers interface {
	// OnConnect is called once the handshake completed.
	OnConnect(conversationID string)

	// OnDisconnect is called at most once per session. err is nil when the
	// session was ended deliberately.
	OnDisconnect(err error)

	OnError(err error)
	OnDebug(d Debug)
	OnTranscript(t Transcript)
	OnModeChange(m Mode)
	OnStatusChange(s Status)

	// OnAudioFrame receives accepted agent audio as PCM16 at the agent rate.
	OnAudioFrame(pcm []byte)
}

// NopHandlers implements [Handlers] with no-ops. Embed it to override only
// the callbacks you need.
type NopHandlers struct{}

var _ Handlers = NopHandlers{}

func (NopHandlers) OnConnect(string)        {}
func (NopHandlers) OnDisconnect(error)      {}
func (NopHandlers) OnError(error)           {}
func (NopHandlers) OnDebug(Debug)           {}
func (NopHandlers) OnTranscript(Transcript) {}
func (NopHandlers) OnModeChange(Mode)       {}
func (NopHandlers) OnStatusChange(Status)   {}
func (NopHandlers) OnAudioFrame([]byte)     {}
