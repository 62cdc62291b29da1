// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for the voxface voice client.
package config

import (
	"os"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":9090"
	DefaultAPIKeyEnv     = "ELEVENLABS_API_KEY"
	DefaultSampleRate    = 16000
	DefaultFrameDuration = 20 * time.Millisecond
	DefaultFadeDuration  = 2 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 2 * time.Second
	DefaultRetryCap      = 30 * time.Second
	DefaultChunkBytes    = 6000
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Conversation ConversationConfig `yaml:"conversation"`
	Audio        AudioConfig        `yaml:"audio"`
	Avatar       AvatarConfig       `yaml:"avatar"`
	Providers    ProvidersConfig    `yaml:"providers"`
	PushToTalk   PushToTalkConfig   `yaml:"push_to_talk"`
}

// ServerConfig holds the ops HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat LogFormat `yaml:"log_format"`
}

// ConversationConfig selects the conversational agent and tunes the audio
// path of a session.
type ConversationConfig struct {
	// AgentID identifies the agent. Required unless push-to-talk is enabled.
	AgentID string `yaml:"agent_id"`

	// SignedURL requests a pre-signed URL from the REST API before every
	// connection attempt. Needed for private agents.
	SignedURL bool `yaml:"signed_url"`

	// APIKey is the ElevenLabs key. Takes precedence over APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the websocket origin.
	BaseURL string `yaml:"base_url"`

	// APIURL overrides the REST origin used for signed URLs.
	APIURL string `yaml:"api_url"`

	CaptureRate   int           `yaml:"capture_rate"`
	PlaybackRate  int           `yaml:"playback_rate"`
	FrameDuration time.Duration `yaml:"frame_duration"`
	FadeDuration  time.Duration `yaml:"fade_duration"`

	// HandshakeTimeout bounds the wait for conversation metadata.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// Volume is the playback gain in [0,1]. Nil means 1. Hot-reloadable.
	Volume *float64 `yaml:"volume"`

	Retry RetryConfig `yaml:"retry"`
}

// ResolveAPIKey returns APIKey, or the value of the APIKeyEnv variable.
func (c ConversationConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

// EffectiveVolume returns Volume, or 1 when unset.
func (c ConversationConfig) EffectiveVolume() float64 {
	if c.Volume == nil {
		return 1
	}
	return *c.Volume
}

// RetryConfig bounds reconnection attempts of the conversation and the
// avatar renderer. MaxRetries counts every attempt, the first one included.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// AudioConfig selects the local audio devices.
type AudioConfig struct {
	// InputFormat is the ffmpeg demuxer (pulse, alsa, avfoundation, dshow).
	// Empty selects the platform default.
	InputFormat string `yaml:"input_format"`

	// Device is the demuxer-specific capture device.
	Device string `yaml:"device"`

	// FFmpegBinary and FFplayBinary override the executables on PATH.
	FFmpegBinary string `yaml:"ffmpeg_binary"`
	FFplayBinary string `yaml:"ffplay_binary"`

	// DisablePlayback skips the speaker. Agent audio still reaches the
	// avatar.
	DisablePlayback bool `yaml:"disable_playback"`
}

// AvatarConfig describes the optional lip-sync renderer.
type AvatarConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`

	// ChunkBytes is the PCM chunk size forwarded per message.
	ChunkBytes int `yaml:"chunk_bytes"`

	// SampleRate is the PCM rate the renderer expects.
	SampleRate int `yaml:"sample_rate"`

	// Queue is the number of chunks buffered before dropping.
	Queue int `yaml:"queue"`

	// InitMessage is sent as the first text frame after connecting.
	InitMessage string `yaml:"init_message"`

	// Headers are added to the websocket upgrade request.
	Headers map[string]string `yaml:"headers"`
}

// ProvidersConfig declares the push-to-talk providers. Each entry selects a
// named provider registered in the [Registry]; fallbacks are tried in
// order when the primary fails.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`

	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names an environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific values, e.g. "voice" for elevenlabs or
	// "backend" for anyllm.
	Options map[string]any `yaml:"options"`
}

// Key returns APIKey, or the value of the APIKeyEnv variable.
func (e ProviderEntry) Key() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.APIKeyEnv != "" {
		return os.Getenv(e.APIKeyEnv)
	}
	return ""
}

// StringOption returns Options[key] when it is a string.
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// PushToTalkConfig enables the local STT → LLM → TTS mode that replaces the
// conversational agent.
type PushToTalkConfig struct {
	Enabled      bool    `yaml:"enabled"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`

	// MaxClip bounds one recording.
	MaxClip time.Duration `yaml:"max_clip"`
}

// ApplyDefaults fills unset fields with their defaults. Push-to-talk values
// are left to the pipeline's own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}

	c := &cfg.Conversation
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.CaptureRate == 0 {
		c.CaptureRate = DefaultSampleRate
	}
	if c.PlaybackRate == 0 {
		c.PlaybackRate = DefaultSampleRate
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.FadeDuration == 0 {
		c.FadeDuration = DefaultFadeDuration
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = DefaultMaxRetries
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = DefaultRetryBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = DefaultRetryCap
	}

	if cfg.Avatar.ChunkBytes == 0 {
		cfg.Avatar.ChunkBytes = DefaultChunkBytes
	}
	if cfg.Avatar.SampleRate == 0 {
		cfg.Avatar.SampleRate = DefaultSampleRate
	}
}
