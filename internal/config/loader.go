package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anyllm", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// Override mutates a decoded config before defaults and validation run.
// Command-line flags use it to take precedence over the file.
type Override func(*Config)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string, overrides ...Override) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, overrides...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies overrides and
// defaults and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader, overrides ...Override) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	for _, o := range overrides {
		o(cfg)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Conversation
	c := cfg.Conversation
	if !cfg.PushToTalk.Enabled && c.AgentID == "" {
		errs = append(errs, errors.New("conversation.agent_id is required unless push_to_talk is enabled"))
	}
	errs = appendRate(errs, "conversation.capture_rate", c.CaptureRate)
	errs = appendRate(errs, "conversation.playback_rate", c.PlaybackRate)
	if c.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("conversation.frame_duration %v must not be negative", c.FrameDuration))
	}
	if c.FadeDuration < 0 {
		errs = append(errs, fmt.Errorf("conversation.fade_duration %v must not be negative", c.FadeDuration))
	}
	if c.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.handshake_timeout %v must not be negative", c.HandshakeTimeout))
	}
	if c.Volume != nil && (*c.Volume < 0 || *c.Volume > 1) {
		errs = append(errs, fmt.Errorf("conversation.volume %.2f is out of range [0, 1]", *c.Volume))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("conversation.retry.max_retries %d must not be negative", c.Retry.MaxRetries))
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("conversation.retry backoff values must not be negative"))
	}
	if c.Retry.MaxBackoff > 0 && c.Retry.Backoff > c.Retry.MaxBackoff {
		errs = append(errs, fmt.Errorf("conversation.retry.backoff %v exceeds max_backoff %v", c.Retry.Backoff, c.Retry.MaxBackoff))
	}
	if c.SignedURL && !cfg.PushToTalk.Enabled && c.ResolveAPIKey() == "" {
		slog.Warn("conversation.signed_url is set but no API key is configured; signed URL requests will be rejected",
			"api_key_env", c.APIKeyEnv,
		)
	}

	// Avatar
	if cfg.Avatar.Enabled && cfg.Avatar.URL == "" {
		errs = append(errs, errors.New("avatar.url is required when avatar is enabled"))
	}
	if cfg.Avatar.ChunkBytes < 0 || cfg.Avatar.ChunkBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("avatar.chunk_bytes %d must be a positive multiple of 2", cfg.Avatar.ChunkBytes))
	}
	if cfg.Avatar.Queue < 0 {
		errs = append(errs, fmt.Errorf("avatar.queue %d must not be negative", cfg.Avatar.Queue))
	}
	errs = appendRate(errs, "avatar.sample_rate", cfg.Avatar.SampleRate)

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	errs = appendFallbacks(errs, "stt", cfg.Providers.STT, cfg.Providers.STTFallbacks)
	errs = appendFallbacks(errs, "llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)
	errs = appendFallbacks(errs, "tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks)

	// Push-to-talk ↔ provider cross-validation
	p := cfg.PushToTalk
	if p.Enabled {
		for kind, entry := range map[string]ProviderEntry{
			"stt": cfg.Providers.STT,
			"llm": cfg.Providers.LLM,
			"tts": cfg.Providers.TTS,
		} {
			if entry.Name == "" {
				errs = append(errs, fmt.Errorf("push_to_talk requires providers.%s to be configured", kind))
			}
		}
		if cfg.Audio.DisablePlayback && !cfg.Avatar.Enabled {
			errs = append(errs, errors.New("push_to_talk needs an output: enable playback or the avatar"))
		}
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("push_to_talk.max_tokens %d must not be negative", p.MaxTokens))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("push_to_talk.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.MaxClip < 0 {
		errs = append(errs, fmt.Errorf("push_to_talk.max_clip %v must not be negative", p.MaxClip))
	}

	return errors.Join(errs...)
}

// appendRate rejects sample rates outside the range the resampler and the
// agent formats cover. Zero is accepted as "default".
func appendRate(errs []error, field string, rate int) []error {
	if rate == 0 || (rate >= 8000 && rate <= 48000) {
		return errs
	}
	return append(errs, fmt.Errorf("%s %d is out of range [8000, 48000]", field, rate))
}

func appendFallbacks(errs []error, kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	if len(fallbacks) > 0 && primary.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s", kind, kind))
	}
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
