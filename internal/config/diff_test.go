package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxface/internal/config"
)

func ptr[T any](v T) *T { return &v }

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":9090", LogLevel: config.LogInfo},
		Conversation: config.ConversationConfig{
			AgentID: "agent",
			Volume:  ptr(0.8),
		},
		Avatar: config.AvatarConfig{
			Enabled: true,
			URL:     "wss://avatar",
			Headers: map[string]string{"X-Key": "k"},
		},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Options: map[string]any{"backend": "x"}},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes for equal configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not need a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_VolumeChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		old, new   *float64
		wantChange bool
		wantVolume float64
	}{
		{"lowered", ptr(0.8), ptr(0.2), true, 0.2},
		{"muted", ptr(0.8), ptr(0.0), true, 0},
		{"unset means full", ptr(0.8), nil, true, 1},
		{"same value different pointer", ptr(0.8), ptr(0.8), false, 0},
		{"explicit full equals unset", nil, ptr(1.0), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			old.Conversation.Volume = tt.old
			new.Conversation.Volume = tt.new

			d := config.Diff(old, new)
			if d.VolumeChanged != tt.wantChange {
				t.Fatalf("VolumeChanged = %v, want %v", d.VolumeChanged, tt.wantChange)
			}
			if tt.wantChange && d.NewVolume != tt.wantVolume {
				t.Errorf("NewVolume = %v, want %v", d.NewVolume, tt.wantVolume)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("volume alone should not need a restart, got %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		section string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"agent", func(c *config.Config) { c.Conversation.AgentID = "other" }, "conversation"},
		{"retry", func(c *config.Config) { c.Conversation.Retry.MaxRetries = 9 }, "conversation"},
		{"device", func(c *config.Config) { c.Audio.Device = "hw:2" }, "audio"},
		{"avatar header", func(c *config.Config) { c.Avatar.Headers["X-Key"] = "other" }, "avatar"},
		{"provider option", func(c *config.Config) { c.Providers.LLM.Options["backend"] = "y" }, "providers"},
		{"push to talk", func(c *config.Config) { c.PushToTalk.MaxTokens = 10 }, "push_to_talk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !slices.Equal(d.RestartRequired, []string{tt.section}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tt.section)
			}
			if d.LogLevelChanged || d.VolumeChanged {
				t.Errorf("unexpected live change: %+v", d)
			}
		})
	}
}
